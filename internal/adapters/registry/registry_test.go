package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/orchestra/internal/domain"
)

type fakeConn struct {
	closed int
	err    error
}

func (c *fakeConn) Call(ctx context.Context, serviceID string, params map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return c.err
}

func descriptor(id string) domain.ModuleDescriptor {
	return domain.ModuleDescriptor{
		ModuleID:   id,
		ModuleName: "module " + id,
		Status:     domain.ModuleStatusActive,
		Services:   []domain.ServiceDescriptor{{ServiceID: "echo"}},
	}
}

func TestValidateDescriptor(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.ModuleDescriptor)
		valid  bool
	}{
		{"valid", func(d *domain.ModuleDescriptor) {}, true},
		{"missing id", func(d *domain.ModuleDescriptor) { d.ModuleID = "" }, false},
		{"blank name", func(d *domain.ModuleDescriptor) { d.ModuleName = "  " }, false},
		{"no services", func(d *domain.ModuleDescriptor) { d.Services = nil }, false},
		{"empty service id", func(d *domain.ModuleDescriptor) { d.Services = []domain.ServiceDescriptor{{}} }, false},
		{"duplicate service", func(d *domain.ModuleDescriptor) {
			d.Services = append(d.Services, domain.ServiceDescriptor{ServiceID: "echo"})
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := descriptor("m1")
			tt.mutate(&d)
			err := ValidateDescriptor(d)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.ErrorKindInvalidModule))
		})
	}
}

func TestModuleRegistryAddAndGet(t *testing.T) {
	r := NewModuleRegistry(nil)

	require.NoError(t, r.Add(descriptor("m1")))
	err := r.Add(descriptor("m1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidModule))

	got, ok := r.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "module m1", got.ModuleName)

	got.Services[0].ServiceID = "mutated"
	again, _ := r.Get("m1")
	assert.Equal(t, "echo", again.Services[0].ServiceID)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestModuleRegistryListFiltersAndSorts(t *testing.T) {
	r := NewModuleRegistry(nil)
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Add(descriptor(id)))
	}
	require.NoError(t, r.SetStatus("b", domain.ModuleStatusInactive))

	active := r.List(domain.ModuleStatusActive)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ModuleID)
	assert.Equal(t, "c", active[1].ModuleID)

	assert.Len(t, r.List(""), 3)
	assert.Equal(t, 3, r.Count())
}

func TestModuleRegistryHeartbeat(t *testing.T) {
	r := NewModuleRegistry(nil)
	require.NoError(t, r.Add(descriptor("m1")))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, r.Heartbeat("m1", at))

	got, _ := r.Get("m1")
	assert.Equal(t, at, got.LastHeartbeat)

	assert.True(t, domain.IsModuleNotFound(r.Heartbeat("nope", at)))
	assert.True(t, domain.IsModuleNotFound(r.SetStatus("nope", domain.ModuleStatusActive)))
}

func TestModuleRegistryConcurrentAdd(t *testing.T) {
	r := NewModuleRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Add(descriptor(fmt.Sprintf("m%d", i%10)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Count())
}

func TestConnectionTableLifecycle(t *testing.T) {
	table := NewConnectionTable(nil)
	conn := &fakeConn{}

	_, err := table.Acquire("m1")
	assert.True(t, domain.IsKind(err, domain.ErrorKindConnectionNotFound))

	table.Put("m1", "inproc://m1", conn)
	got, err := table.Acquire("m1")
	require.NoError(t, err)
	assert.Same(t, conn, got)

	info, ok := table.Info("m1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionConnected, info.Status)
	assert.Equal(t, "inproc://m1", info.Endpoint)

	require.NoError(t, table.Disconnect("m1"))
	assert.Equal(t, 1, conn.closed)

	info, _ = table.Info("m1")
	assert.Equal(t, domain.ConnectionDisconnected, info.Status)

	_, err = table.Acquire("m1")
	assert.Error(t, err)

	require.NoError(t, table.Disconnect("m1"))
	assert.Equal(t, 1, conn.closed)
}

func TestConnectionTableReplaceClosesPrevious(t *testing.T) {
	table := NewConnectionTable(nil)
	first, second := &fakeConn{}, &fakeConn{}

	table.Put("m1", "a", first)
	table.Put("m1", "b", second)

	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 0, second.closed)
	assert.Len(t, table.List(), 1)
}

func TestConnectionTableCloseAll(t *testing.T) {
	table := NewConnectionTable(nil)
	bad := &fakeConn{err: errors.New("close failed")}
	table.Put("a", "a", &fakeConn{})
	table.Put("b", "b", bad)

	err := table.CloseAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")

	for _, c := range table.List() {
		assert.Equal(t, domain.ConnectionDisconnected, c.Status)
	}
}
