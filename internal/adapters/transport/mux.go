package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// Mux routes Connect to a transport chosen by the endpoint scheme.
type Mux struct {
	mu         sync.RWMutex
	transports map[string]ports.Transport
}

func NewMux() *Mux {
	return &Mux{transports: make(map[string]ports.Transport)}
}

func (m *Mux) Register(scheme string, t ports.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[scheme] = t
}

func (m *Mux) Connect(ctx context.Context, moduleID, endpoint string) (ports.ServiceConn, error) {
	scheme, _ := domain.ParseEndpoint(endpoint)

	m.mu.RLock()
	t, ok := m.transports[scheme]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no transport registered for scheme %q (endpoint %s)", scheme, endpoint)
	}
	return t.Connect(ctx, moduleID, endpoint)
}
