package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

type connEntry struct {
	info domain.Connection
	conn ports.ServiceConn
}

// ConnectionTable holds exactly one live connection per module.
type ConnectionTable struct {
	conns  map[string]*connEntry
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewConnectionTable(logger *slog.Logger) *ConnectionTable {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConnectionTable{
		conns:  make(map[string]*connEntry),
		logger: logger.With("component", "registry", "type", "connections"),
	}
}

// Put stores conn for the module, closing any connection it replaces.
func (t *ConnectionTable) Put(moduleID, endpoint string, conn ports.ServiceConn) {
	t.mu.Lock()
	prev := t.conns[moduleID]
	t.conns[moduleID] = &connEntry{
		info: domain.Connection{
			ModuleID: moduleID,
			Endpoint: endpoint,
			Status:   domain.ConnectionConnected,
			LastUsed: time.Now(),
		},
		conn: conn,
	}
	t.mu.Unlock()

	if prev != nil && prev.conn != nil && prev.conn != conn {
		if err := prev.conn.Close(); err != nil {
			t.logger.Warn("failed to close replaced connection", "module_id", moduleID, "error", err)
		}
	}
	t.logger.Debug("connection established", "module_id", moduleID, "endpoint", endpoint)
}

// Acquire returns the module's connection and stamps LastUsed. Disconnected
// entries are reported as missing.
func (t *ConnectionTable) Acquire(moduleID string) (ports.ServiceConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.conns[moduleID]
	if !exists || entry.info.Status != domain.ConnectionConnected || entry.conn == nil {
		return nil, domain.NewConnectionNotFoundError(moduleID)
	}
	entry.info.LastUsed = time.Now()
	return entry.conn, nil
}

func (t *ConnectionTable) Info(moduleID string) (domain.Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, exists := t.conns[moduleID]
	if !exists {
		return domain.Connection{}, false
	}
	return entry.info, true
}

// Disconnect closes the module's connection and keeps the entry as disconnected.
func (t *ConnectionTable) Disconnect(moduleID string) error {
	t.mu.Lock()
	entry, exists := t.conns[moduleID]
	if !exists {
		t.mu.Unlock()
		return domain.NewConnectionNotFoundError(moduleID)
	}
	conn := entry.conn
	entry.conn = nil
	entry.info.Status = domain.ConnectionDisconnected
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	t.logger.Info("connection closed", "module_id", moduleID)
	return conn.Close()
}

func (t *ConnectionTable) List() []domain.Connection {
	t.mu.RLock()
	out := make([]domain.Connection, 0, len(t.conns))
	for _, entry := range t.conns {
		out = append(out, entry.info)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out
}

// CloseAll disconnects every module and joins the close errors.
func (t *ConnectionTable) CloseAll() error {
	t.mu.RLock()
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := t.Disconnect(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
