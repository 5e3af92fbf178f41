package transport

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// LocalTransport serves modules that live in the same process. Handlers are
// resolved at call time, so services may be bound after registration.
type LocalTransport struct {
	handlers *handlerSet
	logger   *slog.Logger
}

func NewLocalTransport(logger *slog.Logger) *LocalTransport {
	if logger == nil {
		logger = slog.Default()
	}

	return &LocalTransport{
		handlers: newHandlerSet(),
		logger:   logger.With("component", "transport", "adapter", "local"),
	}
}

func (t *LocalTransport) Handle(moduleID, serviceID string, fn HandlerFunc) {
	t.handlers.bind(moduleID, serviceID, fn)
	t.logger.Debug("service handler bound", "module_id", moduleID, "service_id", serviceID)
}

func (t *LocalTransport) Connect(ctx context.Context, moduleID, endpoint string) (ports.ServiceConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &localConn{transport: t, moduleID: moduleID}, nil
}

type localConn struct {
	transport *LocalTransport
	moduleID  string
	closed    atomic.Bool
}

func (c *localConn) Call(ctx context.Context, serviceID string, params map[string]interface{}) (interface{}, error) {
	if c.closed.Load() {
		return nil, domain.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fn, err := c.transport.handlers.lookup(c.moduleID, serviceID)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, fn, params)
}

func (c *localConn) Close() error {
	c.closed.Store(true)
	return nil
}
