package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/orchestra/internal/adapters/circuit_breaker"
	"github.com/eleven-am/orchestra/internal/adapters/health"
	"github.com/eleven-am/orchestra/internal/adapters/rate_limiter"
	"github.com/eleven-am/orchestra/internal/adapters/registry"
	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// Dependencies are the collaborators a Coordinator talks to. Transport is
// required; the rest fall back to permissive defaults.
type Dependencies struct {
	Transport ports.Transport
	Probe     ports.HealthProbe
	Breakers  *circuit_breaker.Provider
	Limiter   *rate_limiter.Provider
	Logger    *slog.Logger
}

// Coordinator owns the module registry, one connection per module, the
// in-flight request table and the failed-operation table.
type Coordinator struct {
	config      domain.CoordinatorConfig
	modules     *registry.ModuleRegistry
	connections *registry.ConnectionTable
	transport   ports.Transport
	probe       ports.HealthProbe
	breakers    *circuit_breaker.Provider
	limiter     *rate_limiter.Provider
	logger      *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	failedMu sync.Mutex
	failed   map[string]*domain.FailedOperation

	closeMu sync.RWMutex
	closed  bool
}

type pendingRequest struct {
	request domain.ServiceRequest
	cancel  context.CancelFunc
}

func New(config domain.CoordinatorConfig, deps Dependencies) (*Coordinator, error) {
	if deps.Transport == nil {
		return nil, domain.NewInvalidConfigError("coordinator.transport", "a transport is required")
	}
	if err := config.Retry.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Probe == nil {
		deps.Probe = health.Static(true, "")
	}
	if config.FallbackScheme == "" {
		config.FallbackScheme = domain.SchemeInProcess
	}

	return &Coordinator{
		config:      config,
		modules:     registry.NewModuleRegistry(logger),
		connections: registry.NewConnectionTable(logger),
		transport:   deps.Transport,
		probe:       deps.Probe,
		breakers:    deps.Breakers,
		limiter:     deps.Limiter,
		logger:      logger.With("component", "coordinator"),
		pending:     make(map[string]*pendingRequest),
		failed:      make(map[string]*domain.FailedOperation),
	}, nil
}

func (c *Coordinator) isClosed() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	return c.closed
}

// RegisterModule admits a module after it passes validation and its health
// probe, then opens its connection. Nothing is stored when any step fails.
func (c *Coordinator) RegisterModule(ctx context.Context, desc domain.ModuleDescriptor) error {
	if c.isClosed() {
		return domain.ErrClosed
	}
	if err := registry.ValidateDescriptor(desc); err != nil {
		return err
	}
	if c.modules.Has(desc.ModuleID) {
		return domain.NewInvalidModuleError(desc.ModuleID, "module already registered")
	}

	if err := c.checkHealth(ctx, desc); err != nil {
		c.logger.Warn("module rejected by health check", append([]any{"module_id", desc.ModuleID}, errorLogAttrs(err)...)...)
		return err
	}

	endpoint := c.endpointFor(desc)
	conn, err := c.transport.Connect(ctx, desc.ModuleID, endpoint)
	if err != nil {
		return domain.NewHealthCheckFailedError(desc.ModuleID, "unable to connect to "+endpoint, err)
	}

	now := time.Now()
	stored := desc.Clone()
	stored.Status = domain.ModuleStatusActive
	stored.RegisteredAt = now
	stored.LastHeartbeat = now
	if len(stored.Endpoints) == 0 {
		stored.Endpoints = []string{endpoint}
	}

	if err := c.modules.Add(stored); err != nil {
		_ = conn.Close()
		return err
	}
	c.connections.Put(stored.ModuleID, endpoint, conn)

	c.logger.Info("module registered",
		"module_id", stored.ModuleID,
		"module_name", stored.ModuleName,
		"endpoint", endpoint,
		"services", len(stored.Services))
	return nil
}

func (c *Coordinator) checkHealth(ctx context.Context, desc domain.ModuleDescriptor) error {
	if c.config.HealthCheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HealthCheckTimeout)
		defer cancel()
	}

	report, err := c.probe.Check(ctx, desc)
	if err != nil {
		return domain.NewHealthCheckFailedError(desc.ModuleID, err.Error(), err)
	}
	if !report.Healthy {
		reason := report.Reason
		if reason == "" {
			reason = "module reported unhealthy"
		}
		return domain.NewHealthCheckFailedError(desc.ModuleID, reason, nil)
	}
	return nil
}

func (c *Coordinator) endpointFor(desc domain.ModuleDescriptor) string {
	if len(desc.Endpoints) > 0 && desc.Endpoints[0] != "" {
		return desc.Endpoints[0]
	}
	return fmt.Sprintf("%s://%s", c.config.FallbackScheme, desc.ModuleID)
}

// DiscoverModules returns a snapshot of the active modules, sorted by id.
func (c *Coordinator) DiscoverModules() []domain.ModuleDescriptor {
	return c.modules.List(domain.ModuleStatusActive)
}

func (c *Coordinator) GetModule(moduleID string) (domain.ModuleDescriptor, error) {
	desc, ok := c.modules.Get(moduleID)
	if !ok {
		return domain.ModuleDescriptor{}, domain.NewModuleNotFoundError(moduleID)
	}
	return desc, nil
}

func (c *Coordinator) Heartbeat(moduleID string) error {
	return c.modules.Heartbeat(moduleID, time.Now())
}

// DeactivateModule marks the module inactive and closes its connection. The
// descriptor stays in the registry.
func (c *Coordinator) DeactivateModule(moduleID string) error {
	if err := c.modules.SetStatus(moduleID, domain.ModuleStatusInactive); err != nil {
		return err
	}
	if err := c.connections.Disconnect(moduleID); err != nil && !domain.IsKind(err, domain.ErrorKindConnectionNotFound) {
		c.logger.Warn("failed to close module connection", append([]any{"module_id", moduleID}, errorLogAttrs(err)...)...)
	}
	return nil
}

func (c *Coordinator) Connections() []domain.Connection {
	return c.connections.List()
}

// BreakerState reports the module's circuit state; closed when breakers are
// disabled.
func (c *Coordinator) BreakerState(moduleID string) ports.CircuitBreakerState {
	if b := c.breakers.ForModule(moduleID); b != nil {
		return b.State()
	}
	return ports.StateClosed
}

// Close cancels in-flight requests and closes every connection.
func (c *Coordinator) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.pendingMu.Lock()
	for _, p := range c.pending {
		p.cancel()
	}
	c.pendingMu.Unlock()

	err := c.connections.CloseAll()
	c.logger.Info("coordinator closed")
	return err
}
