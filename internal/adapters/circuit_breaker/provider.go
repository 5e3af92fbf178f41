package circuit_breaker

import (
	"log/slog"
	"sync"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// Provider hands out one breaker per module id.
type Provider struct {
	mu       sync.RWMutex
	config   domain.CircuitBreakerConfig
	breakers map[string]ports.CircuitBreaker
	logger   *slog.Logger
}

func NewProvider(config domain.CircuitBreakerConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config:   config,
		breakers: make(map[string]ports.CircuitBreaker),
		logger:   logger,
	}
}

// ForModule returns the module's breaker, or nil when breakers are disabled.
func (p *Provider) ForModule(moduleID string) ports.CircuitBreaker {
	if p == nil || p.config.Disabled {
		return nil
	}

	p.mu.RLock()
	breaker, exists := p.breakers[moduleID]
	p.mu.RUnlock()
	if exists {
		return breaker
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.breakers[moduleID]; exists {
		return existing
	}

	breaker = NewCircuitBreaker(moduleID, p.config, p.logger)
	p.breakers[moduleID] = breaker
	p.logger.Debug("created circuit breaker", "module_id", moduleID, "failure_threshold", p.config.FailureThreshold)
	return breaker
}

func (p *Provider) Metrics() map[string]ports.CircuitBreakerMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	metrics := make(map[string]ports.CircuitBreakerMetrics, len(p.breakers))
	for moduleID, breaker := range p.breakers {
		metrics[moduleID] = breaker.Metrics()
	}
	return metrics
}
