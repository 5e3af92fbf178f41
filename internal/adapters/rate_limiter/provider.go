package rate_limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/eleven-am/orchestra/internal/domain"
)

// Provider hands out one token-bucket limiter per module. A non-positive
// rate disables limiting and Wait returns immediately.
type Provider struct {
	mu       sync.RWMutex
	config   domain.RateLimitConfig
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
}

func NewProvider(config domain.RateLimitConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Burst <= 0 {
		config.Burst = int(config.RequestsPerSecond)
		if config.Burst < 1 {
			config.Burst = 1
		}
	}

	return &Provider{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With("component", "rate-limiter-provider"),
	}
}

func (p *Provider) Enabled() bool {
	return p != nil && p.config.RequestsPerSecond > 0
}

func (p *Provider) limiter(moduleID string) *rate.Limiter {
	p.mu.RLock()
	limiter, exists := p.limiters[moduleID]
	p.mu.RUnlock()
	if exists {
		return limiter
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.limiters[moduleID]; exists {
		return existing
	}

	limiter = rate.NewLimiter(rate.Limit(p.config.RequestsPerSecond), p.config.Burst)
	p.limiters[moduleID] = limiter
	p.logger.Debug("created rate limiter", "module_id", moduleID, "rps", p.config.RequestsPerSecond, "burst", p.config.Burst)
	return limiter
}

// Wait blocks until the module may be called or ctx ends.
func (p *Provider) Wait(ctx context.Context, moduleID string) error {
	if !p.Enabled() {
		return nil
	}
	if err := p.limiter(moduleID).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for module %s: %w", moduleID, err)
	}
	return nil
}

// Allow reports whether a call may proceed now without waiting.
func (p *Provider) Allow(moduleID string) bool {
	if !p.Enabled() {
		return true
	}
	return p.limiter(moduleID).Allow()
}
