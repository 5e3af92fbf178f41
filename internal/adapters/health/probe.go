package health

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// Static reports the same answer for every module.
func Static(healthy bool, reason string) ports.HealthProbe {
	return ports.HealthProbeFunc(func(ctx context.Context, module domain.ModuleDescriptor) (ports.HealthReport, error) {
		return ports.HealthReport{Healthy: healthy, Reason: reason}, nil
	})
}

// SchemeProbe picks a probe by the scheme of the module's first endpoint. A
// module whose first endpoint is empty is served in-process and gets the
// fallback, matching the coordinator's endpoint choice.
type SchemeProbe struct {
	mu       sync.RWMutex
	probes   map[string]ports.HealthProbe
	fallback ports.HealthProbe
	logger   *slog.Logger
}

func NewSchemeProbe(fallback ports.HealthProbe, logger *slog.Logger) *SchemeProbe {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = Static(true, "")
	}

	return &SchemeProbe{
		probes:   make(map[string]ports.HealthProbe),
		fallback: fallback,
		logger:   logger.With("component", "health-probe"),
	}
}

func (p *SchemeProbe) Register(scheme string, probe ports.HealthProbe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[scheme] = probe
}

func (p *SchemeProbe) Check(ctx context.Context, module domain.ModuleDescriptor) (ports.HealthReport, error) {
	probe := p.fallback
	scheme := ""
	if len(module.Endpoints) > 0 && module.Endpoints[0] != "" {
		scheme, _ = domain.ParseEndpoint(module.Endpoints[0])
		p.mu.RLock()
		if registered, ok := p.probes[scheme]; ok {
			probe = registered
		}
		p.mu.RUnlock()
	}

	report, err := probe.Check(ctx, module)
	if err != nil {
		p.logger.Warn("health probe failed", "module_id", module.ModuleID, "scheme", scheme, "error", err)
		return report, err
	}
	if !report.Healthy {
		p.logger.Info("module reported unhealthy", "module_id", module.ModuleID, "reason", report.Reason)
	}
	return report, nil
}
