package ports

import (
	"context"

	"github.com/eleven-am/orchestra/internal/domain"
)

type HealthReport struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// HealthProbe checks a module before it is admitted to the registry.
type HealthProbe interface {
	Check(ctx context.Context, module domain.ModuleDescriptor) (HealthReport, error)
}

// HealthProbeFunc adapts a function to HealthProbe.
type HealthProbeFunc func(ctx context.Context, module domain.ModuleDescriptor) (HealthReport, error)

func (f HealthProbeFunc) Check(ctx context.Context, module domain.ModuleDescriptor) (HealthReport, error) {
	return f(ctx, module)
}
