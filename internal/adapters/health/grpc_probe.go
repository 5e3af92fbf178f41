package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

// GRPCProbe asks a module's endpoint through the standard gRPC health
// protocol. The module id is checked first; servers that do not know it are
// asked for their overall status.
type GRPCProbe struct {
	timeout  time.Duration
	dialOpts []grpc.DialOption
	logger   *slog.Logger
}

func NewGRPCProbe(timeout time.Duration, logger *slog.Logger, opts ...grpc.DialOption) *GRPCProbe {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	return &GRPCProbe{
		timeout:  timeout,
		dialOpts: dialOpts,
		logger:   logger.With("component", "grpc-health-probe"),
	}
}

func (p *GRPCProbe) Check(ctx context.Context, module domain.ModuleDescriptor) (ports.HealthReport, error) {
	if len(module.Endpoints) == 0 {
		return ports.HealthReport{Healthy: false, Reason: "module has no endpoints"}, nil
	}
	_, address := domain.ParseEndpoint(module.Endpoints[0])

	conn, err := grpc.NewClient(address, p.dialOpts...)
	if err != nil {
		return ports.HealthReport{}, fmt.Errorf("create health client for %s: %w", address, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: module.ModuleID})
	if status.Code(err) == codes.NotFound {
		p.logger.Debug("module service unknown to health server, checking server status", "module_id", module.ModuleID)
		resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	}
	if err != nil {
		return ports.HealthReport{}, fmt.Errorf("health check %s: %w", address, err)
	}

	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return ports.HealthReport{Healthy: false, Reason: resp.GetStatus().String()}, nil
	}
	return ports.HealthReport{Healthy: true}, nil
}
