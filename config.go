package orchestra

import (
	"log/slog"

	"google.golang.org/grpc"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

type Config = domain.Config

type CoordinatorConfig = domain.CoordinatorConfig

type SchedulerConfig = domain.SchedulerConfig

type CircuitBreakerConfig = domain.CircuitBreakerConfig

type RateLimitConfig = domain.RateLimitConfig

type HistoryConfig = domain.HistoryConfig

type TransportConfig = domain.TransportConfig

// Transport opens connections to module endpoints of one scheme.
type Transport = ports.Transport

// ServiceConn is a live binding to one module.
type ServiceConn = ports.ServiceConn

const (
	SchemeInProcess = domain.SchemeInProcess
	SchemeGRPC      = domain.SchemeGRPC
)

// DefaultConfig returns a configuration with every field set.
func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// LoadConfig reads a YAML or JSON file and fills the fields it leaves unset
// from DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	return domain.LoadConfig(path)
}

// LoadWorkflowDefinition reads a workflow definition from a YAML or JSON file.
func LoadWorkflowDefinition(path string) (*WorkflowDefinition, error) {
	return domain.LoadWorkflowDefinition(path)
}

// ParseWorkflowDefinition decodes a workflow definition; format is "yaml"
// or "json".
func ParseWorkflowDefinition(data []byte, format string) (*WorkflowDefinition, error) {
	return domain.ParseWorkflowDefinition(data, format)
}

type options struct {
	logger     *slog.Logger
	executor   StageExecutor
	probes     map[string]HealthProbe
	transports map[string]Transport
	dialOpts   []grpc.DialOption
	serverOpts []grpc.ServerOption
}

// Option customizes a Manager or a ModuleServer.
type Option func(*options)

func applyOptions(opts []Option) *options {
	o := &options{
		probes:     make(map[string]HealthProbe),
		transports: make(map[string]Transport),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger overrides Config.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStageExecutor replaces the coordinator-backed stage executor.
func WithStageExecutor(executor StageExecutor) Option {
	return func(o *options) {
		o.executor = executor
	}
}

// WithHealthProbe sets the probe used for modules whose first endpoint has
// the given scheme.
func WithHealthProbe(scheme string, probe HealthProbe) Option {
	return func(o *options) {
		o.probes[scheme] = probe
	}
}

// WithTransport adds or replaces the transport used for an endpoint scheme.
func WithTransport(scheme string, transport Transport) Option {
	return func(o *options) {
		o.transports[scheme] = transport
	}
}

// WithDialOptions appends gRPC dial options used by the gRPC transport and
// the gRPC health probe.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOpts = append(o.dialOpts, opts...)
	}
}

// WithServerOptions appends gRPC server options for NewModuleServer.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(o *options) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}
