package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
	"github.com/eleven-am/orchestra/internal/xjson"
)

// GRPCTransport reaches modules served by Server (or any server that speaks
// the same structpb convention) over gRPC.
type GRPCTransport struct {
	config   domain.TransportConfig
	dialOpts []grpc.DialOption
	logger   *slog.Logger
}

func NewGRPCTransport(config domain.TransportConfig, logger *slog.Logger, opts ...grpc.DialOption) *GRPCTransport {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := domain.DefaultTransportConfig()
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.KeepAliveTime <= 0 {
		config.KeepAliveTime = defaults.KeepAliveTime
	}
	if config.MaxMessageSizeMB <= 0 {
		config.MaxMessageSizeMB = defaults.MaxMessageSizeMB
	}

	maxMsg := config.MaxMessageSizeMB * 1024 * 1024
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{MinConnectTimeout: config.ConnectTimeout}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    config.KeepAliveTime,
			Timeout: config.ConnectTimeout,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsg),
			grpc.MaxCallSendMsgSize(maxMsg),
		),
	}

	return &GRPCTransport{
		config:   config,
		dialOpts: append(dialOpts, opts...),
		logger:   logger.With("component", "transport", "adapter", "grpc"),
	}
}

func (t *GRPCTransport) Connect(ctx context.Context, moduleID, endpoint string) (ports.ServiceConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, address := domain.ParseEndpoint(endpoint)

	t.logger.Debug("creating connection", "module_id", moduleID, "address", address)
	conn, err := grpc.NewClient(address, t.dialOpts...)
	if err != nil {
		t.logger.Error("failed to create connection", "module_id", moduleID, "address", address, "error", err)
		return nil, fmt.Errorf("connect to module %s at %s: %w", moduleID, address, err)
	}

	return &grpcConn{conn: conn, moduleID: moduleID, logger: t.logger}, nil
}

type grpcConn struct {
	conn     *grpc.ClientConn
	moduleID string
	logger   *slog.Logger
}

func (c *grpcConn) Call(ctx context.Context, serviceID string, params map[string]interface{}) (interface{}, error) {
	req, err := toStruct(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters for %s/%s: %w", c.moduleID, serviceID, err)
	}

	start := time.Now()
	resp := &structpb.Value{}
	if err := c.conn.Invoke(ctx, MethodName(c.moduleID, serviceID), req, resp); err != nil {
		c.logger.Debug("remote call failed", "module_id", c.moduleID, "service_id", serviceID, "error", err)
		return nil, err
	}
	c.logger.Debug("remote call completed", "module_id", c.moduleID, "service_id", serviceID, "duration", time.Since(start))

	return resp.AsInterface(), nil
}

func (c *grpcConn) Close() error {
	return c.conn.Close()
}

func toStruct(params map[string]interface{}) (*structpb.Struct, error) {
	normalized, err := xjson.Normalize(params)
	if err != nil {
		return nil, err
	}
	m, _ := normalized.(map[string]interface{})
	return structpb.NewStruct(m)
}
