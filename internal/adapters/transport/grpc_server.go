package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/eleven-am/orchestra/internal/xjson"
)

// MethodName is the gRPC method a module service is exposed under.
func MethodName(moduleID, serviceID string) string {
	return "/" + moduleID + "/" + serviceID
}

func splitMethod(method string) (moduleID, serviceID string, ok bool) {
	parts := strings.SplitN(strings.TrimPrefix(method, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Server hosts module services over gRPC. Calls are routed by method name
// through an unknown-service handler, so no generated stubs are needed.
// Every module with at least one handler reports SERVING on the standard
// health service.
type Server struct {
	handlers *handlerSet
	health   *grpchealth.Server
	server   *grpc.Server
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		handlers: newHandlerSet(),
		health:   grpchealth.NewServer(),
		logger:   logger.With("component", "transport", "adapter", "grpc-server"),
	}

	s.server = grpc.NewServer(append(opts, grpc.UnknownServiceHandler(s.handleStream))...)
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	return s
}

func (s *Server) Handle(moduleID, serviceID string, fn HandlerFunc) {
	s.handlers.bind(moduleID, serviceID, fn)
	s.health.SetServingStatus(moduleID, grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetServing flips the module's reported health.
func (s *Server) SetServing(moduleID string, serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(moduleID, st)
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	s.Serve(lis)
	return nil
}

// Serve accepts connections from lis in the background.
func (s *Server) Serve(lis net.Listener) {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server failed", "error", err)
		}
	}()
	s.logger.Info("module server started", "address", lis.Addr().String())
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
	s.logger.Info("module server stopped")
}

func (s *Server) handleStream(_ interface{}, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "method not found in stream context")
	}
	moduleID, serviceID, ok := splitMethod(method)
	if !ok {
		return status.Errorf(codes.Unimplemented, "malformed method %s", method)
	}

	fn, err := s.handlers.lookup(moduleID, serviceID)
	if err != nil {
		return status.Error(codes.Unimplemented, err.Error())
	}

	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	result, err := invoke(stream.Context(), fn, req.AsMap())
	if err != nil {
		return toStatus(err)
	}

	normalized, err := xjson.Normalize(result)
	if err != nil {
		return status.Errorf(codes.Internal, "encode result: %v", err)
	}
	value, err := structpb.NewValue(normalized)
	if err != nil {
		return status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return stream.SendMsg(value)
}

func toStatus(err error) error {
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Unknown, err.Error())
}
