// ============================================================================
// gRPC Boundary
// ============================================================================
//
// Package: internal/server
// File: server.go
// Purpose: judge.v1.ExecutionService over gRPC
//
// Methods:
//   Execute(ExecuteRequest) -> ExecuteResponse   same document as POST /execute
//   Health(HealthRequest)   -> HealthResponse    same document as GET /health
//
// Messages travel through the registered "json" codec; clients select it with
// grpc.CallContentSubtype("json").
//
// Status codes:
//   InvalidArgument   validation failure
//   Unauthenticated   missing or wrong x-execution-secret metadata
//   Unavailable       controller stopped
//   Internal          pipeline failure (job-level RE)
//
// ============================================================================

package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ChuLiYu/judge-engine/internal/controller"
	"github.com/ChuLiYu/judge-engine/internal/service"
)

// Full method names.
const (
	serviceName   = "judge.v1.ExecutionService"
	executeMethod = "/" + serviceName + "/Execute"
	healthMethod  = "/" + serviceName + "/Health"
)

// SecretMetadataKey carries the pre-shared execution secret.
const SecretMetadataKey = "x-execution-secret"

// HealthRequest is empty.
type HealthRequest struct{}

// ExecutionServer is the server API of judge.v1.ExecutionService.
type ExecutionServer interface {
	Execute(context.Context, *service.ExecuteRequest) (*service.ExecuteResponse, error)
	Health(context.Context, *HealthRequest) (*service.HealthResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExecutionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "judge/v1/execution.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(service.ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutionServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExecutionServer).Execute(ctx, req.(*service.ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutionServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: healthMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExecutionServer).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterExecutionServer registers srv on s.
func RegisterExecutionServer(s grpc.ServiceRegistrar, srv ExecutionServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Server implements ExecutionServer on top of the shared service layer.
type Server struct {
	svc *service.Service
	log *slog.Logger
}

// NewServer creates a gRPC execution server.
func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, log: logger}
}

// Execute judges a submission.
func (s *Server) Execute(ctx context.Context, req *service.ExecuteRequest) (*service.ExecuteResponse, error) {
	resp, err := s.svc.Execute(ctx, *req)
	if err == nil {
		return resp, nil
	}

	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return nil, status.Error(codes.InvalidArgument, verr.Message)
	case errors.Is(err, controller.ErrStopped):
		return nil, status.Error(codes.Unavailable, "server is shutting down")
	default:
		s.log.Error("Execution error", "transport", "grpc", "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
}

// Health reports liveness and capacity.
func (s *Server) Health(ctx context.Context, _ *HealthRequest) (*service.HealthResponse, error) {
	h := s.svc.Health()
	return &h, nil
}

// NewGRPCServer builds a grpc.Server with logging and secret interceptors and
// the execution service registered. An empty secret disables the check.
func NewGRPCServer(svc *service.Service, secret string, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor(logger), secretInterceptor(secret)))
	gs := grpc.NewServer(opts...)
	RegisterExecutionServer(gs, NewServer(svc, logger))
	return gs
}

// secretInterceptor guards every method except Health.
func secretInterceptor(secret string) grpc.UnaryServerInterceptor {
	want := []byte(secret)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if secret == "" || info.FullMethod == healthMethod {
			return handler(ctx, req)
		}
		var got string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(SecretMetadataKey); len(v) > 0 {
				got = v[0]
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return nil, status.Error(codes.Unauthenticated, "Invalid or missing execution secret")
		}
		return handler(ctx, req)
	}
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelInfo
		if code != codes.OK {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "gRPC request",
			"method", info.FullMethod,
			"code", code.String(),
			"latency", time.Since(start),
		)
		return resp, err
	}
}
