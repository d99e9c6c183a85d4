package server

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	mw "github.com/Aidin1998/flowlimit/internal/infrastructure/middleware/ratelimit"
	"github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"
)

// GRPCServerOptions configures NewGRPCServer.
type GRPCServerOptions struct {
	Logger           *zap.Logger
	Limiters         *ratelimit.Limiters
	EnableReflection bool
	// Register adds application services; the health service is always registered.
	Register func(*grpc.Server)
}

// GRPCServer is a gRPC server whose calls pass through the limiters.
type GRPCServer struct {
	logger *zap.Logger
	server *grpc.Server
	health *health.Server
}

// NewGRPCServer chains recovery, logging and both limiters in that order and
// registers the health service.
func NewGRPCServer(opts GRPCServerOptions) (*GRPCServer, error) {
	if opts.Logger == nil {
		return nil, errors.New("grpc server: nil logger")
	}
	s := &GRPCServer{
		logger: opts.Logger.Named("grpc-server"),
		health: health.NewServer(),
	}

	counter, bucket := opts.Limiters.CounterLimiterOrNil(), opts.Limiters.TokenBucketOrNil()
	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			s.recoveryUnary,
			s.loggingUnary,
			mw.UnaryServerInterceptor(counter, mw.GRPCOptions{}, s.logger),
			mw.UnaryServerInterceptor(bucket, mw.GRPCOptions{}, s.logger),
		),
		grpc.ChainStreamInterceptor(
			s.recoveryStream,
			s.loggingStream,
			mw.StreamServerInterceptor(counter, mw.GRPCOptions{}, s.logger),
			mw.StreamServerInterceptor(bucket, mw.GRPCOptions{}, s.logger),
		),
	)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.server, s.health)
	if opts.Register != nil {
		opts.Register(s.server)
	}
	if opts.EnableReflection {
		reflection.Register(s.server)
	}
	return s, nil
}

func (s *GRPCServer) logCall(method string, start time.Time, err error) {
	if err == nil {
		s.logger.Debug("gRPC call completed",
			zap.String("method", method),
			zap.Duration("duration", time.Since(start)))
		return
	}
	s.logger.Warn("gRPC call failed",
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
		zap.Stringer("code", status.Code(err)),
		zap.Error(err))
}

func (s *GRPCServer) loggingUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logCall(info.FullMethod, start, err)
	return resp, err
}

func (s *GRPCServer) loggingStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.logCall(info.FullMethod, start, err)
	return err
}

// recovered turns a handler panic into codes.Internal.
func (s *GRPCServer) recovered(method string, err *error) {
	if r := recover(); r != nil {
		s.logger.Error("Recovered from panic in gRPC handler",
			zap.String("method", method),
			zap.Any("panic", r),
			zap.Stack("stack"))
		*err = status.Error(codes.Internal, "internal server error")
	}
}

func (s *GRPCServer) recoveryUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer s.recovered(info.FullMethod, &err)
	return handler(ctx, req)
}

func (s *GRPCServer) recoveryStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer s.recovered(info.FullMethod, &err)
	return handler(srv, ss)
}

// Start serves on listener until Stop is called.
func (s *GRPCServer) Start(listener net.Listener) error {
	s.logger.Info("Starting gRPC server", zap.String("address", listener.Addr().String()))
	return s.server.Serve(listener)
}

// Stop drains in-flight calls and falls back to a hard stop once ctx expires.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.server.GracefulStop()
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server stopped")
		return nil
	case <-ctx.Done():
		s.server.Stop()
		s.logger.Warn("gRPC server forced to stop", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Server exposes the underlying server for service registration.
func (s *GRPCServer) Server() *grpc.Server {
	return s.server
}
