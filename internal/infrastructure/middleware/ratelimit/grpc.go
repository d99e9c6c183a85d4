package ratelimit

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	rl "github.com/Aidin1998/flowlimit/internal/infrastructure/ratelimit"
)

// GRPCOptions customizes the gRPC interceptors. Every field is optional and
// receives the full method name.
type GRPCOptions struct {
	Filter    func(ctx context.Context, fullMethod string) bool
	Principal func(ctx context.Context, fullMethod string) string
	Challenge func(ctx context.Context, fullMethod string) bool
	// Reject returns the rejection. An error payload becomes the RPC error,
	// anything else the response. Defaults to codes.ResourceExhausted.
	Reject        func(ctx context.Context, fullMethod string) (any, error)
	EngineOptions []rl.EngineOption
}

// grpcCall is one intercepted invocation; proceeding runs the handler.
type grpcCall struct {
	method string
	invoke func(ctx context.Context) (any, error)
}

func (*grpcCall) Mode() string { return rl.ModeGRPC }

func (c *grpcCall) Proceed(ctx context.Context) (any, error) { return c.invoke(ctx) }

func defaultGRPCReject(_ context.Context, method string) (any, error) {
	return status.Errorf(codes.ResourceExhausted, "%s: %s", rejectDetail, method), nil
}

func newGRPCEngine(limiter rl.Limiter, opts GRPCOptions, logger *zap.Logger) *rl.Engine {
	principal := opts.Principal
	if principal == nil {
		principal = func(ctx context.Context, _ string) string { return UserIDFromMetadata(ctx) }
	}
	reject := opts.Reject
	if reject == nil {
		reject = defaultGRPCReject
	}

	hooks := rl.Hooks{
		Principal: func(ctx context.Context, req rl.Request) string {
			return principal(ctx, req.(*grpcCall).method)
		},
		Reject: func(ctx context.Context, req rl.Request) (any, error) {
			return reject(ctx, req.(*grpcCall).method)
		},
	}
	if opts.Filter != nil {
		hooks.Filter = func(ctx context.Context, req rl.Request) bool {
			return opts.Filter(ctx, req.(*grpcCall).method)
		}
	}
	if opts.Challenge != nil {
		hooks.Challenge = func(ctx context.Context, req rl.Request) bool {
			return opts.Challenge(ctx, req.(*grpcCall).method)
		}
	}
	return rl.NewEngine(limiter, hooks, logger, opts.EngineOptions...)
}

// intercept evaluates call and maps the outcome to a handler result.
func intercept(ctx context.Context, engine *rl.Engine, call *grpcCall) (any, error) {
	out, err := engine.Evaluate(ctx, call)
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	if out.Rejected {
		if perr, ok := out.Payload.(error); ok {
			return nil, perr
		}
	}
	return out.Result, nil
}

// UnaryServerInterceptor limits unary calls with limiter. Handler errors are
// returned unchanged.
func UnaryServerInterceptor(limiter rl.Limiter, opts GRPCOptions, logger *zap.Logger) grpc.UnaryServerInterceptor {
	engine := newGRPCEngine(limiter, opts, logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var handlerErr error
		call := &grpcCall{
			method: info.FullMethod,
			invoke: func(ctx context.Context) (any, error) {
				resp, err := handler(ctx, req)
				handlerErr = err
				return resp, nil
			},
		}
		resp, err := intercept(ctx, engine, call)
		if err != nil {
			return nil, err
		}
		return resp, handlerErr
	}
}

// StreamServerInterceptor limits stream establishment with limiter.
func StreamServerInterceptor(limiter rl.Limiter, opts GRPCOptions, logger *zap.Logger) grpc.StreamServerInterceptor {
	engine := newGRPCEngine(limiter, opts, logger)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		var handlerErr error
		call := &grpcCall{
			method: info.FullMethod,
			invoke: func(context.Context) (any, error) {
				handlerErr = handler(srv, ss)
				return nil, nil
			},
		}
		if _, err := intercept(ss.Context(), engine, call); err != nil {
			return err
		}
		return handlerErr
	}
}
