package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/goclaw/recall/pkg/logger"
)

func orGlobal(l logger.Logger) logger.Logger {
	if l == nil {
		return logger.Global()
	}
	return l
}

// LoggingUnaryInterceptor logs one line per unary RPC with its status and
// duration. Server-side failures are logged at warn level.
func LoggingUnaryInterceptor(l logger.Logger) grpc.UnaryServerInterceptor {
	log := orGlobal(l)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, log, info.FullMethod, "unary", scopeOf(req), err, time.Since(start))
		return resp, err
	}
}

// LoggingStreamInterceptor logs stream lifecycle for streaming RPCs.
func LoggingStreamInterceptor(l logger.Logger) grpc.StreamServerInterceptor {
	log := orGlobal(l)
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), log, info.FullMethod, "stream", "", err, time.Since(start))
		return err
	}
}

func logCall(ctx context.Context, log logger.Logger, method, kind, scope string, err error, d time.Duration) {
	code := status.Code(err)
	args := []any{
		"method", method,
		"kind", kind,
		"code", code.String(),
		"duration_ms", d.Milliseconds(),
	}
	if scope != "" {
		args = append(args, "scope", scope)
	}
	switch code {
	case codes.OK:
		log.DebugContext(ctx, "grpc call", args...)
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
		log.WarnContext(ctx, "grpc call failed", append(args, "error", err)...)
	default:
		log.InfoContext(ctx, "grpc call rejected", append(args, "error", err)...)
	}
}
