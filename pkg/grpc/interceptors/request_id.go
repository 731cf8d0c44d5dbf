package interceptors

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/goclaw/recall/pkg/logger"
)

// RequestIDKey is the metadata key that carries the request id.
const RequestIDKey = "x-request-id"

const maxRequestIDLength = 128

// RequestIDUnaryInterceptor keeps the caller's request id or assigns one. The
// id is echoed in the response header and attached to context logging.
func RequestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, id := bindRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, id))
		return handler(ctx, req)
	}
}

// RequestIDStreamInterceptor is the streaming form of RequestIDUnaryInterceptor.
func RequestIDStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, id := bindRequestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(RequestIDKey, id))
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func bindRequestID(ctx context.Context) (context.Context, string) {
	id := incomingRequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	ctx = withRequestID(ctx, id)
	return logger.ContextWith(ctx, "request_id", id), id
}

// incomingRequestID returns the caller's id, or "" when it is missing or
// unfit for logs.
func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	ids := md.Get(RequestIDKey)
	if len(ids) == 0 || !printableID(ids[0]) {
		return ""
	}
	return ids[0]
}

func printableID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }
