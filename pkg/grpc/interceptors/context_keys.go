package interceptors

import "context"

type requestIDContextKey struct{}

func withRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request id set by the request id
// interceptor.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDContextKey{}).(string)
	return requestID, ok
}

// ScopedRequest is a request addressed to one memory scope. Logging and
// tracing report the scope of such requests.
type ScopedRequest interface {
	GetScope() string
}

func scopeOf(req interface{}) string {
	if s, ok := req.(ScopedRequest); ok {
		return s.GetScope()
	}
	return ""
}
