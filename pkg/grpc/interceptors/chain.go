package interceptors

import (
	"google.golang.org/grpc"

	"github.com/goclaw/recall/pkg/logger"
)

// ChainBuilder assembles interceptors in the order they are added. The
// first interceptor added is the outermost.
type ChainBuilder struct {
	unaryInterceptors  []grpc.UnaryServerInterceptor
	streamInterceptors []grpc.StreamServerInterceptor
}

// NewChainBuilder creates a new interceptor chain builder
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// WithRecovery adds recovery interceptor (should be first)
func (b *ChainBuilder) WithRecovery(l logger.Logger) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, RecoveryUnaryInterceptor(l))
	b.streamInterceptors = append(b.streamInterceptors, RecoveryStreamInterceptor(l))
	return b
}

// WithRequestID adds request ID interceptor
func (b *ChainBuilder) WithRequestID() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, RequestIDUnaryInterceptor())
	b.streamInterceptors = append(b.streamInterceptors, RequestIDStreamInterceptor())
	return b
}

// WithRateLimit adds per-client rate limiting. A non-positive rate leaves
// the chain unchanged.
func (b *ChainBuilder) WithRateLimit(requestsPerSecond float64, burst int) *ChainBuilder {
	if requestsPerSecond <= 0 {
		return b
	}
	rl := NewRateLimiter(requestsPerSecond, burst)
	b.unaryInterceptors = append(b.unaryInterceptors, RateLimitUnaryInterceptor(rl))
	b.streamInterceptors = append(b.streamInterceptors, RateLimitStreamInterceptor(rl))
	return b
}

// WithValidation adds request validation. Only unary requests carry
// validate tags; streams are the health service's.
func (b *ChainBuilder) WithValidation() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, ValidationUnaryInterceptor())
	return b
}

// WithLogging adds logging interceptor
func (b *ChainBuilder) WithLogging(l logger.Logger) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, LoggingUnaryInterceptor(l))
	b.streamInterceptors = append(b.streamInterceptors, LoggingStreamInterceptor(l))
	return b
}

// WithMetrics adds metrics interceptor. A nil m uses collectors on the
// default registerer.
func (b *ChainBuilder) WithMetrics(m *Metrics) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, MetricsUnaryInterceptor(m))
	b.streamInterceptors = append(b.streamInterceptors, MetricsStreamInterceptor(m))
	return b
}

// WithTracing adds tracing interceptor
func (b *ChainBuilder) WithTracing() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, TracingUnaryInterceptor())
	b.streamInterceptors = append(b.streamInterceptors, TracingStreamInterceptor())
	return b
}

// Build returns the configured interceptors as server options
func (b *ChainBuilder) Build() []grpc.ServerOption {
	opts := make([]grpc.ServerOption, 0, 2)

	if len(b.unaryInterceptors) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(b.unaryInterceptors...))
	}

	if len(b.streamInterceptors) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(b.streamInterceptors...))
	}

	return opts
}

// DefaultChain returns the standard chain:
// recovery -> request_id -> rate_limit -> tracing -> logging -> metrics -> validation
func DefaultChain(l logger.Logger, m *Metrics, requestsPerSecond float64, burst int) *ChainBuilder {
	return NewChainBuilder().
		WithRecovery(l).
		WithRequestID().
		WithRateLimit(requestsPerSecond, burst).
		WithTracing().
		WithLogging(l).
		WithMetrics(m).
		WithValidation()
}
