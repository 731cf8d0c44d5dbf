package interceptors

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const (
	metricsNamespace = "recall"
	metricsSubsystem = "grpc"
)

// Metrics holds Prometheus collectors for gRPC instrumentation.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	inflight       *prometheus.GaugeVec
	errors         *prometheus.CounterVec
	streamMessages *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	streamErrors   *prometheus.CounterVec
}

// NewMetrics creates gRPC metrics and registers them with registerer, or
// the default registerer when nil. Collectors already registered under the
// same name are reused.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels))
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, labels))
	}

	return &Metrics{
		requests: counter("requests_total", "Total number of gRPC requests.", "method", "status"),
		duration: histogram("request_duration_seconds", "Duration of gRPC requests.", "method"),
		inflight: register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "in_flight",
			Help:      "In-flight gRPC requests.",
		}, []string{"method"})),
		errors:         counter("errors_total", "Total number of gRPC errors.", "method", "code"),
		streamMessages: counter("stream_messages_total", "Total number of gRPC stream messages.", "method", "direction"),
		streamDuration: histogram("stream_duration_seconds", "Duration of gRPC streams.", "method"),
		streamErrors:   counter("stream_errors_total", "Total number of gRPC stream errors.", "method", "code"),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

func getDefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(nil)
	})
	return defaultMetrics
}

// MetricsUnaryInterceptor collects metrics for unary RPCs.
func MetricsUnaryInterceptor(metrics *Metrics) grpc.UnaryServerInterceptor {
	if metrics == nil {
		metrics = getDefaultMetrics()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		inflight := metrics.inflight.WithLabelValues(info.FullMethod)
		inflight.Inc()
		defer inflight.Dec()

		resp, err := handler(ctx, req)
		code := status.Code(err).String()

		metrics.requests.WithLabelValues(info.FullMethod, code).Inc()
		metrics.duration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.errors.WithLabelValues(info.FullMethod, code).Inc()
		}

		return resp, err
	}
}

// MetricsStreamInterceptor collects metrics for streaming RPCs.
func MetricsStreamInterceptor(metrics *Metrics) grpc.StreamServerInterceptor {
	if metrics == nil {
		metrics = getDefaultMetrics()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		inflight := metrics.inflight.WithLabelValues(info.FullMethod)
		inflight.Inc()
		defer inflight.Dec()

		wrapped := &metricsServerStream{ServerStream: ss}
		err := handler(srv, wrapped)

		metrics.streamDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		metrics.streamMessages.WithLabelValues(info.FullMethod, "recv").Add(float64(wrapped.recvCount))
		metrics.streamMessages.WithLabelValues(info.FullMethod, "sent").Add(float64(wrapped.sendCount))
		if err != nil {
			metrics.streamErrors.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		}

		return err
	}
}

type metricsServerStream struct {
	grpc.ServerStream
	recvCount int64
	sendCount int64
}

func (s *metricsServerStream) RecvMsg(m interface{}) error {
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return err
	}
	s.recvCount++
	return nil
}

func (s *metricsServerStream) SendMsg(m interface{}) error {
	if err := s.ServerStream.SendMsg(m); err != nil {
		return err
	}
	s.sendCount++
	return nil
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return collector
}
