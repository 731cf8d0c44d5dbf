// Package metrics provides Prometheus metrics instrumentation for recall.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goclaw/recall/pkg/version"
)

const namespace = "recall"

// Manager manages all Prometheus metrics for recall.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Gate metrics
	gateDecisions    *prometheus.CounterVec
	gateHighestScore prometheus.Histogram

	// Retrieval metrics
	retrievalDuration *prometheus.HistogramVec
	retrievalItems    prometheus.Histogram
	searchCalls       *prometheus.CounterVec
	searchDuration    prometheus.Histogram
	searchMalformed   prometheus.Counter

	// Consolidation metrics
	consolidationRuns     *prometheus.CounterVec
	consolidationDuration prometheus.Histogram
	promotions            prometheus.Counter
	promotionSkips        prometheus.Counter

	// Cache metrics
	cacheRequests *prometheus.CounterVec
	cacheEntries  prometheus.Gauge

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	RetrievalDurationBuckets     []float64
	SearchDurationBuckets        []float64
	ConsolidationDurationBuckets []float64
	HTTPDurationBuckets          []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                      true,
		Port:                         9091,
		Path:                         "/metrics",
		RetrievalDurationBuckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
		SearchDurationBuckets:        []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		ConsolidationDurationBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		HTTPDurationBuckets:          []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()

	// Register Go runtime metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initRelevanceMetrics(cfg)
	m.initHTTPMetrics(cfg)
	m.registerBuildInfo(version.Get())

	return m
}

// registerBuildInfo exposes a constant recall_build_info gauge labelled with
// the binary's build information.
func (m *Manager) registerBuildInfo(b version.BuildInfo) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information of the running binary",
		ConstLabels: prometheus.Labels{
			"version":    b.Version,
			"git_commit": b.GitCommit,
			"go_version": b.GoVersion,
		},
	})
	g.Set(1)
	m.registry.MustRegister(g)
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer starts the metrics HTTP server on the configured port.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
