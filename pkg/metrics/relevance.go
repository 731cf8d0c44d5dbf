package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initRelevanceMetrics initializes gate, retrieval, consolidation and cache metrics.
func (m *Manager) initRelevanceMetrics(cfg Config) {
	m.gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Working-memory sufficiency decisions by outcome",
		},
		[]string{"decision"},
	)

	m.gateHighestScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_highest_score",
			Help:      "Highest working-memory relevance score per gate check",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	m.retrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval duration by path",
			Buckets:   cfg.RetrievalDurationBuckets,
		},
		[]string{"path"},
	)

	m.retrievalItems = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_items",
			Help:      "Number of items returned per retrieval",
			Buckets:   prometheus.LinearBuckets(0, 5, 6),
		},
	)

	m.searchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_calls_total",
			Help:      "Long-term search calls by outcome",
		},
		[]string{"outcome"},
	)

	m.searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Long-term search backend latency",
			Buckets:   cfg.SearchDurationBuckets,
		},
	)

	m.searchMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_malformed_hits_total",
			Help:      "Search hits skipped because they could not be converted",
		},
	)

	m.consolidationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_runs_total",
			Help:      "Consolidation passes by status",
		},
		[]string{"status"},
	)

	m.consolidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consolidation_duration_seconds",
			Help:      "Consolidation pass duration",
			Buckets:   cfg.ConsolidationDurationBuckets,
		},
	)

	m.promotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Items promoted to durable storage",
		},
	)

	m.promotionSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_skips_total",
			Help:      "Selected items whose durable write failed",
		},
	)

	m.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Retrieval cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	m.cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of cached retrieval results",
		},
	)

	m.registry.MustRegister(
		m.gateDecisions,
		m.gateHighestScore,
		m.retrievalDuration,
		m.retrievalItems,
		m.searchCalls,
		m.searchDuration,
		m.searchMalformed,
		m.consolidationRuns,
		m.consolidationDuration,
		m.promotions,
		m.promotionSkips,
		m.cacheRequests,
		m.cacheEntries,
	)
}

// RecordGateDecision records one sufficiency decision.
func (m *Manager) RecordGateDecision(sufficient bool, highestScore float64) {
	if !m.enabled {
		return
	}
	decision := "insufficient"
	if sufficient {
		decision = "sufficient"
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
	m.gateHighestScore.Observe(highestScore)
}

// RecordRetrieval records a completed retrieval.
func (m *Manager) RecordRetrieval(path string, duration time.Duration, items int) {
	if !m.enabled {
		return
	}
	m.retrievalDuration.WithLabelValues(path).Observe(duration.Seconds())
	m.retrievalItems.Observe(float64(items))
}

// RecordSearch records one long-term search call.
func (m *Manager) RecordSearch(kept, malformed int, failed bool, duration time.Duration) {
	if !m.enabled {
		return
	}
	outcome := "ok"
	switch {
	case failed:
		outcome = "failed"
	case kept == 0:
		outcome = "empty"
	}
	m.searchCalls.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(duration.Seconds())
	if malformed > 0 {
		m.searchMalformed.Add(float64(malformed))
	}
}

// RecordConsolidation records a consolidation pass.
func (m *Manager) RecordConsolidation(promoted, skipped int, duration time.Duration, failed bool) {
	if !m.enabled {
		return
	}
	status := "completed"
	if failed {
		status = "failed"
	}
	m.consolidationRuns.WithLabelValues(status).Inc()
	m.consolidationDuration.Observe(duration.Seconds())
	m.promotions.Add(float64(promoted))
	m.promotionSkips.Add(float64(skipped))
}

// RecordCache records a cache lookup outcome: hit, miss or shared.
func (m *Manager) RecordCache(outcome string) {
	if !m.enabled {
		return
	}
	m.cacheRequests.WithLabelValues(outcome).Inc()
}

// SetCacheEntries sets the current number of cached results.
func (m *Manager) SetCacheEntries(n int) {
	if !m.enabled {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// RegisterEventStats exposes event stream statistics sampled at scrape time.
func (m *Manager) RegisterEventStats(subscribers, dropped func() float64) {
	if !m.enabled {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Current number of event stream subscribers",
		}, subscribers),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was too slow",
		}, dropped),
	)
}
