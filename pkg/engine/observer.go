package engine

import (
	"time"

	"github.com/goclaw/recall/pkg/retrieval"
)

// Event phases reported to an EventRecorder.
const (
	PhaseGate          = "gate"
	PhaseRetrieval     = "retrieval"
	PhaseConsolidation = "consolidation"
	PhaseTurnRecorded  = "turn_recorded"
	PhaseCacheFlushed  = "cache_flushed"
)

// Retrieval paths reported to a MetricsRecorder.
const (
	PathWorkingMemory = "working_memory"
	PathCombined      = "combined"
)

// Cache outcomes reported to a MetricsRecorder.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
)

// EventRecorder receives lifecycle events. Implementations must not block;
// a panicking recorder is recovered and ignored.
type EventRecorder interface {
	RecordEvent(scope, phase string, data map[string]any)
}

// MetricsRecorder records engine metrics.
type MetricsRecorder interface {
	RecordGateDecision(sufficient bool, highestScore float64)
	RecordRetrieval(path string, duration time.Duration, items int)
	RecordSearch(kept, malformed int, failed bool, duration time.Duration)
	RecordConsolidation(promoted, skipped int, duration time.Duration, failed bool)
	RecordCache(outcome string)
	SetCacheEntries(n int)
}

type nopEventRecorder struct{}

func (nopEventRecorder) RecordEvent(string, string, map[string]any) {}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordGateDecision(bool, float64)                  {}
func (nopMetricsRecorder) RecordRetrieval(string, time.Duration, int)        {}
func (nopMetricsRecorder) RecordSearch(int, int, bool, time.Duration)        {}
func (nopMetricsRecorder) RecordConsolidation(int, int, time.Duration, bool) {}
func (nopMetricsRecorder) RecordCache(string)                                {}
func (nopMetricsRecorder) SetCacheEntries(int)                               {}

// searchObserver bridges adapter reports into the metrics recorder.
type searchObserver struct {
	metrics MetricsRecorder
}

func (o searchObserver) ObserveSearch(r retrieval.SearchReport) {
	o.metrics.RecordSearch(r.Kept, r.Malformed, r.Err != nil, r.Duration)
}

func (e *Engine) emit(scope, phase string, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event recorder panicked", "phase", phase, "panic", r)
		}
	}()
	e.events.RecordEvent(scope, phase, data)
}
