package engine

import (
	"time"

	"github.com/goclaw/recall/pkg/consolidation"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/tags"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithMetrics sets the metrics recorder for the engine.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithEventRecorder sets the recorder for gate, retrieval and consolidation events.
func WithEventRecorder(events EventRecorder) Option {
	return func(e *Engine) {
		if events != nil {
			e.events = events
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTagExtractor replaces the keyword extractor used for query tags.
func WithTagExtractor(x tags.Extractor) Option {
	return func(e *Engine) {
		if x != nil {
			e.extractor = x
		}
	}
}

// WithEnricher sets the enricher used when consolidation generates insights.
func WithEnricher(en consolidation.Enricher) Option {
	return func(e *Engine) {
		if en != nil {
			e.enricher = en
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
