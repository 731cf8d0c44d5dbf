package config

import (
	"fmt"

	"github.com/goclaw/recall/pkg/consolidation"
	"github.com/goclaw/recall/pkg/engine"
	"github.com/goclaw/recall/pkg/formatter"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/longterm"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/metrics"
	"github.com/goclaw/recall/pkg/relevance"
	"github.com/goclaw/recall/pkg/retrieval"
	"github.com/goclaw/recall/pkg/version"
	"github.com/goclaw/recall/pkg/workingmemory"
)

// ToScorerConfig converts the relevance section and validates the result.
func (r RelevanceConfig) ToScorerConfig() (relevance.Config, error) {
	kinds := make(map[memory.Kind]float64, len(r.KindWeights))
	for name, w := range r.KindWeights {
		k := memory.Kind(name)
		if !k.Valid() {
			return relevance.Config{}, fmt.Errorf("%w: unknown kind %q in kind weights", relevance.ErrInvalidConfig, name)
		}
		kinds[k] = w
	}

	cfg := relevance.Config{
		Weights: relevance.Weights{
			Semantic:     r.Weights.Semantic,
			Importance:   r.Weights.Importance,
			TagMatch:     r.Weights.TagMatch,
			Recency:      r.Weights.Recency,
			ContentValue: r.Weights.ContentValue,
			Length:       r.Weights.Length,
			UserMessage:  r.Weights.UserMessage,
		},
		KindWeights:        kinds,
		RecencyMode:        relevance.RecencyMode(r.RecencyMode),
		RecencyWindow:      r.RecencyWindow,
		RecencyHalfLife:    r.RecencyHalfLife,
		RecencyBaseline:    r.RecencyBaseline,
		WorkingMemoryPrior: r.WorkingMemoryPrior,
	}
	if err := cfg.Validate(); err != nil {
		return relevance.Config{}, err
	}
	return cfg, nil
}

// ToEngineConfig assembles the engine configuration.
func (c *Config) ToEngineConfig() (engine.Config, error) {
	scorer, err := c.Relevance.ToScorerConfig()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Version:   version.Or(c.App.Version),
		Relevance: scorer,
		Gate: workingmemory.GateConfig{
			Limit:               c.Gate.Limit,
			ScoreThreshold:      c.Gate.ScoreThreshold,
			ConfidenceThreshold: c.Gate.ConfidenceThreshold,
			BufferSize:          c.Gate.BufferSize,
		},
		Retrieval: retrieval.AdapterConfig{
			OverFetch: c.Retrieval.OverFetch,
			Timeout:   c.Retrieval.Timeout,
		},
		Consolidation: consolidation.Options{
			MinConfidence:    c.Consolidation.MinConfidence,
			MaxItems:         c.Consolidation.MaxItems,
			GenerateInsights: c.Consolidation.GenerateInsights,
			EnrichTimeout:    c.Consolidation.EnrichTimeout,
		},
		EnrichRate:    c.Consolidation.EnrichRate,
		EnrichBurst:   c.Consolidation.EnrichBurst,
		DefaultLimit:  c.Relevance.DefaultLimit,
		UseImportance: c.Relevance.UseImportance,
		Cache: engine.CacheConfig{
			Enabled:       c.Cache.Enabled,
			TTL:           c.Cache.TTL,
			SweepInterval: c.Cache.SweepInterval,
		},
		AsyncTimeout: c.Consolidation.AsyncTimeout,
	}, nil
}

// ToRedisBufferConfig converts the working-memory section for the redis backend.
func (w WorkingMemoryConfig) ToRedisBufferConfig() workingmemory.RedisConfig {
	return workingmemory.RedisConfig{
		KeyPrefix: w.KeyPrefix,
		Capacity:  w.Capacity,
		TTL:       w.TTL,
	}
}

// ToStoreConfig converts the long-term section.
func (l LongTermConfig) ToStoreConfig() longterm.Config {
	return longterm.Config{
		Dir:      l.Path,
		InMemory: l.InMemory,
		K1:       l.K1,
		B:        l.B,
	}
}

// ToFormatterOptions converts the context section.
func (c ContextConfig) ToFormatterOptions() formatter.Options {
	return formatter.Options{
		Layout:        formatter.Layout(c.Layout),
		SortBy:        formatter.SortBy(c.SortBy),
		MaxTokens:     c.MaxTokens,
		Title:         c.Title,
		PreferSummary: c.PreferSummary,
		Estimator:     formatter.NewCharEstimator(c.CharsPerToken),
	}
}

// ToMetricsConfig converts the metrics section.
func (m MetricsConfig) ToMetricsConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = m.Enabled
	cfg.Port = m.Port
	cfg.Path = m.Path
	return cfg
}

// ToLoggerConfig converts the log section.
func (l LogConfig) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:  logger.ParseLevel(l.Level),
		Format: l.Format,
		Output: l.Output,
	}
}
