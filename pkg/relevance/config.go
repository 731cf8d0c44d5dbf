// Package relevance scores memory items against a query. A score is a
// weighted mean of normalized sub-scores (semantic similarity, importance,
// tag overlap, recency and optional content heuristics) and always lies in
// [0,1].
package relevance

import (
	"errors"
	"fmt"
	"time"

	"github.com/goclaw/recall/pkg/memory"
)

// ErrInvalidConfig is returned for weight tables that cannot produce a score.
var ErrInvalidConfig = errors.New("relevance: invalid config")

// Weights sets the contribution of each sub-score. A zero weight removes the
// sub-score from both the sum and the divisor.
type Weights struct {
	Semantic   float64 `json:"semantic" mapstructure:"semantic"`
	Importance float64 `json:"importance" mapstructure:"importance"`
	TagMatch   float64 `json:"tag_match" mapstructure:"tag_match"`
	Recency    float64 `json:"recency" mapstructure:"recency"`

	// Optional heuristics, disabled by default.
	ContentValue float64 `json:"content_value" mapstructure:"content_value"`
	Length       float64 `json:"length" mapstructure:"length"`
	UserMessage  float64 `json:"user_message" mapstructure:"user_message"`
}

// DefaultWeights favours importance so goals and preferences outrank generic
// semantic matches.
func DefaultWeights() Weights {
	return Weights{
		Semantic:   1.0,
		Importance: 1.5,
		TagMatch:   0.8,
		Recency:    0.5,
	}
}

func (w Weights) validate() error {
	vals := map[string]float64{
		"semantic":      w.Semantic,
		"importance":    w.Importance,
		"tag_match":     w.TagMatch,
		"recency":       w.Recency,
		"content_value": w.ContentValue,
		"length":        w.Length,
		"user_message":  w.UserMessage,
	}
	total := 0.0
	for name, v := range vals {
		if v < 0 || v != v {
			return fmt.Errorf("%w: weight %s must be >= 0, got %v", ErrInvalidConfig, name, v)
		}
		total += v
	}
	if total-w.Importance <= 0 {
		return fmt.Errorf("%w: at least one non-importance weight must be positive", ErrInvalidConfig)
	}
	return nil
}

// RecencyMode selects how the recency sub-score is computed.
type RecencyMode string

const (
	// RecencyStep scores 1.0 inside the window and the baseline outside it.
	RecencyStep RecencyMode = "step"
	// RecencyExponential halves the score every half-life, floored at the baseline.
	RecencyExponential RecencyMode = "exponential"
)

// DefaultKindWeights multiplies base importance per kind.
func DefaultKindWeights() map[memory.Kind]float64 {
	return map[memory.Kind]float64{
		memory.KindGoal:       2.0,
		memory.KindFact:       1.5,
		memory.KindEntity:     1.3,
		memory.KindPreference: 1.2,
		memory.KindMessage:    1.3,
		memory.KindTask:       1.0,
	}
}

// Config is the scorer's weight table and windows.
type Config struct {
	Weights     Weights
	KindWeights map[memory.Kind]float64

	RecencyMode     RecencyMode
	RecencyWindow   time.Duration
	RecencyHalfLife time.Duration
	RecencyBaseline float64

	// WorkingMemoryPrior is the semantic score of items without a backend
	// similarity signal.
	WorkingMemoryPrior float64
}

// DefaultConfig returns the four-factor configuration.
func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		KindWeights:        DefaultKindWeights(),
		RecencyMode:        RecencyStep,
		RecencyWindow:      24 * time.Hour,
		RecencyHalfLife:    72 * time.Hour,
		RecencyBaseline:    0.5,
		WorkingMemoryPrior: 1.0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Weights.validate(); err != nil {
		return err
	}
	for k, w := range c.KindWeights {
		if !k.Valid() {
			return fmt.Errorf("%w: unknown kind %q in kind weights", ErrInvalidConfig, k)
		}
		if w < 0 {
			return fmt.Errorf("%w: kind weight for %s must be >= 0", ErrInvalidConfig, k)
		}
	}
	switch c.RecencyMode {
	case "", RecencyStep:
		if c.RecencyWindow <= 0 {
			return fmt.Errorf("%w: recency window must be > 0", ErrInvalidConfig)
		}
	case RecencyExponential:
		if c.RecencyHalfLife <= 0 {
			return fmt.Errorf("%w: recency half-life must be > 0", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown recency mode %q", ErrInvalidConfig, c.RecencyMode)
	}
	if c.RecencyBaseline < 0 || c.RecencyBaseline > 1 {
		return fmt.Errorf("%w: recency baseline must be in [0,1]", ErrInvalidConfig)
	}
	if c.WorkingMemoryPrior < 0 || c.WorkingMemoryPrior > 1 {
		return fmt.Errorf("%w: working memory prior must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

func (c Config) kindWeight(k memory.Kind) float64 {
	if !k.Valid() {
		return 1.0
	}
	if w, ok := c.KindWeights[k]; ok {
		return w
	}
	return 1.0
}
