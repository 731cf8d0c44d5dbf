package models

import (
	"fmt"
	"time"

	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/relevance"
)

// ScorerConfig is the wire form of the scorer's weight table. Durations use
// Go duration syntax, e.g. "24h".
type ScorerConfig struct {
	Weights            relevance.Weights  `json:"weights"`
	KindWeights        map[string]float64 `json:"kind_weights,omitempty"`
	RecencyMode        string             `json:"recency_mode" validate:"omitempty,oneof=step exponential"`
	RecencyWindow      string             `json:"recency_window,omitempty"`
	RecencyHalfLife    string             `json:"recency_half_life,omitempty"`
	RecencyBaseline    float64            `json:"recency_baseline" validate:"gte=0,lte=1"`
	WorkingMemoryPrior float64            `json:"working_memory_prior" validate:"gte=0,lte=1"`
}

// NewScorerConfig converts a scorer configuration to its wire form.
func NewScorerConfig(cfg relevance.Config) ScorerConfig {
	out := ScorerConfig{
		Weights:            cfg.Weights,
		RecencyMode:        string(cfg.RecencyMode),
		RecencyBaseline:    cfg.RecencyBaseline,
		WorkingMemoryPrior: cfg.WorkingMemoryPrior,
	}
	if cfg.RecencyWindow > 0 {
		out.RecencyWindow = cfg.RecencyWindow.String()
	}
	if cfg.RecencyHalfLife > 0 {
		out.RecencyHalfLife = cfg.RecencyHalfLife.String()
	}
	if len(cfg.KindWeights) > 0 {
		out.KindWeights = make(map[string]float64, len(cfg.KindWeights))
		for k, w := range cfg.KindWeights {
			out.KindWeights[string(k)] = w
		}
	}
	return out
}

// ToScorerConfig parses the wire form. The result still needs
// relevance.Config.Validate.
func (c ScorerConfig) ToScorerConfig() (relevance.Config, error) {
	out := relevance.Config{
		Weights:            c.Weights,
		RecencyMode:        relevance.RecencyMode(c.RecencyMode),
		RecencyBaseline:    c.RecencyBaseline,
		WorkingMemoryPrior: c.WorkingMemoryPrior,
	}
	var err error
	if out.RecencyWindow, err = parseDuration("recency_window", c.RecencyWindow); err != nil {
		return relevance.Config{}, err
	}
	if out.RecencyHalfLife, err = parseDuration("recency_half_life", c.RecencyHalfLife); err != nil {
		return relevance.Config{}, err
	}
	if len(c.KindWeights) > 0 {
		out.KindWeights = make(map[memory.Kind]float64, len(c.KindWeights))
		for k, w := range c.KindWeights {
			out.KindWeights[memory.Kind(k)] = w
		}
	}
	return out, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", relevance.ErrInvalidConfig, field, err)
	}
	return d, nil
}
