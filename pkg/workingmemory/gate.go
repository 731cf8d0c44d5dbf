package workingmemory

import (
	"context"
	"fmt"
	"math"

	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/relevance"
)

// Gate defaults.
const (
	DefaultGateLimit           = 10
	DefaultScoreThreshold      = 0.7
	DefaultConfidenceThreshold = 0.75
)

// GateConfig configures a Gate.
type GateConfig struct {
	// Limit is the number of top-ranked turns returned. Defaults to 10.
	Limit int

	// ScoreThreshold is the relevance the best turn must exceed. Zero is a
	// valid threshold; start from DefaultGateConfig for the defaults.
	ScoreThreshold float64

	// ConfidenceThreshold is the intent confidence a request must exceed
	// unless the request overrides it.
	ConfidenceThreshold float64

	// BufferSize is the number of recent turns loaded. Defaults to 20.
	BufferSize int
}

// DefaultGateConfig returns the default gate configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Limit:               DefaultGateLimit,
		ScoreThreshold:      DefaultScoreThreshold,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		BufferSize:          DefaultCapacity,
	}
}

// GateRequest is one sufficiency check.
type GateRequest struct {
	Scope string
	Query string

	// QueryTags are caller-supplied tags; extracted from Query when empty.
	QueryTags []string

	// IntentConfidence is the upstream intent classifier's confidence in [0,1].
	IntentConfidence float64

	// Limit overrides the configured limit when > 0.
	Limit int

	// ConfidenceThreshold overrides the configured threshold when set.
	ConfidenceThreshold *float64

	// ExcludeIDs are never loaded, e.g. the message being answered.
	ExcludeIDs []string

	UseImportance bool

	// Scorer overrides the gate's scorer so a caller can rank working and
	// long-term items under one configuration.
	Scorer *relevance.Scorer
}

// GateResult is the outcome of a sufficiency check.
type GateResult struct {
	Items        []memory.Scored
	MemoryIDs    []string
	Sufficient   bool
	HighestScore float64
}

type gateLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopGateLogger struct{}

func (nopGateLogger) Debug(string, ...any) {}
func (nopGateLogger) Warn(string, ...any)  {}

// Gate decides whether a scope's working memory is enough to answer a query
// without a round trip to long-term search.
type Gate struct {
	buffer Buffer
	scorer *relevance.Scorer
	cfg    GateConfig
	logger gateLogger
}

// NewGate creates a Gate over buffer using scorer for ranking.
func NewGate(buffer Buffer, scorer *relevance.Scorer, cfg GateConfig, logger gateLogger) (*Gate, error) {
	if buffer == nil {
		return nil, fmt.Errorf("%w: buffer is required", memory.ErrInvalidArgument)
	}
	if scorer == nil {
		return nil, fmt.Errorf("%w: scorer is required", memory.ErrInvalidArgument)
	}
	def := DefaultGateConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if !inUnit(cfg.ScoreThreshold) || !inUnit(cfg.ConfidenceThreshold) {
		return nil, fmt.Errorf("%w: gate thresholds must be in [0,1]", memory.ErrInvalidArgument)
	}
	if logger == nil {
		logger = nopGateLogger{}
	}
	return &Gate{buffer: buffer, scorer: scorer, cfg: cfg, logger: logger}, nil
}

// Config returns the gate configuration after defaults were applied.
func (g *Gate) Config() GateConfig { return g.cfg }

// Load returns the scope's live working memory, newest first, without the
// excluded ids.
func (g *Gate) Load(ctx context.Context, scope string, excludeIDs []string) ([]memory.Item, error) {
	if scope == "" {
		return nil, memory.ErrInvalidScope
	}
	items, err := g.buffer.Recent(ctx, scope, g.cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	now := g.scorer.Now()
	out := make([]memory.Item, 0, len(items))
	for _, it := range items {
		if _, skip := excluded[it.ID]; skip {
			continue
		}
		if it.Expired(now) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// CheckSufficiency ranks the scope's working memory against the query.
// The result is sufficient when the best turn scores above the score
// threshold and the intent confidence exceeds the confidence threshold.
// Buffer and scoring failures never surface: they are logged and reported
// as insufficient. Only invalid arguments return an error.
func (g *Gate) CheckSufficiency(ctx context.Context, req GateRequest) (*GateResult, error) {
	if err := g.validate(req); err != nil {
		return nil, err
	}

	limit := g.cfg.Limit
	if req.Limit > 0 {
		limit = req.Limit
	}
	threshold := g.cfg.ConfidenceThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}

	empty := &GateResult{Items: []memory.Scored{}, MemoryIDs: []string{}}

	items, err := g.Load(ctx, req.Scope, req.ExcludeIDs)
	if err != nil {
		g.logger.Warn("working memory unavailable, deferring to long-term retrieval",
			"scope", req.Scope, "error", err)
		return empty, nil
	}
	if len(items) == 0 {
		return empty, nil
	}

	ranked, err := g.rank(items, req)
	if err != nil {
		g.logger.Warn("working memory scoring failed, deferring to long-term retrieval",
			"scope", req.Scope, "error", err)
		return empty, nil
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	res := &GateResult{
		Items:     ranked,
		MemoryIDs: memory.IDs(ranked),
	}
	if len(ranked) > 0 {
		res.HighestScore = ranked[0].Score
	}
	res.Sufficient = res.HighestScore > g.cfg.ScoreThreshold && req.IntentConfidence > threshold

	g.logger.Debug("working memory gate",
		"scope", req.Scope,
		"candidates", len(items),
		"highest_score", res.HighestScore,
		"intent_confidence", req.IntentConfidence,
		"sufficient", res.Sufficient)
	return res, nil
}

func (g *Gate) rank(items []memory.Item, req GateRequest) (ranked []memory.Scored, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring panic: %v", r)
		}
	}()
	scorer := g.scorer
	if req.Scorer != nil {
		scorer = req.Scorer
	}
	return scorer.Rank(items, relevance.Query{
		Text:          req.Query,
		Tags:          req.QueryTags,
		UseImportance: req.UseImportance,
	}), nil
}

func (g *Gate) validate(req GateRequest) error {
	if req.Scope == "" {
		return fmt.Errorf("check sufficiency: %w", memory.ErrInvalidScope)
	}
	if req.Limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0, got %d", memory.ErrInvalidArgument, req.Limit)
	}
	if !inUnit(req.IntentConfidence) {
		return fmt.Errorf("%w: intent confidence must be in [0,1], got %v", memory.ErrInvalidArgument, req.IntentConfidence)
	}
	if req.ConfidenceThreshold != nil && !inUnit(*req.ConfidenceThreshold) {
		return fmt.Errorf("%w: confidence threshold must be in [0,1], got %v", memory.ErrInvalidArgument, *req.ConfidenceThreshold)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
