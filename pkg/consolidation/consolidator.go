package consolidation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/goclaw/recall/pkg/memory"
)

// ErrWriteFailed wraps durable write failures reported in Result.Skipped.
var ErrWriteFailed = errors.New("consolidation: write failed")

// Defaults.
const (
	DefaultMinConfidence = 0.7
	DefaultMaxItems      = 10
	DefaultEnrichTimeout = 10 * time.Second
)

// Options controls one consolidation pass.
type Options struct {
	// MinConfidence drops items below this confidence.
	MinConfidence float64

	// MaxItems caps the number of promotions. Zero uses the default.
	MaxItems int

	// GenerateInsights enables content enrichment.
	GenerateInsights bool

	// EnrichTimeout bounds each enrichment call. Zero uses the default.
	EnrichTimeout time.Duration
}

// DefaultOptions returns the default pass options.
func DefaultOptions() Options {
	return Options{
		MinConfidence: DefaultMinConfidence,
		MaxItems:      DefaultMaxItems,
		EnrichTimeout: DefaultEnrichTimeout,
	}
}

func (o Options) validate() error {
	if math.IsNaN(o.MinConfidence) || o.MinConfidence < 0 || o.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence must be in [0,1], got %v", memory.ErrInvalidArgument, o.MinConfidence)
	}
	if o.MaxItems < 0 {
		return fmt.Errorf("%w: max items must be >= 0, got %d", memory.ErrInvalidArgument, o.MaxItems)
	}
	if o.EnrichTimeout < 0 {
		return fmt.Errorf("%w: enrich timeout must be >= 0", memory.ErrInvalidArgument)
	}
	return nil
}

// Promotion is one item written to durable storage.
type Promotion struct {
	SourceID    string      `json:"source_id"`
	DurableID   string      `json:"durable_id"`
	DurableKind DurableKind `json:"durable_kind"`
	Score       float64     `json:"score"`
	Enriched    bool        `json:"enriched"`
}

// Skip is a selected item that was not promoted.
type Skip struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// Result is the outcome of a consolidation pass.
type Result struct {
	Promoted   []Promotion `json:"promoted"`
	Skipped    []Skip      `json:"skipped,omitempty"`
	Considered int         `json:"considered"`
	Eligible   int         `json:"eligible"`
}

// SourceIDs returns the ids of the promoted working-memory items.
func (r *Result) SourceIDs() []string {
	ids := make([]string, len(r.Promoted))
	for i, p := range r.Promoted {
		ids[i] = p.SourceID
	}
	return ids
}

// DurableIDs returns the ids of the records written.
func (r *Result) DurableIDs() []string {
	ids := make([]string, len(r.Promoted))
	for i, p := range r.Promoted {
		ids[i] = p.DurableID
	}
	return ids
}

type consolidatorLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopConsolidatorLogger struct{}

func (nopConsolidatorLogger) Debug(string, ...any) {}
func (nopConsolidatorLogger) Warn(string, ...any)  {}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithEnricher sets the content enricher used when GenerateInsights is set.
func WithEnricher(e Enricher) Option {
	return func(c *Consolidator) { c.enricher = e }
}

// WithRateLimit caps enrichment calls per second across passes.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Consolidator) {
		if limit > 0 {
			if burst <= 0 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l consolidatorLogger) Option {
	return func(c *Consolidator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Consolidator) { c.now = now }
}

// Consolidator promotes working-memory items into durable storage.
type Consolidator struct {
	writer   Writer
	enricher Enricher
	limiter  *rate.Limiter
	logger   consolidatorLogger
	now      func() time.Time
}

// New creates a Consolidator writing to writer.
func New(writer Writer, opts ...Option) (*Consolidator, error) {
	if writer == nil {
		return nil, fmt.Errorf("%w: writer is required", memory.ErrInvalidArgument)
	}
	c := &Consolidator{
		writer: writer,
		logger: nopConsolidatorLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type candidate struct {
	item  memory.Item
	score float64
}

// Select returns the items a pass would promote, best first, with their
// promotion scores. Items below the confidence floor, expired items and
// items of another scope are never selected.
func (c *Consolidator) Select(scope string, items []memory.Item, opts Options) ([]memory.Item, []float64, error) {
	if scope == "" {
		return nil, nil, memory.ErrInvalidScope
	}
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	cands := c.rank(scope, items, opts, c.now())
	out := make([]memory.Item, len(cands))
	scores := make([]float64, len(cands))
	for i, cd := range cands {
		out[i] = cd.item
		scores[i] = cd.score
	}
	return out, scores, nil
}

func (c *Consolidator) rank(scope string, items []memory.Item, opts Options, now time.Time) []candidate {
	maxItems := opts.MaxItems
	if maxItems == 0 {
		maxItems = DefaultMaxItems
	}

	seen := make(map[string]struct{}, len(items))
	cands := make([]candidate, 0, len(items))
	for _, it := range items {
		if it.Scope != "" && it.Scope != scope {
			continue
		}
		if it.ID == "" || strings.TrimSpace(it.Content) == "" {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		if it.Expired(now) {
			continue
		}
		if memory.Clamp01(it.Confidence) < opts.MinConfidence {
			continue
		}
		seen[it.ID] = struct{}{}
		it.Scope = scope
		cands = append(cands, candidate{item: it, score: PromotionScore(it, now)})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		ti, tj := cands[i].item.EffectiveTime(), cands[j].item.EffectiveTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return cands[i].item.ID < cands[j].item.ID
	})
	if len(cands) > maxItems {
		cands = cands[:maxItems]
	}
	return cands
}

// Consolidate promotes the best items of scope. Each selected item is
// written as a new durable record; a failed write skips that item only.
// Records are committed one by one, so when ctx is cancelled mid-pass the
// promotions made so far are returned together with ctx.Err().
func (c *Consolidator) Consolidate(ctx context.Context, scope string, items []memory.Item, opts Options) (*Result, error) {
	if scope == "" {
		return nil, fmt.Errorf("consolidate: %w", memory.ErrInvalidScope)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	now := c.now()
	cands := c.rank(scope, items, opts, now)
	res := &Result{
		Promoted:   make([]Promotion, 0, len(cands)),
		Considered: len(items),
		Eligible:   len(cands),
	}

	for _, cd := range cands {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		content := cd.item.Content
		if opts.GenerateInsights && c.enricher != nil {
			content = c.enrich(ctx, cd.item, opts)
		}

		rec := NewDurableRecord(cd.item, content, cd.score, now)
		id, err := c.writer.Write(ctx, rec)
		if err != nil {
			c.logger.Warn("skipping promotion after write failure",
				"scope", scope, "source_id", cd.item.ID, "error", err)
			res.Skipped = append(res.Skipped, Skip{
				SourceID: cd.item.ID,
				Reason:   fmt.Errorf("%w: %v", ErrWriteFailed, err).Error(),
			})
			continue
		}

		res.Promoted = append(res.Promoted, Promotion{
			SourceID:    cd.item.ID,
			DurableID:   id,
			DurableKind: rec.DurableKind,
			Score:       cd.score,
			Enriched:    rec.Enriched,
		})
	}

	c.logger.Debug("consolidation pass complete",
		"scope", scope,
		"considered", res.Considered,
		"eligible", res.Eligible,
		"promoted", len(res.Promoted))
	return res, nil
}

// enrich returns the enriched content, or the original content when the
// enricher fails, times out or returns nothing.
func (c *Consolidator) enrich(ctx context.Context, item memory.Item, opts Options) string {
	timeout := opts.EnrichTimeout
	if timeout == 0 {
		timeout = DefaultEnrichTimeout
	}
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ectx); err != nil {
			c.logger.Warn("enrichment rate limited, keeping original content",
				"source_id", item.ID, "error", err)
			return item.Content
		}
	}

	type result struct {
		content string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("enricher panic: %v", r)}
			}
		}()
		s, err := c.enricher.Enrich(ectx, item.Clone())
		ch <- result{content: s, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			c.logger.Warn("enrichment failed, keeping original content",
				"source_id", item.ID, "error", r.err)
			return item.Content
		}
		if strings.TrimSpace(r.content) == "" {
			return item.Content
		}
		return r.content
	case <-ectx.Done():
		c.logger.Warn("enrichment timed out, keeping original content",
			"source_id", item.ID, "error", ectx.Err())
		return item.Content
	}
}
