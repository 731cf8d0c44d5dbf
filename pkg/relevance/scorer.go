package relevance

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/tags"
)

// Query is the query side of a scoring pass.
type Query struct {
	// Text is the raw query. Used for tag extraction when Tags is empty.
	Text string

	// Tags are caller-supplied query tags.
	Tags []string

	// UseImportance includes the importance sub-score. When false its weight
	// is dropped from the divisor as well.
	UseImportance bool
}

// Scorer computes relevance scores. A Scorer is immutable and safe for
// concurrent use.
type Scorer struct {
	cfg       Config
	extractor tags.Extractor
	now       func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithTagExtractor sets the extractor used when a query carries no tags.
func WithTagExtractor(e tags.Extractor) Option {
	return func(s *Scorer) { s.extractor = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// NewScorer validates cfg and returns a Scorer.
func NewScorer(cfg Config, opts ...Option) (*Scorer, error) {
	if cfg.RecencyMode == "" {
		cfg.RecencyMode = RecencyStep
	}
	if cfg.KindWeights == nil {
		cfg.KindWeights = DefaultKindWeights()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{
		cfg:       cfg,
		extractor: tags.NewKeywordExtractor(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Now returns the scorer's current time.
func (s *Scorer) Now() time.Time { return s.now() }

// QueryTags returns the tags a pass will match against: the caller's tags
// when present, otherwise tags extracted from the query text.
func (s *Scorer) QueryTags(q Query) []string {
	if len(q.Tags) > 0 {
		return memory.NormalizeTags(q.Tags)
	}
	if q.Text == "" || s.extractor == nil {
		return nil
	}
	return memory.NormalizeTags(s.extractor.ExtractTags(q.Text))
}

// Score computes the relevance of a single item.
func (s *Scorer) Score(item memory.Item, q Query) memory.Scored {
	return s.score(item, s.QueryTags(q), q.UseImportance, s.now())
}

// Rank scores every live item and returns them ordered by score, then
// effective time (newest first), then id. Expired items are dropped.
func (s *Scorer) Rank(items []memory.Item, q Query) []memory.Scored {
	now := s.now()
	queryTags := s.QueryTags(q)

	out := make([]memory.Scored, 0, len(items))
	for _, it := range items {
		if it.Expired(now) {
			continue
		}
		out = append(out, s.score(it, queryTags, q.UseImportance, now))
	}
	memory.SortScored(out)
	return out
}

func (s *Scorer) score(item memory.Item, queryTags []string, useImportance bool, now time.Time) memory.Scored {
	w := s.cfg.Weights
	b := memory.Breakdown{
		Semantic:   s.semantic(item),
		Importance: s.importance(item),
		TagMatch:   TagMatch(item.Tags, queryTags),
		Recency:    s.recency(item, now),
	}

	importanceWeight := w.Importance
	if !useImportance {
		importanceWeight = 0
	}

	sum := w.Semantic*b.Semantic + importanceWeight*b.Importance + w.TagMatch*b.TagMatch + w.Recency*b.Recency
	div := w.Semantic + importanceWeight + w.TagMatch + w.Recency

	if w.ContentValue > 0 {
		b.ContentValue = contentValue(item)
		sum += w.ContentValue * b.ContentValue
		div += w.ContentValue
	}
	if w.Length > 0 {
		b.Length = lengthScore(item)
		sum += w.Length * b.Length
		div += w.Length
	}
	if w.UserMessage > 0 {
		b.UserMessage = userMessageScore(item)
		sum += w.UserMessage * b.UserMessage
		div += w.UserMessage
	}

	total := 0.0
	if div > 0 {
		total = memory.Clamp01(sum / div)
	}
	return memory.Scored{Item: item, Score: total, Breakdown: b}
}

func (s *Scorer) semantic(item memory.Item) float64 {
	if item.Similarity == nil {
		return memory.Clamp01(s.cfg.WorkingMemoryPrior)
	}
	return memory.Clamp01(*item.Similarity)
}

func (s *Scorer) importance(item memory.Item) float64 {
	return memory.Clamp01(item.BaseImportance() * s.cfg.kindWeight(item.Kind))
}

func (s *Scorer) recency(item memory.Item, now time.Time) float64 {
	age := now.Sub(item.EffectiveTime())
	if age < 0 {
		age = 0
	}
	base := memory.Clamp01(s.cfg.RecencyBaseline)

	if s.cfg.RecencyMode == RecencyExponential {
		v := math.Pow(0.5, age.Hours()/s.cfg.RecencyHalfLife.Hours())
		return math.Max(base, memory.Clamp01(v))
	}
	if age <= s.cfg.RecencyWindow {
		return 1.0
	}
	return base
}

// contentValue rewards items that carry several distinct meaningful terms.
func contentValue(item memory.Item) float64 {
	distinct := make(map[string]struct{})
	for _, tok := range tags.Tokenize(item.Content) {
		distinct[tok] = struct{}{}
	}
	return memory.Clamp01(float64(len(distinct)) / 12.0)
}

// lengthScore penalises fragments and very long bodies.
func lengthScore(item memory.Item) float64 {
	n := utf8.RuneCountInString(item.Content)
	switch {
	case n == 0:
		return 0
	case n < 20:
		return 0.3
	case n <= 600:
		return 1.0
	default:
		return math.Max(0.5, 600.0/float64(n))
	}
}

// userMessageScore prefers what the user said over assistant turns.
func userMessageScore(item memory.Item) float64 {
	switch {
	case item.Role == "user":
		return 1.0
	case item.NormalizedKind() == memory.KindMessage:
		return 0.4
	default:
		return 0.7
	}
}
