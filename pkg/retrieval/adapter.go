package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/goclaw/recall/pkg/memory"
)

// Adapter defaults.
const (
	DefaultLimit     = 10
	DefaultOverFetch = 3
	DefaultTimeout   = 5 * time.Second
)

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	// OverFetch multiplies the requested limit to leave re-ranking headroom.
	OverFetch int

	// Timeout bounds a single search call. Zero uses the default.
	Timeout time.Duration
}

// DefaultAdapterConfig returns the default adapter configuration.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{OverFetch: DefaultOverFetch, Timeout: DefaultTimeout}
}

// CandidateRequest is one long-term candidate fetch.
type CandidateRequest struct {
	Scope      string
	Query      string
	ExcludeIDs []string
	Tags       []string

	// Limit is the number of items the caller wants after re-ranking.
	Limit int
}

// SearchReport summarises one search call for observers.
type SearchReport struct {
	Scope     string
	Requested int
	Hits      int
	Kept      int
	Malformed int
	Duration  time.Duration
	Err       error
}

// Observer receives a report after every search call.
type Observer interface {
	ObserveSearch(SearchReport)
}

type adapterLogger interface {
	Warn(msg string, args ...any)
}

type nopAdapterLogger struct{}

func (nopAdapterLogger) Warn(string, ...any) {}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(l adapterLogger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithObserver registers an observer for search reports.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// Adapter wraps a Searcher and turns its hits into memory items.
type Adapter struct {
	searcher Searcher
	cfg      AdapterConfig
	logger   adapterLogger
	observer Observer
	now      func() time.Time
}

// NewAdapter creates an Adapter over searcher.
func NewAdapter(searcher Searcher, cfg AdapterConfig, opts ...Option) (*Adapter, error) {
	if searcher == nil {
		return nil, fmt.Errorf("%w: searcher is required", memory.ErrInvalidArgument)
	}
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = DefaultOverFetch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	a := &Adapter{
		searcher: searcher,
		cfg:      cfg,
		logger:   nopAdapterLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RetrieveCandidates asks the backend for Limit*OverFetch hits of the scope,
// excluding the given ids, and converts them into items. Malformed hits are
// skipped. A failing or timed-out backend yields an empty list, not an error;
// only invalid arguments return an error.
func (a *Adapter) RetrieveCandidates(ctx context.Context, req CandidateRequest) ([]memory.Item, error) {
	if req.Scope == "" {
		return nil, fmt.Errorf("retrieve candidates: %w", memory.ErrInvalidScope)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be >= 0, got %d", memory.ErrInvalidArgument, req.Limit)
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	report := SearchReport{Scope: req.Scope, Requested: limit * a.cfg.OverFetch}
	defer func() {
		if a.observer != nil {
			a.observer.ObserveSearch(report)
		}
	}()

	searchCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	hits, err := a.search(searchCtx, req, report.Requested)
	report.Duration = time.Since(start)
	if err != nil {
		report.Err = err
		a.logger.Warn("long-term search failed, continuing without long-term context",
			"scope", req.Scope, "error", err)
		return []memory.Item{}, nil
	}
	report.Hits = len(hits)

	excluded := make(map[string]struct{}, len(req.ExcludeIDs))
	for _, id := range req.ExcludeIDs {
		excluded[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(hits))
	now := a.now()

	items := make([]memory.Item, 0, len(hits))
	for _, hit := range hits {
		if s := hitScope(hit); s != "" && s != req.Scope {
			a.logger.Warn("dropping hit from foreign scope", "scope", req.Scope, "hit_id", hit.ID)
			continue
		}
		item, err := ItemFromHit(req.Scope, hit)
		if err != nil {
			report.Malformed++
			a.logger.Warn("skipping malformed search hit", "scope", req.Scope, "error", err)
			continue
		}
		if _, skip := excluded[item.ID]; skip {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		if item.Expired(now) {
			continue
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}
	report.Kept = len(items)
	return items, nil
}

// search runs the backend call so that a hung backend cannot outlive the
// timeout and a panicking one counts as a failure.
func (a *Adapter) search(ctx context.Context, req CandidateRequest, n int) ([]RawHit, error) {
	type result struct {
		hits []RawHit
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("search panic: %v", r)}
			}
		}()
		hits, err := a.searcher.Search(ctx, req.Scope, req.Query,
			Filter{Scope: req.Scope, ExcludeIDs: req.ExcludeIDs},
			SearchOptions{Limit: n, Tags: req.Tags})
		ch <- result{hits: hits, err: err}
	}()

	select {
	case r := <-ch:
		return r.hits, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
