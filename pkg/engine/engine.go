// Package engine wires the relevance pipeline: the working-memory gate,
// long-term retrieval, ranking, result caching and consolidation.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/goclaw/recall/pkg/consolidation"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/relevance"
	"github.com/goclaw/recall/pkg/retrieval"
	"github.com/goclaw/recall/pkg/tags"
	"github.com/goclaw/recall/pkg/workingmemory"
)

// Defaults.
const (
	DefaultLimit        = 10
	DefaultAsyncTimeout = 30 * time.Second
)

type engineState int32

const (
	stateIdle engineState = iota
	stateRunning
	stateStopped
)

// CacheConfig configures the retrieval result cache.
type CacheConfig struct {
	Enabled       bool
	TTL           time.Duration
	SweepInterval time.Duration
}

// Config holds the engine configuration.
type Config struct {
	Version string

	Relevance     relevance.Config
	Gate          workingmemory.GateConfig
	Retrieval     retrieval.AdapterConfig
	Consolidation consolidation.Options

	// EnrichRate caps enrichment calls per second. Zero disables the limit.
	EnrichRate  float64
	EnrichBurst int

	// DefaultLimit is used when a request leaves Limit at zero.
	DefaultLimit int

	// UseImportance is the default for requests that do not set it.
	UseImportance bool

	Cache CacheConfig

	// AsyncTimeout bounds background consolidation passes.
	AsyncTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Relevance:     relevance.DefaultConfig(),
		Gate:          workingmemory.DefaultGateConfig(),
		Retrieval:     retrieval.DefaultAdapterConfig(),
		Consolidation: consolidation.DefaultOptions(),
		DefaultLimit:  DefaultLimit,
		UseImportance: true,
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           DefaultCacheTTL,
			SweepInterval: DefaultCacheSweepInterval,
		},
		AsyncTimeout: DefaultAsyncTimeout,
	}
}

// RetrieveOptions tunes one retrieval.
type RetrieveOptions struct {
	// Limit is the maximum number of items returned. Zero uses the default.
	Limit int

	// Tags are explicit query tags; extracted from the query when empty.
	Tags []string

	// IntentConfidence is the upstream classifier's confidence in [0,1].
	IntentConfidence float64

	// ConfidenceThreshold overrides the gate's intent threshold.
	ConfidenceThreshold *float64

	// ExcludeIDs are never returned, e.g. the message being answered.
	ExcludeIDs []string

	// UseImportance overrides the engine default when set.
	UseImportance *bool

	// BypassCache forces a fresh computation.
	BypassCache bool
}

// RetrieveResult is the ranked context for one query.
type RetrieveResult struct {
	Scope                 string          `json:"scope"`
	Items                 []memory.Scored `json:"items"`
	IDs                   []string        `json:"ids"`
	FromWorkingMemoryOnly bool            `json:"from_working_memory_only"`
	HighestWorkingScore   float64         `json:"highest_working_score"`
	LongTermCandidates    int             `json:"long_term_candidates"`
	Cached                bool            `json:"cached"`
}

func (r *RetrieveResult) clone() *RetrieveResult {
	out := *r
	out.Items = make([]memory.Scored, len(r.Items))
	for i, s := range r.Items {
		s.Item = s.Item.Clone()
		out.Items[i] = s
	}
	out.IDs = append([]string(nil), r.IDs...)
	return &out
}

// EngineStatus represents the engine's current status.
type EngineStatus struct {
	State        string `json:"state"`
	Uptime       string `json:"uptime,omitempty"`
	Version      string `json:"version,omitempty"`
	CacheEntries int    `json:"cache_entries"`
}

// Engine is the relevance engine. It is safe for concurrent use.
type Engine struct {
	cfg       Config
	buffer    workingmemory.Buffer
	extractor tags.Extractor
	enricher  consolidation.Enricher

	scorer       atomic.Pointer[relevance.Scorer]
	gate         *workingmemory.Gate
	adapter      *retrieval.Adapter
	consolidator *consolidation.Consolidator
	cache        *resultCache

	events  EventRecorder
	metrics MetricsRecorder
	logger  logger.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     atomic.Int32
	startedAt time.Time
	sweeper   *sweepLoop
	bgCtx     context.Context
	bgCancel  context.CancelFunc
	inflight  sync.WaitGroup
}

// New creates an engine over a working-memory buffer and a long-term
// searcher. writer may be nil, in which case consolidation is unavailable.
func New(cfg Config, buffer workingmemory.Buffer, searcher retrieval.Searcher, writer consolidation.Writer, opts ...Option) (*Engine, error) {
	if buffer == nil {
		return nil, fmt.Errorf("%w: working-memory buffer is required", memory.ErrInvalidArgument)
	}
	if searcher == nil {
		return nil, fmt.Errorf("%w: searcher is required", memory.ErrInvalidArgument)
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = DefaultAsyncTimeout
	}

	e := &Engine{
		cfg:       cfg,
		buffer:    buffer,
		extractor: tags.NewKeywordExtractor(),
		events:    nopEventRecorder{},
		metrics:   nopMetricsRecorder{},
		logger:    logger.Global(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")

	scorer, err := e.newScorer(cfg.Relevance)
	if err != nil {
		return nil, err
	}
	e.scorer.Store(scorer)

	e.gate, err = workingmemory.NewGate(buffer, scorer, cfg.Gate, e.logger)
	if err != nil {
		return nil, err
	}

	e.adapter, err = retrieval.NewAdapter(searcher, cfg.Retrieval,
		retrieval.WithLogger(e.logger),
		retrieval.WithObserver(searchObserver{metrics: e.metrics}),
		retrieval.WithClock(e.now),
	)
	if err != nil {
		return nil, err
	}

	if writer != nil {
		copts := []consolidation.Option{
			consolidation.WithLogger(e.logger),
			consolidation.WithClock(e.now),
		}
		if e.enricher != nil {
			copts = append(copts, consolidation.WithEnricher(e.enricher))
		}
		if cfg.EnrichRate > 0 {
			copts = append(copts, consolidation.WithRateLimit(rate.Limit(cfg.EnrichRate), cfg.EnrichBurst))
		}
		e.consolidator, err = consolidation.New(writer, copts...)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Cache.Enabled {
		e.cache = newResultCache(cfg.Cache.TTL, e.now)
	}
	return e, nil
}

func (e *Engine) newScorer(cfg relevance.Config) (*relevance.Scorer, error) {
	return relevance.NewScorer(cfg,
		relevance.WithTagExtractor(e.extractor),
		relevance.WithClock(e.now),
	)
}

// Start starts the cache sweeper and marks the engine running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if engineState(e.state.Load()) == stateRunning {
		return ErrAlreadyRunning
	}

	e.bgCtx, e.bgCancel = context.WithCancel(context.WithoutCancel(ctx))
	if e.cache != nil {
		e.sweeper = startSweepLoop(e.bgCtx, e.cfg.Cache.SweepInterval, func() {
			e.metrics.SetCacheEntries(e.cache.sweep())
		})
	}
	e.startedAt = e.now()
	e.state.Store(int32(stateRunning))
	e.logger.Info("engine started", "version", e.cfg.Version)
	return nil
}

// Stop waits for background consolidations and stops the sweeper. When ctx
// ends first the remaining passes are cancelled and ctx.Err() returned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if engineState(e.state.Load()) != stateRunning {
		return nil
	}
	e.state.Store(int32(stateStopped))

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.logger.Warn("stop deadline reached, cancelling background consolidations")
	}

	e.bgCancel()
	if e.sweeper != nil {
		e.sweeper.stop()
		e.sweeper = nil
	}
	e.logger.Info("engine stopped")
	return err
}

func (e *Engine) running() bool {
	return engineState(e.state.Load()) == stateRunning
}

// IsHealthy returns true if the engine is healthy.
func (e *Engine) IsHealthy() bool {
	return e.running()
}

// IsReady returns true if the engine is ready to accept requests.
func (e *Engine) IsReady() bool {
	return e.running() && e.scorer.Load() != nil
}

// GetStatus returns detailed engine status.
func (e *Engine) GetStatus() *EngineStatus {
	status := &EngineStatus{State: "unknown", Version: e.cfg.Version}
	switch engineState(e.state.Load()) {
	case stateIdle:
		status.State = "idle"
	case stateRunning:
		status.State = "running"
		e.mu.Lock()
		status.Uptime = e.now().Sub(e.startedAt).Round(time.Second).String()
		e.mu.Unlock()
	case stateStopped:
		status.State = "stopped"
	}
	if e.cache != nil {
		status.CacheEntries = e.cache.len()
	}
	return status
}

// Scorer returns the scorer currently in use.
func (e *Engine) Scorer() *relevance.Scorer {
	return e.scorer.Load()
}

// SetScorerConfig swaps the scoring configuration. In-flight retrievals
// finish with the scorer they started with; cached results are dropped.
func (e *Engine) SetScorerConfig(cfg relevance.Config) error {
	scorer, err := e.newScorer(cfg)
	if err != nil {
		return err
	}
	e.scorer.Store(scorer)
	e.FlushCache()
	e.logger.Info("scorer configuration updated")
	return nil
}

// FlushCache drops every cached retrieval result.
func (e *Engine) FlushCache() {
	if e.cache == nil {
		return
	}
	e.cache.flush()
	e.metrics.SetCacheEntries(0)
	e.emit("", PhaseCacheFlushed, nil)
}

// RetrieveMemories returns the context for query. The gate decides first
// whether recent turns suffice; otherwise long-term candidates, excluding
// anything already surfaced, are ranked with the same scorer and merged.
func (e *Engine) RetrieveMemories(ctx context.Context, scope, query string, opts RetrieveOptions) (*RetrieveResult, error) {
	if !e.running() {
		return nil, ErrNotRunning
	}
	if scope == "" {
		return nil, fmt.Errorf("retrieve: %w", memory.ErrInvalidScope)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be >= 0, got %d", memory.ErrInvalidArgument, opts.Limit)
	}
	if opts.Limit == 0 {
		opts.Limit = e.cfg.DefaultLimit
	}
	useImportance := e.cfg.UseImportance
	if opts.UseImportance != nil {
		useImportance = *opts.UseImportance
	}
	threshold := e.gate.Config().ConfidenceThreshold
	if opts.ConfidenceThreshold != nil {
		threshold = *opts.ConfidenceThreshold
	}
	// The scorer is loaded inside compute, after the cache has read its
	// epoch. SetScorerConfig stores the scorer before bumping the epoch, so
	// a result is never cached under an epoch newer than its weights.
	compute := func(ctx context.Context) (*RetrieveResult, error) {
		return e.retrieve(ctx, scope, query, opts, e.scorer.Load(), useImportance, threshold)
	}
	if e.cache == nil || opts.BypassCache {
		return compute(ctx)
	}

	key := cacheKey(scope, query, opts, useImportance, threshold)
	if res, ok := e.cache.get(key); ok {
		e.metrics.RecordCache(CacheHit)
		out := res.clone()
		out.Cached = true
		return out, nil
	}

	res, shared, err := e.cache.do(ctx, key, compute)
	if err != nil {
		return nil, err
	}
	if shared {
		e.metrics.RecordCache(CacheShared)
	} else {
		e.metrics.RecordCache(CacheMiss)
	}
	e.metrics.SetCacheEntries(e.cache.len())
	return res.clone(), nil
}

func (e *Engine) retrieve(ctx context.Context, scope, query string, opts RetrieveOptions, scorer *relevance.Scorer, useImportance bool, threshold float64) (*RetrieveResult, error) {
	ctx, span := engineTracer().Start(ctx, spanRetrieve, trace.WithAttributes(
		attribute.String("recall.scope", scope),
		attribute.Int("recall.limit", opts.Limit),
	))
	defer span.End()

	start := e.now()

	gateCtx, gateSpan := engineTracer().Start(ctx, spanGate)
	gate, err := e.gate.CheckSufficiency(gateCtx, workingmemory.GateRequest{
		Scope:               scope,
		Query:               query,
		QueryTags:           opts.Tags,
		IntentConfidence:    opts.IntentConfidence,
		Limit:               opts.Limit,
		ConfidenceThreshold: &threshold,
		ExcludeIDs:          opts.ExcludeIDs,
		UseImportance:       useImportance,
		Scorer:              scorer,
	})
	if err != nil {
		gateSpan.RecordError(err)
		gateSpan.SetStatus(codes.Error, err.Error())
		gateSpan.End()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	gateSpan.SetAttributes(
		attribute.Bool("recall.sufficient", gate.Sufficient),
		attribute.Float64("recall.highest_score", gate.HighestScore),
		attribute.Int("recall.working_items", len(gate.Items)),
	)
	gateSpan.End()

	e.metrics.RecordGateDecision(gate.Sufficient, gate.HighestScore)
	e.emit(scope, PhaseGate, map[string]any{
		"sufficient":    gate.Sufficient,
		"highest_score": gate.HighestScore,
		"memory_ids":    gate.MemoryIDs,
	})

	res := &RetrieveResult{
		Scope:               scope,
		HighestWorkingScore: gate.HighestScore,
	}
	path := PathWorkingMemory

	if gate.Sufficient {
		res.Items = gate.Items
		res.FromWorkingMemoryOnly = true
	} else {
		path = PathCombined
		exclude := make([]string, 0, len(opts.ExcludeIDs)+len(gate.MemoryIDs))
		exclude = append(exclude, opts.ExcludeIDs...)
		exclude = append(exclude, gate.MemoryIDs...)

		searchCtx, searchSpan := engineTracer().Start(ctx, spanSearch)
		cands, err := e.adapter.RetrieveCandidates(searchCtx, retrieval.CandidateRequest{
			Scope:      scope,
			Query:      query,
			ExcludeIDs: exclude,
			Tags:       opts.Tags,
			Limit:      opts.Limit,
		})
		searchSpan.SetAttributes(attribute.Int("recall.candidates", len(cands)))
		searchSpan.End()
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		ranked := scorer.Rank(cands, relevance.Query{
			Text:          query,
			Tags:          opts.Tags,
			UseImportance: useImportance,
		})
		res.LongTermCandidates = len(ranked)
		res.Items = retrieval.Combine(gate.Items, ranked, opts.Limit)
	}
	if res.Items == nil {
		res.Items = []memory.Scored{}
	}
	res.IDs = memory.IDs(res.Items)

	elapsed := e.now().Sub(start)
	e.metrics.RecordRetrieval(path, elapsed, len(res.Items))
	e.emit(scope, PhaseRetrieval, map[string]any{
		"path":        path,
		"ids":         res.IDs,
		"long_term":   res.LongTermCandidates,
		"duration_ms": elapsed.Milliseconds(),
	})
	span.SetAttributes(
		attribute.String("recall.path", path),
		attribute.Int("recall.items", len(res.Items)),
	)
	return res, nil
}

// GetWorkingMemory returns the live recent turns of scope, newest first.
func (e *Engine) GetWorkingMemory(ctx context.Context, scope string, excludeIDs []string) ([]memory.Item, error) {
	if !e.running() {
		return nil, ErrNotRunning
	}
	return e.gate.Load(ctx, scope, excludeIDs)
}

// RecordTurn appends a turn to working memory and invalidates the scope's
// cached results. Missing ids, kinds and times are filled in; priority and
// confidence are stored as given.
func (e *Engine) RecordTurn(ctx context.Context, item memory.Item) (memory.Item, error) {
	if !e.running() {
		return memory.Item{}, ErrNotRunning
	}
	ctx, span := engineTracer().Start(ctx, spanRecordTurn, trace.WithAttributes(
		attribute.String("recall.scope", item.Scope),
	))
	defer span.End()

	if item.Scope == "" {
		return memory.Item{}, fmt.Errorf("record turn: %w", memory.ErrInvalidScope)
	}
	if strings.TrimSpace(item.Content) == "" {
		return memory.Item{}, fmt.Errorf("record turn: %w", memory.ErrEmptyContent)
	}

	item = item.Clone()
	if item.ID == "" {
		item.ID = newTurnID()
	}
	if item.Kind == "" {
		item.Kind = memory.KindMessage
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = e.now()
	}
	item.Tags = memory.NormalizeTags(item.Tags)

	if err := e.buffer.Append(ctx, item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return memory.Item{}, err
	}
	if e.cache != nil {
		e.cache.invalidateScope(item.Scope)
	}
	e.emit(item.Scope, PhaseTurnRecorded, map[string]any{
		"id":   item.ID,
		"kind": string(item.Kind),
	})
	return item, nil
}

// ConsolidateWorkingMemory promotes the best items of scope to durable
// storage. When items is nil the scope's working memory is used; when opts
// is nil the configured options apply.
func (e *Engine) ConsolidateWorkingMemory(ctx context.Context, scope string, items []memory.Item, opts *consolidation.Options) (*consolidation.Result, error) {
	if !e.running() {
		return nil, ErrNotRunning
	}
	return e.consolidate(ctx, scope, items, opts)
}

// ConsolidateAsync runs a consolidation pass in the background. Stop waits
// for it; the outcome is reported through events and metrics.
func (e *Engine) ConsolidateAsync(scope string, items []memory.Item, opts *consolidation.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running() {
		return ErrNotRunning
	}
	if e.consolidator == nil {
		return ErrNoWriter
	}
	if scope == "" {
		return fmt.Errorf("consolidate: %w", memory.ErrInvalidScope)
	}

	items = cloneItems(items)
	ctx, cancel := context.WithTimeout(e.bgCtx, e.cfg.AsyncTimeout)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer cancel()
		if _, err := e.consolidate(ctx, scope, items, opts); err != nil {
			e.logger.Warn("background consolidation failed", "scope", scope, "error", err)
		}
	}()
	return nil
}

func (e *Engine) consolidate(ctx context.Context, scope string, items []memory.Item, opts *consolidation.Options) (*consolidation.Result, error) {
	if e.consolidator == nil {
		return nil, ErrNoWriter
	}
	if scope == "" {
		return nil, fmt.Errorf("consolidate: %w", memory.ErrInvalidScope)
	}
	o := e.cfg.Consolidation
	if opts != nil {
		o = *opts
	}

	ctx, span := engineTracer().Start(ctx, spanConsolidate, trace.WithAttributes(
		attribute.String("recall.scope", scope),
	))
	defer span.End()

	if items == nil {
		var err error
		items, err = e.buffer.Recent(ctx, scope, e.gate.Config().BufferSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	start := e.now()
	res, err := e.consolidator.Consolidate(ctx, scope, items, o)
	elapsed := e.now().Sub(start)

	if res != nil {
		e.metrics.RecordConsolidation(len(res.Promoted), len(res.Skipped), elapsed, err != nil)
		if len(res.Promoted) > 0 && e.cache != nil {
			e.cache.invalidateScope(scope)
		}
		e.emit(scope, PhaseConsolidation, map[string]any{
			"promoted":    res.SourceIDs(),
			"durable_ids": res.DurableIDs(),
			"skipped":     len(res.Skipped),
			"considered":  res.Considered,
			"duration_ms": elapsed.Milliseconds(),
		})
		span.SetAttributes(attribute.Int("recall.promoted", len(res.Promoted)))
	} else {
		e.metrics.RecordConsolidation(0, 0, elapsed, true)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func newTurnID() string {
	return uuid.NewString()
}

func cloneItems(items []memory.Item) []memory.Item {
	if items == nil {
		return nil
	}
	out := make([]memory.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i > 0 && s == out[n-1] {
			continue
		}
		out[n] = s
		n++
	}
	return out[:n]
}
