package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/recall/pkg/memory"
)

type recordingObserver struct {
	mu      sync.Mutex
	reports []SearchReport
}

func (o *recordingObserver) ObserveSearch(r SearchReport) {
	o.mu.Lock()
	o.reports = append(o.reports, r)
	o.mu.Unlock()
}

func TestAdapter_OverFetchesAndFilters(t *testing.T) {
	var gotFilter Filter
	var gotOpts SearchOptions
	searcher := SearcherFunc(func(_ context.Context, scope, query string, filter Filter, opts SearchOptions) ([]RawHit, error) {
		gotFilter, gotOpts = filter, opts
		return []RawHit{
			{ID: "a", Content: "alpha", Score: 0.9, Metadata: map[string]any{"scope": "u1", "kind": "goal"}},
			{ID: "b", Content: "beta", Score: 0.5},
		}, nil
	})

	a, err := NewAdapter(searcher, DefaultAdapterConfig())
	require.NoError(t, err)

	items, err := a.RetrieveCandidates(context.Background(), CandidateRequest{
		Scope:      "u1",
		Query:      "alpha",
		ExcludeIDs: []string{"x"},
		Tags:       []string{"t"},
		Limit:      4,
	})
	require.NoError(t, err)

	assert.Equal(t, 12, gotOpts.Limit)
	assert.Equal(t, []string{"t"}, gotOpts.Tags)
	assert.Equal(t, "u1", gotFilter.Scope)
	assert.Equal(t, []string{"x"}, gotFilter.ExcludeIDs)

	require.Len(t, items, 2)
	assert.Equal(t, memory.KindGoal, items[0].Kind)
	assert.Equal(t, "u1", items[0].Scope)
	assert.InDelta(t, 0.9, *items[0].Similarity, 1e-9)
}

func TestAdapter_MissingKindDefaultsToFact(t *testing.T) {
	searcher := SearcherFunc(func(context.Context, string, string, Filter, SearchOptions) ([]RawHit, error) {
		return []RawHit{{ID: "a", Content: "no kind here", Score: 0.4}}, nil
	})
	a, err := NewAdapter(searcher, DefaultAdapterConfig())
	require.NoError(t, err)

	items, err := a.RetrieveCandidates(context.Background(), CandidateRequest{Scope: "u1", Query: "q"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, memory.KindFact, items[0].Kind)
	assert.Equal(t, memory.DefaultPriority, items[0].Priority)
	assert.Equal(t, memory.DefaultConfidence, items[0].Confidence)
}

func TestAdapter_SkipsMalformedAndForeignHits(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	searcher := SearcherFunc(func(context.Context, string, string, Filter, SearchOptions) ([]RawHit, error) {
		return []RawHit{
			{ID: "", Content: "no id"},
			{ID: "bad-priority", Content: "x", Metadata: map[string]any{"priority": "high"}},
			{ID: "foreign", Content: "x", Metadata: map[string]any{"scope": "u2"}},
			{ID: "expired", Content: "x", Metadata: map[string]any{"expires_at": past}},
			{ID: "excluded", Content: "x"},
			{ID: "ok", Content: "fine"},
			{ID: "ok", Content: "duplicate"},
		}, nil
	})
	obs := &recordingObserver{}
	a, err := NewAdapter(searcher, DefaultAdapterConfig(), WithObserver(obs))
	require.NoError(t, err)

	items, err := a.RetrieveCandidates(context.Background(), CandidateRequest{
		Scope:      "u1",
		ExcludeIDs: []string{"excluded"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].ID)
	assert.Equal(t, "fine", items[0].Content)

	require.Len(t, obs.reports, 1)
	assert.Equal(t, 7, obs.reports[0].Hits)
	assert.Equal(t, 2, obs.reports[0].Malformed)
	assert.Equal(t, 1, obs.reports[0].Kept)
}

func TestAdapter_BackendFailureDegradesToEmpty(t *testing.T) {
	searcher := SearcherFunc(func(context.Context, string, string, Filter, SearchOptions) ([]RawHit, error) {
		return nil, errors.New("connection refused")
	})
	obs := &recordingObserver{}
	a, err := NewAdapter(searcher, DefaultAdapterConfig(), WithObserver(obs))
	require.NoError(t, err)

	items, err := a.RetrieveCandidates(context.Background(), CandidateRequest{Scope: "u1"})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	require.Len(t, obs.reports, 1)
	assert.Error(t, obs.reports[0].Err)
}

func TestAdapter_BackendPanicDegradesToEmpty(t *testing.T) {
	searcher := SearcherFunc(func(context.Context, string, string, Filter, SearchOptions) ([]RawHit, error) {
		panic("index corrupted")
	})
	a, err := NewAdapter(searcher, DefaultAdapterConfig())
	require.NoError(t, err)

	items, err := a.RetrieveCandidates(context.Background(), CandidateRequest{Scope: "u1"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAdapter_TimeoutDegradesToEmpty(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	searcher := SearcherFunc(func(ctx context.Context, _ string, _ string, _ Filter, _ SearchOptions) ([]RawHit, error) {
		<-release
		return []RawHit{{ID: "late", Content: "too late"}}, nil
	})
	a, err := NewAdapter(searcher, AdapterConfig{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	items, err := a.RetrieveCandidates(context.Background(), CandidateRequest{Scope: "u1"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAdapter_InvalidArguments(t *testing.T) {
	a, err := NewAdapter(SearcherFunc(func(context.Context, string, string, Filter, SearchOptions) ([]RawHit, error) {
		return nil, nil
	}), DefaultAdapterConfig())
	require.NoError(t, err)

	_, err = a.RetrieveCandidates(context.Background(), CandidateRequest{})
	assert.ErrorIs(t, err, memory.ErrInvalidScope)
	_, err = a.RetrieveCandidates(context.Background(), CandidateRequest{Scope: "u1", Limit: -1})
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, err = NewAdapter(nil, DefaultAdapterConfig())
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
}
