package consolidation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/recall/pkg/memory"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeWriter struct {
	mu      sync.Mutex
	records []DurableRecord
	failFor map[string]bool
	seq     int
}

func (w *fakeWriter) Write(_ context.Context, rec DurableRecord) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failFor[rec.SourceID] {
		return "", errors.New("disk full")
	}
	w.seq++
	rec.ID = fmt.Sprintf("durable-%d", w.seq)
	w.records = append(w.records, rec)
	return rec.ID, nil
}

func newTestConsolidator(t *testing.T, w Writer, opts ...Option) *Consolidator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	c, err := New(w, opts...)
	require.NoError(t, err)
	return c
}

func TestPromotionScore(t *testing.T) {
	item := memory.Item{
		Kind:       memory.KindGoal,
		Priority:   5,
		Confidence: 1.0,
		Tags:       []string{"a", "b"},
		RelatedTo:  []string{"x"},
		AddedAt:    fixedNow,
	}
	// (5 + 2 + 1 + 0.7) * 1 * 1.3
	assert.InDelta(t, 11.31, PromotionScore(item, fixedNow), 1e-9)

	item.AddedAt = fixedNow.Add(-36 * time.Hour)
	assert.InDelta(t, 11.31*0.5, PromotionScore(item, fixedNow), 1e-9)

	item.AddedAt = fixedNow.Add(-100 * time.Hour)
	assert.Equal(t, 0.0, PromotionScore(item, fixedNow))

	task := memory.Item{Kind: memory.KindTask, Priority: 10, AddedAt: fixedNow}
	assert.InDelta(t, 9.0, PromotionScore(task, fixedNow), 1e-9)

	unknown := memory.Item{Kind: "widget", Priority: 10, AddedAt: fixedNow}
	assert.InDelta(t, 12.0, PromotionScore(unknown, fixedNow), 1e-9)

	pref := memory.Item{Kind: memory.KindPreference, Priority: 10, AddedAt: fixedNow}
	assert.InDelta(t, 10.0, PromotionScore(pref, fixedNow), 1e-9)
}

func TestDurableKindFor(t *testing.T) {
	assert.Equal(t, DurableInsight, DurableKindFor(memory.KindFact))
	assert.Equal(t, DurableReference, DurableKindFor(memory.KindEntity))
	assert.Equal(t, DurableTask, DurableKindFor(memory.KindTask))
	assert.Equal(t, DurableGoal, DurableKindFor(memory.KindGoal))
	assert.Equal(t, DurableInsight, DurableKindFor(memory.KindPreference))
	assert.Equal(t, DurableInsight, DurableKindFor(memory.KindMessage))
}

func TestConsolidate_SelectsTopTenAboveConfidenceFloor(t *testing.T) {
	var items []memory.Item
	// Five low-confidence items with the highest priorities.
	for i := 0; i < 5; i++ {
		items = append(items, memory.Item{
			ID:         fmt.Sprintf("low-%d", i),
			Scope:      "u1",
			Content:    "low confidence",
			Kind:       memory.KindTask,
			Priority:   100 + i,
			Confidence: 0.69,
			AddedAt:    fixedNow,
		})
	}
	// Ten eligible items, priorities 1..10.
	for i := 1; i <= 10; i++ {
		items = append(items, memory.Item{
			ID:         fmt.Sprintf("ok-%02d", i),
			Scope:      "u1",
			Content:    "eligible",
			Kind:       memory.KindTask,
			Priority:   i,
			Confidence: 0.7,
			AddedAt:    fixedNow,
		})
	}
	require.Len(t, items, 15)

	w := &fakeWriter{}
	c := newTestConsolidator(t, w)

	opts := DefaultOptions()
	opts.MaxItems = 10
	res, err := c.Consolidate(context.Background(), "u1", items, opts)
	require.NoError(t, err)

	ids := res.SourceIDs()
	require.Len(t, ids, 10)
	for _, id := range ids {
		assert.NotContains(t, id, "low-")
	}
	assert.Equal(t, "ok-10", ids[0])
	assert.Equal(t, 15, res.Considered)
	assert.Equal(t, 10, res.Eligible)
}

func TestConsolidate_TakesHighestScoresWhenOverCap(t *testing.T) {
	var items []memory.Item
	for i := 1; i <= 15; i++ {
		items = append(items, memory.Item{
			ID:         fmt.Sprintf("i%02d", i),
			Scope:      "u1",
			Content:    "c",
			Kind:       memory.KindFact,
			Priority:   i,
			Confidence: 0.9,
			AddedAt:    fixedNow,
		})
	}
	c := newTestConsolidator(t, &fakeWriter{})

	res, err := c.Consolidate(context.Background(), "u1", items, DefaultOptions())
	require.NoError(t, err)

	got := res.SourceIDs()
	sort.Strings(got)
	want := []string{"i06", "i07", "i08", "i09", "i10", "i11", "i12", "i13", "i14", "i15"}
	assert.Equal(t, want, got)
}

func TestConsolidate_WritesProvenance(t *testing.T) {
	w := &fakeWriter{}
	c := newTestConsolidator(t, w)

	item := memory.Item{
		ID:              "turn-1",
		Scope:           "u1",
		Content:         "Sister is called Ana",
		Kind:            memory.KindEntity,
		Tags:            []string{"Family"},
		Priority:        6,
		Confidence:      0.9,
		AddedAt:         fixedNow.Add(-time.Hour),
		ImportanceLevel: memory.ImportanceHigh,
	}
	res, err := c.Consolidate(context.Background(), "u1", []memory.Item{item}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Promoted, 1)
	require.Len(t, w.records, 1)

	rec := w.records[0]
	assert.Equal(t, "durable-1", res.Promoted[0].DurableID)
	assert.Equal(t, DurableReference, rec.DurableKind)
	assert.Equal(t, memory.KindEntity, rec.Kind)
	assert.Equal(t, "turn-1", rec.SourceID)
	assert.ElementsMatch(t, []string{"family", TagConsolidated, "source:turn-1"}, rec.Tags)
	assert.Equal(t, 0.75, *rec.ImportanceScore)
	assert.False(t, rec.Enriched)
	assert.Equal(t, []string{"Family"}, item.Tags, "source item must not change")
}

func TestConsolidate_SkipsFailedWrites(t *testing.T) {
	w := &fakeWriter{failFor: map[string]bool{"b": true}}
	c := newTestConsolidator(t, w)

	items := []memory.Item{
		{ID: "a", Scope: "u1", Content: "a", Priority: 3, Confidence: 0.8, AddedAt: fixedNow},
		{ID: "b", Scope: "u1", Content: "b", Priority: 2, Confidence: 0.8, AddedAt: fixedNow},
		{ID: "c", Scope: "u1", Content: "c", Priority: 1, Confidence: 0.8, AddedAt: fixedNow},
	}
	res, err := c.Consolidate(context.Background(), "u1", items, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, res.SourceIDs())
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "b", res.Skipped[0].SourceID)
}

func TestConsolidate_ExcludesExpiredAndForeignItems(t *testing.T) {
	c := newTestConsolidator(t, &fakeWriter{})

	items := []memory.Item{
		{ID: "expired", Scope: "u1", Content: "x", Priority: 10, Confidence: 1, AddedAt: fixedNow, ExpiresAt: memory.Time(fixedNow.Add(-time.Second))},
		{ID: "foreign", Scope: "u2", Content: "x", Priority: 10, Confidence: 1, AddedAt: fixedNow},
		{ID: "empty", Scope: "u1", Content: " ", Priority: 10, Confidence: 1, AddedAt: fixedNow},
		{ID: "kept", Content: "x", Priority: 1, Confidence: 1, AddedAt: fixedNow},
	}
	res, err := c.Consolidate(context.Background(), "u1", items, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, res.SourceIDs())
}

func TestConsolidate_Enrichment(t *testing.T) {
	item := memory.Item{ID: "a", Scope: "u1", Content: "raw", Confidence: 0.9, AddedAt: fixedNow}
	opts := DefaultOptions()
	opts.GenerateInsights = true

	t.Run("success", func(t *testing.T) {
		w := &fakeWriter{}
		c := newTestConsolidator(t, w, WithEnricher(EnricherFunc(func(_ context.Context, it memory.Item) (string, error) {
			return "insight: " + it.Content, nil
		})))
		res, err := c.Consolidate(context.Background(), "u1", []memory.Item{item}, opts)
		require.NoError(t, err)
		require.Len(t, res.Promoted, 1)
		assert.True(t, res.Promoted[0].Enriched)
		assert.Equal(t, "insight: raw", w.records[0].Content)
	})

	t.Run("failure falls back", func(t *testing.T) {
		w := &fakeWriter{}
		c := newTestConsolidator(t, w, WithEnricher(EnricherFunc(func(context.Context, memory.Item) (string, error) {
			return "", errors.New("model unavailable")
		})))
		res, err := c.Consolidate(context.Background(), "u1", []memory.Item{item}, opts)
		require.NoError(t, err)
		require.Len(t, res.Promoted, 1)
		assert.Equal(t, "raw", w.records[0].Content)
	})

	t.Run("timeout falls back", func(t *testing.T) {
		w := &fakeWriter{}
		release := make(chan struct{})
		defer close(release)
		c := newTestConsolidator(t, w, WithEnricher(EnricherFunc(func(context.Context, memory.Item) (string, error) {
			<-release
			return "too late", nil
		})))
		slow := opts
		slow.EnrichTimeout = 20 * time.Millisecond
		res, err := c.Consolidate(context.Background(), "u1", []memory.Item{item}, slow)
		require.NoError(t, err)
		require.Len(t, res.Promoted, 1)
		assert.Equal(t, "raw", w.records[0].Content)
	})

	t.Run("disabled", func(t *testing.T) {
		w := &fakeWriter{}
		called := false
		c := newTestConsolidator(t, w, WithEnricher(EnricherFunc(func(context.Context, memory.Item) (string, error) {
			called = true
			return "x", nil
		})))
		_, err := c.Consolidate(context.Background(), "u1", []memory.Item{item}, DefaultOptions())
		require.NoError(t, err)
		assert.False(t, called)
	})
}

func TestConsolidate_CancelledMidBatchKeepsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	w := WriterFunc(func(_ context.Context, rec DurableRecord) (string, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return "d-" + rec.SourceID, nil
	})
	c := newTestConsolidator(t, w)

	items := []memory.Item{
		{ID: "a", Scope: "u1", Content: "a", Priority: 3, Confidence: 0.8, AddedAt: fixedNow},
		{ID: "b", Scope: "u1", Content: "b", Priority: 2, Confidence: 0.8, AddedAt: fixedNow},
		{ID: "c", Scope: "u1", Content: "c", Priority: 1, Confidence: 0.8, AddedAt: fixedNow},
	}
	res, err := c.Consolidate(ctx, "u1", items, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, []string{"a", "b"}, res.SourceIDs())
}

func TestConsolidate_InvalidArguments(t *testing.T) {
	c := newTestConsolidator(t, &fakeWriter{})

	_, err := c.Consolidate(context.Background(), "", nil, DefaultOptions())
	assert.ErrorIs(t, err, memory.ErrInvalidScope)

	bad := DefaultOptions()
	bad.MaxItems = -1
	_, err = c.Consolidate(context.Background(), "u1", nil, bad)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	bad = DefaultOptions()
	bad.MinConfidence = 1.2
	_, err = c.Consolidate(context.Background(), "u1", nil, bad)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, err = New(nil)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
}

func TestSelect_MatchesConsolidateOrder(t *testing.T) {
	c := newTestConsolidator(t, &fakeWriter{})
	items := []memory.Item{
		{ID: "goal", Scope: "u1", Content: "g", Kind: memory.KindGoal, Priority: 5, Confidence: 0.9, AddedAt: fixedNow},
		{ID: "task", Scope: "u1", Content: "t", Kind: memory.KindTask, Priority: 5, Confidence: 0.9, AddedAt: fixedNow},
	}
	selected, scores, err := c.Select("u1", items, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "goal", selected[0].ID)
	assert.Greater(t, scores[0], scores[1])
}
