package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/recall/pkg/consolidation"
	"github.com/goclaw/recall/pkg/formatter"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/relevance"
)

func TestRecordTurnRequest_Item(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	req := RecordTurnRequest{
		Scope:           "user-1",
		Content:         "prefers tea",
		Kind:            "Preference",
		ImportanceLevel: "high",
		Timestamp:       &ts,
	}

	item := req.Item()
	assert.Equal(t, "user-1", item.Scope)
	assert.Equal(t, memory.KindPreference, item.Kind)
	assert.Equal(t, memory.ImportanceLevel("high"), item.ImportanceLevel)
	assert.Equal(t, ts, *item.Timestamp)

	assert.Equal(t, memory.Kind(""), (&RecordTurnRequest{Content: "x"}).Item().Kind)
}

func TestRecordTurnRequest_ItemDefaultsOnlyAbsentFields(t *testing.T) {
	absent := (&RecordTurnRequest{Scope: "u", Content: "x"}).Item()
	assert.Equal(t, memory.DefaultPriority, absent.Priority)
	assert.Equal(t, memory.DefaultConfidence, absent.Confidence)

	zeroPriority, zeroConfidence := 0, 0.0
	explicit := (&RecordTurnRequest{Scope: "u", Content: "x", Priority: &zeroPriority, Confidence: &zeroConfidence}).Item()
	assert.Equal(t, 0, explicit.Priority)
	assert.Equal(t, 0.0, explicit.Confidence)
}

func TestFormatContextRequest_Apply(t *testing.T) {
	defaults := formatter.Options{Layout: formatter.LayoutGrouped, MaxTokens: 500, Title: "Context"}
	zero := 0
	off := false
	req := FormatContextRequest{Layout: "flat", MaxTokens: &zero, PreferSummary: &off}

	opts := req.Apply(defaults)
	assert.Equal(t, formatter.LayoutFlat, opts.Layout)
	assert.Equal(t, 0, opts.MaxTokens)
	assert.Equal(t, "Context", opts.Title)
	assert.False(t, opts.PreferSummary)
}

func TestConsolidateRequest_Apply(t *testing.T) {
	defaults := consolidation.DefaultOptions()
	conf := 0.9
	opts := (&ConsolidateRequest{MinConfidence: &conf}).Apply(defaults)
	assert.Equal(t, 0.9, opts.MinConfidence)
	assert.Equal(t, defaults.MaxItems, opts.MaxItems)
}

func TestScorerConfig_RoundTrip(t *testing.T) {
	cfg := relevance.DefaultConfig()
	wire := NewScorerConfig(cfg)
	assert.Equal(t, "24h0m0s", wire.RecencyWindow)

	back, err := wire.ToScorerConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestScorerConfig_BadDuration(t *testing.T) {
	wire := NewScorerConfig(relevance.DefaultConfig())
	wire.RecencyWindow = "soon"
	_, err := wire.ToScorerConfig()
	assert.ErrorIs(t, err, relevance.ErrInvalidConfig)
}
