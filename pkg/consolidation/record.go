package consolidation

import (
	"context"
	"time"

	"github.com/goclaw/recall/pkg/memory"
)

// Provenance tags carried by every promoted record.
const (
	TagConsolidated = "consolidated"
	TagSourcePrefix = "source:"
)

// DurableRecord is a promoted copy of a working-memory item. It always has a
// fresh id; the source item is never altered.
type DurableRecord struct {
	ID              string      `json:"id"`
	Scope           string      `json:"scope"`
	Content         string      `json:"content"`
	Kind            memory.Kind `json:"kind"`
	DurableKind     DurableKind `json:"durable_kind"`
	Tags            []string    `json:"tags"`
	SourceID        string      `json:"source_id"`
	Priority        int         `json:"priority"`
	Confidence      float64     `json:"confidence"`
	ImportanceScore *float64    `json:"importance_score,omitempty"`
	RelatedTo       []string    `json:"related_to,omitempty"`
	SourceTime      time.Time   `json:"source_time"`
	CreatedAt       time.Time   `json:"created_at"`
	PromotionScore  float64     `json:"promotion_score"`
	Enriched        bool        `json:"enriched"`
}

// NewDurableRecord builds the record for item with the given content.
// Provenance tags are appended to the item's tags.
func NewDurableRecord(item memory.Item, content string, score float64, now time.Time) DurableRecord {
	tags := memory.NormalizeTags(append(append([]string(nil), item.Tags...),
		TagConsolidated, TagSourcePrefix+item.ID))

	rec := DurableRecord{
		Scope:          item.Scope,
		Content:        content,
		Kind:           item.NormalizedKind(),
		DurableKind:    DurableKindFor(item.NormalizedKind()),
		Tags:           tags,
		SourceID:       item.ID,
		Priority:       item.Priority,
		Confidence:     memory.Clamp01(item.Confidence),
		SourceTime:     item.EffectiveTime(),
		CreatedAt:      now,
		PromotionScore: score,
		Enriched:       content != item.Content,
	}
	if item.ImportanceScore != nil {
		rec.ImportanceScore = memory.Float(memory.Clamp01(*item.ImportanceScore))
	} else if item.ImportanceLevel != "" {
		rec.ImportanceScore = memory.Float(item.ImportanceLevel.Score())
	}
	if len(item.RelatedTo) > 0 {
		rec.RelatedTo = append([]string(nil), item.RelatedTo...)
	}
	return rec
}

// Writer persists durable records.
type Writer interface {
	// Write stores rec and returns its id, assigning one when rec.ID is empty.
	Write(ctx context.Context, rec DurableRecord) (string, error)
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, rec DurableRecord) (string, error)

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, rec DurableRecord) (string, error) {
	return f(ctx, rec)
}

// Enricher rewrites an item's content, typically through a language model.
type Enricher interface {
	Enrich(ctx context.Context, item memory.Item) (string, error)
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, item memory.Item) (string, error)

// Enrich implements Enricher.
func (f EnricherFunc) Enrich(ctx context.Context, item memory.Item) (string, error) {
	return f(ctx, item)
}
