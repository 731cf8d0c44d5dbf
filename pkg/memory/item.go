package memory

import (
	"strings"
	"time"
)

// Kind classifies a memory item. The set is closed.
type Kind string

const (
	KindEntity     Kind = "entity"
	KindFact       Kind = "fact"
	KindPreference Kind = "preference"
	KindTask       Kind = "task"
	KindGoal       Kind = "goal"
	KindMessage    Kind = "message"
)

// Kinds lists every valid kind.
var Kinds = []Kind{KindEntity, KindFact, KindPreference, KindTask, KindGoal, KindMessage}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEntity, KindFact, KindPreference, KindTask, KindGoal, KindMessage:
		return true
	}
	return false
}

// ParseKind converts s to a Kind. Unknown or empty values map to KindFact.
func ParseKind(s string) Kind {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return KindFact
	}
	return k
}

// ImportanceLevel is the ordinal importance assigned by an upstream classifier.
type ImportanceLevel string

const (
	ImportanceCritical ImportanceLevel = "critical"
	ImportanceHigh     ImportanceLevel = "high"
	ImportanceMedium   ImportanceLevel = "medium"
	ImportanceLow      ImportanceLevel = "low"
)

// DefaultImportance is used when neither a score nor a known level is present.
const DefaultImportance = 0.5

// Score maps the level to a float in [0,1].
func (l ImportanceLevel) Score() float64 {
	switch ImportanceLevel(strings.ToLower(string(l))) {
	case ImportanceCritical:
		return 1.0
	case ImportanceHigh:
		return 0.75
	case ImportanceMedium:
		return 0.5
	case ImportanceLow:
		return 0.25
	default:
		return DefaultImportance
	}
}

// Defaults applied to items whose source did not carry the field.
const (
	DefaultPriority   = 5
	DefaultConfidence = 0.7
)

// Item is the unit of retrieval and consolidation. Items are treated as
// immutable once built; ranking passes wrap them in Scored instead of
// writing a score back.
type Item struct {
	// ID is an opaque unique identifier.
	ID string `json:"id"`

	// Scope is the owning user or session identifier.
	Scope string `json:"scope"`

	// Content is the text body.
	Content string `json:"content"`

	// ContentSummary is an optional short form of Content.
	ContentSummary string `json:"content_summary,omitempty"`

	// Kind drives type weighting during scoring and consolidation.
	Kind Kind `json:"kind"`

	// Tags are lowercase labels; order is irrelevant.
	Tags []string `json:"tags,omitempty"`

	// AddedAt is the creation time.
	AddedAt time.Time `json:"added_at"`

	// Timestamp optionally overrides AddedAt as the item's effective time.
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// Priority is the caller-assigned base importance on a 0-10 scale.
	Priority int `json:"priority"`

	// Confidence is the trust in the item's correctness, in [0,1].
	Confidence float64 `json:"confidence"`

	// ExpiresAt marks the item as absent once passed.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// RelatedTo lists ids of related items.
	RelatedTo []string `json:"related_to,omitempty"`

	// ImportanceScore is a precomputed importance in [0,1].
	ImportanceScore *float64 `json:"importance_score,omitempty"`

	// ImportanceLevel is consulted only when ImportanceScore is nil.
	ImportanceLevel ImportanceLevel `json:"importance_level,omitempty"`

	// Role is the author of a message turn ("user" or "assistant").
	Role string `json:"role,omitempty"`

	// Similarity is the semantic signal reported by the search backend.
	// Nil for working-memory items.
	Similarity *float64 `json:"similarity,omitempty"`

	// SourceID is the id of the item this one was consolidated from.
	SourceID string `json:"source_id,omitempty"`

	// Extra carries fields the engine does not interpret.
	Extra map[string]string `json:"extra,omitempty"`
}

// EffectiveTime returns Timestamp when set, else AddedAt.
func (it Item) EffectiveTime() time.Time {
	if it.Timestamp != nil && !it.Timestamp.IsZero() {
		return *it.Timestamp
	}
	return it.AddedAt
}

// Expired reports whether the item's expiry has passed at now.
func (it Item) Expired(now time.Time) bool {
	return it.ExpiresAt != nil && !it.ExpiresAt.IsZero() && !now.Before(*it.ExpiresAt)
}

// BaseImportance returns the clamped importance before kind weighting.
func (it Item) BaseImportance() float64 {
	if it.ImportanceScore != nil {
		return Clamp01(*it.ImportanceScore)
	}
	return it.ImportanceLevel.Score()
}

// NormalizedKind returns the item's kind, mapping unknown values to KindFact.
func (it Item) NormalizedKind() Kind {
	if it.Kind.Valid() {
		return it.Kind
	}
	return KindFact
}

// NormalizedTags returns the item's tags lowercased, trimmed and de-duplicated.
func (it Item) NormalizedTags() []string {
	return NormalizeTags(it.Tags)
}

// HasTag reports whether the item carries tag, compared case-insensitively.
func (it Item) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range it.Tags {
		if strings.ToLower(strings.TrimSpace(t)) == tag {
			return true
		}
	}
	return false
}

// NormalizeTags lowercases, trims and de-duplicates tags, dropping empties.
// The input order of first occurrences is preserved.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// FilterLive drops expired items, returning a new slice.
func FilterLive(items []Item, now time.Time) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Expired(now) {
			continue
		}
		out = append(out, it)
	}
	return out
}
