package retrieval

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goclaw/recall/pkg/memory"
)

// Metadata keys understood by the hit mapper. Anything else lands in
// Item.Extra.
const (
	MetaScope           = "scope"
	MetaKind            = "kind"
	MetaTags            = "tags"
	MetaAddedAt         = "added_at"
	MetaTimestamp       = "timestamp"
	MetaPriority        = "priority"
	MetaConfidence      = "confidence"
	MetaExpiresAt       = "expires_at"
	MetaRelatedTo       = "related_to"
	MetaImportanceScore = "importance_score"
	MetaImportanceLevel = "importance_level"
	MetaContentSummary  = "content_summary"
	MetaRole            = "role"
	MetaSourceID        = "source_id"
)

// ItemFromHit converts a raw hit into an item owned by scope. Missing kind,
// priority and confidence take their defaults. A hit without id or content,
// or with a field of the wrong type, is malformed.
func ItemFromHit(scope string, hit RawHit) (memory.Item, error) {
	if strings.TrimSpace(hit.ID) == "" {
		return memory.Item{}, fmt.Errorf("%w: missing id", ErrMalformedHit)
	}
	if strings.TrimSpace(hit.Content) == "" {
		return memory.Item{}, fmt.Errorf("%w: hit %s has no content", ErrMalformedHit, hit.ID)
	}

	item := memory.Item{
		ID:         hit.ID,
		Scope:      scope,
		Content:    hit.Content,
		Kind:       memory.KindFact,
		Priority:   memory.DefaultPriority,
		Confidence: memory.DefaultConfidence,
		Similarity: memory.Float(memory.Clamp01(hit.Score)),
	}

	for key, raw := range hit.Metadata {
		if raw == nil {
			continue
		}
		if err := applyField(&item, key, raw); err != nil {
			return memory.Item{}, fmt.Errorf("%w: hit %s field %s: %v", ErrMalformedHit, hit.ID, key, err)
		}
	}
	item.Tags = memory.NormalizeTags(item.Tags)
	item.Confidence = memory.Clamp01(item.Confidence)
	return item, nil
}

// hitScope returns the scope named in the hit's metadata, if any.
func hitScope(hit RawHit) string {
	if s, ok := hit.Metadata[MetaScope].(string); ok {
		return s
	}
	return ""
}

func applyField(item *memory.Item, key string, raw any) error {
	switch key {
	case MetaScope:
		// checked by the adapter
	case MetaKind:
		s, err := asString(raw)
		if err != nil {
			return err
		}
		item.Kind = memory.ParseKind(s)
	case MetaTags:
		tags, err := asStrings(raw)
		if err != nil {
			return err
		}
		item.Tags = tags
	case MetaRelatedTo:
		ids, err := asStrings(raw)
		if err != nil {
			return err
		}
		item.RelatedTo = ids
	case MetaAddedAt:
		t, err := asTime(raw)
		if err != nil {
			return err
		}
		item.AddedAt = t
	case MetaTimestamp:
		t, err := asTime(raw)
		if err != nil {
			return err
		}
		item.Timestamp = &t
	case MetaExpiresAt:
		t, err := asTime(raw)
		if err != nil {
			return err
		}
		item.ExpiresAt = &t
	case MetaPriority:
		f, err := asFloat(raw)
		if err != nil {
			return err
		}
		item.Priority = int(f)
	case MetaConfidence:
		f, err := asFloat(raw)
		if err != nil {
			return err
		}
		item.Confidence = f
	case MetaImportanceScore:
		f, err := asFloat(raw)
		if err != nil {
			return err
		}
		item.ImportanceScore = memory.Float(memory.Clamp01(f))
	case MetaImportanceLevel:
		s, err := asString(raw)
		if err != nil {
			return err
		}
		item.ImportanceLevel = memory.ImportanceLevel(strings.ToLower(s))
	case MetaContentSummary:
		s, err := asString(raw)
		if err != nil {
			return err
		}
		item.ContentSummary = s
	case MetaRole:
		s, err := asString(raw)
		if err != nil {
			return err
		}
		item.Role = s
	case MetaSourceID:
		s, err := asString(raw)
		if err != nil {
			return err
		}
		item.SourceID = s
	default:
		if item.Extra == nil {
			item.Extra = make(map[string]string)
		}
		if s, ok := raw.(string); ok {
			item.Extra[key] = s
		} else {
			item.Extra[key] = fmt.Sprint(raw)
		}
	}
	return nil
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func asStrings(v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...), nil
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		if x == "" {
			return nil, nil
		}
		parts := strings.Split(x, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", v)
	}
}

func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *x, nil
	case string:
		return time.Parse(time.RFC3339Nano, x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case int:
		return time.Unix(int64(x), 0).UTC(), nil
	case float64:
		sec := int64(x)
		return time.Unix(sec, int64((x-float64(sec))*1e9)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("expected time, got %T", v)
	}
}
