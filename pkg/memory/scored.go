package memory

import "sort"

// Breakdown records the sub-scores behind a relevance score.
type Breakdown struct {
	Semantic     float64 `json:"semantic"`
	Importance   float64 `json:"importance"`
	TagMatch     float64 `json:"tag_match"`
	Recency      float64 `json:"recency"`
	ContentValue float64 `json:"content_value,omitempty"`
	Length       float64 `json:"length,omitempty"`
	UserMessage  float64 `json:"user_message,omitempty"`
}

// Scored pairs an item with the relevance score of one ranking pass.
// Scores are only comparable within a pass that used one weight configuration.
type Scored struct {
	Item      Item      `json:"item"`
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

// Less reports whether a ranks before b: higher score first, then the more
// recent effective time, then the smaller id so the order is total.
func Less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	at, bt := a.Item.EffectiveTime(), b.Item.EffectiveTime()
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.Item.ID < b.Item.ID
}

// SortScored orders items in place by Less.
func SortScored(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		return Less(items[i], items[j])
	})
}

// IDs returns the item ids in order.
func IDs(items []Scored) []string {
	ids := make([]string, len(items))
	for i, s := range items {
		ids[i] = s.Item.ID
	}
	return ids
}

// Items unwraps the scored items in order.
func Items(items []Scored) []Item {
	out := make([]Item, len(items))
	for i, s := range items {
		out[i] = s.Item
	}
	return out
}
