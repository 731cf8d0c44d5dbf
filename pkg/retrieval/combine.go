package retrieval

import "github.com/goclaw/recall/pkg/memory"

// Combine merges working-memory and long-term results. Working items come
// first; long-term items whose id is already present are dropped. The merged
// list is re-sorted by score and truncated to limit (no truncation when
// limit <= 0).
//
// Combine never re-scores: both lists must have been ranked by the same
// scorer configuration in the same retrieval cycle.
func Combine(working, longTerm []memory.Scored, limit int) []memory.Scored {
	out := make([]memory.Scored, 0, len(working)+len(longTerm))
	seen := make(map[string]struct{}, len(working)+len(longTerm))

	for _, lists := range [][]memory.Scored{working, longTerm} {
		for _, s := range lists {
			if _, ok := seen[s.Item.ID]; ok {
				continue
			}
			seen[s.Item.ID] = struct{}{}
			out = append(out, s)
		}
	}

	memory.SortScored(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
