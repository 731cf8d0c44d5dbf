package relevance

import "github.com/goclaw/recall/pkg/memory"

// TagMatch scores the overlap between an item's tags and the query's tags.
//
// The result averages the share of memory tags that matched with the share of
// query tags that matched. Items made mostly of query tags and queries that are
// mostly matched both score high, unlike Jaccard or one-sided containment.
// Comparison is case-insensitive; duplicates count once. Either set being
// empty yields 0.
func TagMatch(memoryTags, queryTags []string) float64 {
	mem := memory.NormalizeTags(memoryTags)
	qry := memory.NormalizeTags(queryTags)
	if len(mem) == 0 || len(qry) == 0 {
		return 0
	}

	want := make(map[string]struct{}, len(qry))
	for _, t := range qry {
		want[t] = struct{}{}
	}
	matches := 0
	for _, t := range mem {
		if _, ok := want[t]; ok {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}

	m := float64(matches)
	return memory.Clamp01((m/float64(len(mem)) + m/float64(len(qry))) / 2)
}
