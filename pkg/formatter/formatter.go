// Package formatter renders ranked memory items into a token-bounded text
// block for a downstream prompt.
package formatter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goclaw/recall/pkg/memory"
)

// Layout selects grouped or flat rendering.
type Layout string

const (
	LayoutGrouped Layout = "grouped"
	LayoutFlat    Layout = "flat"
)

// SortBy selects the item order inside the output.
type SortBy string

const (
	SortRelevance  SortBy = "relevance"
	SortTime       SortBy = "time"
	SortImportance SortBy = "importance"
)

// DefaultTitle heads every non-empty output.
const DefaultTitle = "## Relevant Memory"

// groupOrder is the order kinds appear in the grouped layout.
var groupOrder = []memory.Kind{
	memory.KindGoal,
	memory.KindPreference,
	memory.KindFact,
	memory.KindEntity,
	memory.KindTask,
	memory.KindMessage,
}

var groupTitles = map[memory.Kind]string{
	memory.KindGoal:       "### Goals",
	memory.KindPreference: "### Preferences",
	memory.KindFact:       "### Facts",
	memory.KindEntity:     "### Entities",
	memory.KindTask:       "### Tasks",
	memory.KindMessage:    "### Recent messages",
}

// Options controls rendering.
type Options struct {
	Layout Layout
	SortBy SortBy

	// MaxTokens bounds the output. Zero means unbounded.
	MaxTokens int

	// Title replaces DefaultTitle.
	Title string

	// PreferSummary renders ContentSummary when an item has one.
	PreferSummary bool

	// Estimator counts tokens. Defaults to a 4 chars/token estimator.
	Estimator TokenEstimator
}

// Output is a rendered block.
type Output struct {
	Text string `json:"text"`

	// IncludedIDs lists the rendered items in output order.
	IncludedIDs []string `json:"included_ids"`

	// Omitted counts items dropped by the token budget.
	Omitted int `json:"omitted"`

	// Tokens is the estimated size of Text.
	Tokens int `json:"tokens"`
}

// Format renders items. Items are never cut: an item either fits the budget
// whole or is omitted together with everything after it. A group header is
// only written when at least one of its items fits.
func Format(items []memory.Scored, opts Options) Output {
	if len(items) == 0 {
		return Output{IncludedIDs: []string{}}
	}
	if opts.Estimator == nil {
		opts.Estimator = NewCharEstimator(0)
	}
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}

	sorted := append([]memory.Scored(nil), items...)
	sortItems(sorted, opts.SortBy)

	w := &writer{est: opts.Estimator, max: opts.MaxTokens}
	if !w.fits(title + "\n") {
		return Output{IncludedIDs: []string{}, Omitted: len(items)}
	}
	w.write(title + "\n")

	var included []string
	switch opts.Layout {
	case LayoutFlat:
		for _, s := range sorted {
			line := flatLine(s.Item, opts.PreferSummary)
			if !w.fits(line) {
				break
			}
			w.write(line)
			included = append(included, s.Item.ID)
		}
	default:
		groups := make(map[memory.Kind][]memory.Scored)
		for _, s := range sorted {
			k := s.Item.NormalizedKind()
			groups[k] = append(groups[k], s)
		}
	outer:
		for _, k := range groupOrder {
			members := groups[k]
			if len(members) == 0 {
				continue
			}
			header := "\n" + groupTitles[k] + "\n"
			first := itemLine(members[0].Item, opts.PreferSummary)
			if !w.fits(header + first) {
				break
			}
			w.write(header)
			for _, s := range members {
				line := itemLine(s.Item, opts.PreferSummary)
				if !w.fits(line) {
					break outer
				}
				w.write(line)
				included = append(included, s.Item.ID)
			}
		}
	}

	if len(included) == 0 {
		return Output{IncludedIDs: []string{}, Omitted: len(items)}
	}
	return Output{
		Text:        w.b.String(),
		IncludedIDs: included,
		Omitted:     len(items) - len(included),
		Tokens:      w.used,
	}
}

type writer struct {
	b    strings.Builder
	est  TokenEstimator
	max  int
	used int
}

func (w *writer) fits(s string) bool {
	return w.max <= 0 || w.used+w.est.Estimate(s) <= w.max
}

func (w *writer) write(s string) {
	w.b.WriteString(s)
	w.used += w.est.Estimate(s)
}

func text(it memory.Item, preferSummary bool) string {
	s := it.Content
	if preferSummary && strings.TrimSpace(it.ContentSummary) != "" {
		s = it.ContentSummary
	}
	return strings.Join(strings.Fields(s), " ")
}

func itemLine(it memory.Item, preferSummary bool) string {
	return "- " + text(it, preferSummary) + "\n"
}

func flatLine(it memory.Item, preferSummary bool) string {
	return fmt.Sprintf("- [%s] %s\n", it.NormalizedKind(), text(it, preferSummary))
}

func sortItems(items []memory.Scored, by SortBy) {
	switch by {
	case SortTime:
		sort.SliceStable(items, func(i, j int) bool {
			ti, tj := items[i].Item.EffectiveTime(), items[j].Item.EffectiveTime()
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return memory.Less(items[i], items[j])
		})
	case SortImportance:
		sort.SliceStable(items, func(i, j int) bool {
			ii, ij := importance(items[i]), importance(items[j])
			if ii != ij {
				return ii > ij
			}
			return memory.Less(items[i], items[j])
		})
	default:
		memory.SortScored(items)
	}
}

func importance(s memory.Scored) float64 {
	if s.Breakdown.Importance > 0 {
		return s.Breakdown.Importance
	}
	return s.Item.BaseImportance()
}
