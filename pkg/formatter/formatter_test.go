package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/goclaw/recall/pkg/memory"
)

var base = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func sc(id string, kind memory.Kind, content string, score float64, age time.Duration) memory.Scored {
	return memory.Scored{
		Item:  memory.Item{ID: id, Kind: kind, Content: content, AddedAt: base.Add(-age)},
		Score: score,
	}
}

// byteEstimator counts one token per byte.
type byteEstimator struct{}

func (byteEstimator) Estimate(s string) int { return len(s) }

func TestFormat_GroupedOrder(t *testing.T) {
	items := []memory.Scored{
		sc("t1", memory.KindTask, "Book the dentist", 0.9, 0),
		sc("g1", memory.KindGoal, "Run a marathon", 0.5, 0),
		sc("p1", memory.KindPreference, "Likes aisle seats", 0.7, 0),
		sc("f1", memory.KindFact, "Lives in Porto", 0.8, 0),
	}

	out := Format(items, Options{})

	want := "## Relevant Memory\n" +
		"\n### Goals\n- Run a marathon\n" +
		"\n### Preferences\n- Likes aisle seats\n" +
		"\n### Facts\n- Lives in Porto\n" +
		"\n### Tasks\n- Book the dentist\n"
	assert.Equal(t, want, out.Text)
	assert.Equal(t, []string{"g1", "p1", "f1", "t1"}, out.IncludedIDs)
	assert.Zero(t, out.Omitted)
}

func TestFormat_FlatSortModes(t *testing.T) {
	items := []memory.Scored{
		sc("old-high", memory.KindFact, "a", 0.9, 2*time.Hour),
		sc("new-low", memory.KindFact, "b", 0.1, 0),
	}
	items[1].Item.ImportanceLevel = memory.ImportanceCritical

	byScore := Format(items, Options{Layout: LayoutFlat, SortBy: SortRelevance})
	assert.Equal(t, []string{"old-high", "new-low"}, byScore.IncludedIDs)
	assert.Contains(t, byScore.Text, "- [fact] a\n")

	byTime := Format(items, Options{Layout: LayoutFlat, SortBy: SortTime})
	assert.Equal(t, []string{"new-low", "old-high"}, byTime.IncludedIDs)

	byImportance := Format(items, Options{Layout: LayoutFlat, SortBy: SortImportance})
	assert.Equal(t, []string{"new-low", "old-high"}, byImportance.IncludedIDs)
}

func TestFormat_BudgetNeverCutsItems(t *testing.T) {
	items := []memory.Scored{
		sc("a", memory.KindFact, "first fact", 0.9, 0),
		sc("b", memory.KindFact, "second fact", 0.8, 0),
	}
	title := "## Relevant Memory\n"
	header := "\n### Facts\n"
	first := "- first fact\n"

	out := Format(items, Options{MaxTokens: len(title + header + first), Estimator: byteEstimator{}})

	assert.Equal(t, title+header+first, out.Text)
	assert.Equal(t, []string{"a"}, out.IncludedIDs)
	assert.Equal(t, 1, out.Omitted)
	assert.Equal(t, len(out.Text), out.Tokens)
}

func TestFormat_GroupHeaderOnlyWhenItemFits(t *testing.T) {
	items := []memory.Scored{
		sc("g", memory.KindGoal, "goal", 0.9, 0),
		sc("f", memory.KindFact, strings.Repeat("x", 200), 0.8, 0),
	}
	title := "## Relevant Memory\n"
	goal := "\n### Goals\n- goal\n"

	out := Format(items, Options{MaxTokens: len(title+goal) + 15, Estimator: byteEstimator{}})

	assert.Equal(t, title+goal, out.Text)
	assert.NotContains(t, out.Text, "### Facts")
}

func TestFormat_NothingFits(t *testing.T) {
	out := Format([]memory.Scored{sc("a", memory.KindFact, "fact", 1, 0)}, Options{MaxTokens: 1, Estimator: byteEstimator{}})
	assert.Empty(t, out.Text)
	assert.Equal(t, 1, out.Omitted)
}

func TestFormat_PreferSummaryAndWhitespace(t *testing.T) {
	s := sc("a", memory.KindFact, "long   content\nwith breaks", 1, 0)
	out := Format([]memory.Scored{s}, Options{Layout: LayoutFlat})
	assert.Contains(t, out.Text, "long content with breaks")

	s.Item.ContentSummary = "short"
	out = Format([]memory.Scored{s}, Options{Layout: LayoutFlat, PreferSummary: true})
	assert.Contains(t, out.Text, "- [fact] short\n")
}

func TestFormat_Empty(t *testing.T) {
	out := Format(nil, Options{})
	assert.Empty(t, out.Text)
	assert.Empty(t, out.IncludedIDs)
}

func TestCharEstimator(t *testing.T) {
	e := NewCharEstimator(0)
	assert.Equal(t, 0, e.Estimate(""))
	assert.Equal(t, 1, e.Estimate("abc"))
	assert.Equal(t, 1, e.Estimate("abcd"))
	assert.Equal(t, 2, e.Estimate("abcde"))
}
