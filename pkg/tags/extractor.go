package tags

import (
	"sort"
	"unicode/utf8"
)

// Extractor derives tags from free text.
type Extractor interface {
	ExtractTags(text string) []string
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(text string) []string

// ExtractTags calls f(text).
func (f ExtractorFunc) ExtractTags(text string) []string { return f(text) }

// KeywordExtractor picks the most frequent non-stop-word tokens as tags.
type KeywordExtractor struct {
	// MaxTags caps the number of tags returned. Zero means 8.
	MaxTags int

	// MinLength is the minimum rune length of a tag. Zero means 3.
	// Single Han characters are always kept.
	MinLength int
}

// NewKeywordExtractor returns a KeywordExtractor with default limits.
func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{MaxTags: 8, MinLength: 3}
}

var _ Extractor = (*KeywordExtractor)(nil)

// ExtractTags returns lowercase keywords ordered by frequency, then by first
// appearance.
func (e *KeywordExtractor) ExtractTags(text string) []string {
	maxTags := e.MaxTags
	if maxTags <= 0 {
		maxTags = 8
	}
	minLen := e.MinLength
	if minLen <= 0 {
		minLen = 3
	}

	type term struct {
		token string
		count int
		first int
	}
	terms := make(map[string]*term)
	for i, tok := range Tokenize(text) {
		n := utf8.RuneCountInString(tok)
		if n < minLen && !(n == 1 && isHan(tok)) {
			continue
		}
		if t, ok := terms[tok]; ok {
			t.count++
			continue
		}
		terms[tok] = &term{token: tok, count: 1, first: i}
	}

	ordered := make([]*term, 0, len(terms))
	for _, t := range terms {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].first < ordered[j].first
	})

	if len(ordered) > maxTags {
		ordered = ordered[:maxTags]
	}
	out := make([]string, len(ordered))
	for i, t := range ordered {
		out[i] = t.token
	}
	return out
}

func isHan(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r >= 0x4E00 && r <= 0x9FFF
}
