package longterm

import (
	"math"
	"sort"
	"sync"

	"github.com/goclaw/recall/pkg/tags"
)

// index is an in-memory BM25 inverted index over durable records, keyed by
// record key so equal ids in different scopes never collide.
type index struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	postings  map[string]map[string]struct{} // term -> keys
	termFreqs map[string]map[string]int      // key -> term -> count
	lengths   map[string]int
	scopes    map[string]string // key -> scope

	totalDocs int
	totalLen  int
}

type match struct {
	key   string
	score float64
}

func newIndex(k1, b float64) *index {
	return &index{
		k1:        k1,
		b:         b,
		postings:  make(map[string]map[string]struct{}),
		termFreqs: make(map[string]map[string]int),
		lengths:   make(map[string]int),
		scopes:    make(map[string]string),
	}
}

func (idx *index) add(key, scope string, terms []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.termFreqs[key]; ok {
		idx.removeLocked(key)
	}

	freqs := make(map[string]int, len(terms))
	for _, t := range terms {
		freqs[t]++
	}
	idx.termFreqs[key] = freqs
	idx.lengths[key] = len(terms)
	idx.scopes[key] = scope
	idx.totalDocs++
	idx.totalLen += len(terms)

	for term := range freqs {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string]struct{})
		}
		idx.postings[term][key] = struct{}{}
	}
}

func (idx *index) remove(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(key)
}

func (idx *index) removeLocked(key string) {
	freqs, ok := idx.termFreqs[key]
	if !ok {
		return
	}
	for term := range freqs {
		if docs, ok := idx.postings[term]; ok {
			delete(docs, key)
			if len(docs) == 0 {
				delete(idx.postings, term)
			}
		}
	}
	idx.totalLen -= idx.lengths[key]
	idx.totalDocs--
	delete(idx.termFreqs, key)
	delete(idx.lengths, key)
	delete(idx.scopes, key)
}

// search returns the scope's documents matching any query term, best first.
func (idx *index) search(scope string, query []string) []match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.totalDocs == 0 || len(query) == 0 {
		return nil
	}
	avgDL := float64(idx.totalLen) / float64(idx.totalDocs)

	candidates := make(map[string]struct{})
	for _, term := range query {
		for key := range idx.postings[term] {
			if idx.scopes[key] == scope {
				candidates[key] = struct{}{}
			}
		}
	}

	out := make([]match, 0, len(candidates))
	for key := range candidates {
		if s := idx.scoreLocked(key, query, avgDL); s > 0 {
			out = append(out, match{key: key, score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].key < out[j].key
	})
	return out
}

func (idx *index) scoreLocked(key string, query []string, avgDL float64) float64 {
	docLen := float64(idx.lengths[key])
	freqs := idx.termFreqs[key]
	score := 0.0
	for _, term := range query {
		tf := float64(freqs[term])
		if tf == 0 {
			continue
		}
		n := float64(len(idx.postings[term]))
		idf := math.Log((float64(idx.totalDocs)-n+0.5)/(n+0.5) + 1.0)
		score += idf * tf * (idx.k1 + 1) / (tf + idx.k1*(1-idx.b+idx.b*docLen/avgDL))
	}
	return score
}

func (idx *index) len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDocs
}

// similarity maps an unbounded BM25 score into [0,1).
func similarity(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + saturation)
}

const saturation = 2.0

// documentTerms tokenizes the searchable text of a record. Tags are folded
// in so a tag filter can match records whose body never names the tag.
func documentTerms(content string, recordTags []string) []string {
	terms := tags.Tokenize(content)
	for _, t := range recordTags {
		terms = append(terms, tags.Tokenize(t)...)
	}
	return terms
}
