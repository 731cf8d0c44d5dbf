// Package retrieval adapts an external search backend into memory items and
// merges long-term candidates with working memory.
package retrieval

import (
	"context"
	"errors"
)

// ErrMalformedHit marks a raw hit that cannot be converted into an item.
var ErrMalformedHit = errors.New("retrieval: malformed hit")

// Filter restricts a search to one scope and excludes ids already surfaced.
type Filter struct {
	// Scope must match the hit's owning scope.
	Scope string

	// ExcludeIDs must not match any hit.
	ExcludeIDs []string
}

// SearchOptions tunes a search call.
type SearchOptions struct {
	Limit int
	Tags  []string
}

// RawHit is one result of the search backend.
type RawHit struct {
	ID       string
	Content  string
	Metadata map[string]any
	// Score is the backend's similarity signal, expected in [0,1].
	Score float64
}

// Searcher is the semantic or keyword search backend.
type Searcher interface {
	Search(ctx context.Context, scope, query string, filter Filter, opts SearchOptions) ([]RawHit, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, scope, query string, filter Filter, opts SearchOptions) ([]RawHit, error)

// Search implements Searcher.
func (f SearcherFunc) Search(ctx context.Context, scope, query string, filter Filter, opts SearchOptions) ([]RawHit, error) {
	return f(ctx, scope, query, filter, opts)
}
