// Package longterm is a Badger-backed durable memory store with an in-memory
// BM25 index. It serves as the search backend for retrieval and as the
// writer for consolidation.
package longterm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/goclaw/recall/pkg/consolidation"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/retrieval"
	"github.com/goclaw/recall/pkg/tags"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("longterm: record not found")

const keyPrefix = "ltm:"

// Keys are ltm:{len(scope)}:{scope}\x00{id}. The length prefix keeps one
// scope's prefix from matching another scope that extends it.
func recordKey(scope, id string) []byte {
	return append(scopePrefix(scope), id...)
}

func scopePrefix(scope string) []byte {
	return []byte(keyPrefix + strconv.Itoa(len(scope)) + ":" + scope + "\x00")
}

// Config configures a Store.
type Config struct {
	// Dir is the Badger directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the database in memory only.
	InMemory bool

	// K1 and B are the BM25 parameters.
	K1 float64
	B  float64
}

// DefaultConfig returns an in-memory configuration with standard BM25
// parameters.
func DefaultConfig() Config {
	return Config{InMemory: true, K1: 1.2, B: 0.75}
}

type storeLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopStoreLogger struct{}

func (nopStoreLogger) Info(string, ...any) {}
func (nopStoreLogger) Warn(string, ...any) {}

// Store persists durable records. It implements retrieval.Searcher and
// consolidation.Writer.
type Store struct {
	db     *badger.DB
	owned  bool
	index  *index
	logger storeLogger
	now    func() time.Time
}

var (
	_ retrieval.Searcher   = (*Store)(nil)
	_ consolidation.Writer = (*Store)(nil)
)

// Open opens (or creates) the Badger database described by cfg and rebuilds
// the search index from it.
func Open(cfg Config, logger storeLogger) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("%w: badger dir is required", memory.ErrInvalidArgument)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("longterm: open badger: %w", err)
	}
	s, err := New(db, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *badger.DB, cfg Config, logger storeLogger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: badger db is required", memory.ErrInvalidArgument)
	}
	if cfg.K1 <= 0 {
		cfg.K1 = 1.2
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = 0.75
	}
	if logger == nil {
		logger = nopStoreLogger{}
	}
	s := &Store{
		db:     db,
		index:  newIndex(cfg.K1, cfg.B),
		logger: logger,
		now:    time.Now,
	}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuild() error {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec consolidation.DurableRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				s.logger.Warn("skipping undecodable record", "key", string(it.Item().Key()), "error", err)
				continue
			}
			s.index.add(string(it.Item().Key()), rec.Scope, documentTerms(rec.Content, rec.Tags))
			n++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("longterm: rebuild index: %w", err)
	}
	s.logger.Info("long-term index rebuilt", "records", n)
	return nil
}

// Write implements consolidation.Writer.
func (s *Store) Write(ctx context.Context, rec consolidation.DurableRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.Scope == "" {
		return "", memory.ErrInvalidScope
	}
	if strings.TrimSpace(rec.Content) == "" {
		return "", memory.ErrEmptyContent
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Tags = memory.NormalizeTags(rec.Tags)

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("longterm: marshal record: %w", err)
	}
	key := recordKey(rec.Scope, rec.ID)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return "", fmt.Errorf("longterm: write record: %w", err)
	}
	s.index.add(string(key), rec.Scope, documentTerms(rec.Content, rec.Tags))
	return rec.ID, nil
}

// Get returns one record of scope.
func (s *Store) Get(ctx context.Context, scope, id string) (*consolidation.DurableRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec consolidation.DurableRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(scope, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("longterm: get record: %w", err)
	}
	return &rec, nil
}

// List returns every record of scope, newest first.
func (s *Store) List(ctx context.Context, scope string) ([]consolidation.DurableRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs := make([]consolidation.DurableRecord, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scopePrefix(scope)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec consolidation.DurableRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("longterm: list records: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

// Delete removes one record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, scope, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := recordKey(scope, id)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("longterm: delete record: %w", err)
	}
	s.index.remove(string(key))
	return nil
}

// DeleteScope removes every record of scope and returns how many were removed.
func (s *Store) DeleteScope(ctx context.Context, scope string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var keys [][]byte
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scopePrefix(scope)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("longterm: delete scope: %w", err)
	}
	for _, k := range keys {
		s.index.remove(string(k))
	}
	return len(keys), nil
}

// Len returns the number of indexed records across all scopes.
func (s *Store) Len() int { return s.index.len() }

// Search implements retrieval.Searcher. Query text and tags are matched with
// BM25 inside the filter's scope; an empty query returns the newest records.
// Expired and excluded records are never returned.
func (s *Store) Search(ctx context.Context, scope, query string, filter retrieval.Filter, opts retrieval.SearchOptions) ([]retrieval.RawHit, error) {
	if filter.Scope != "" && filter.Scope != scope {
		return nil, fmt.Errorf("%w: filter scope %q does not match %q", memory.ErrInvalidScope, filter.Scope, scope)
	}
	if scope == "" {
		return nil, memory.ErrInvalidScope
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = retrieval.DefaultLimit
	}
	excluded := make(map[string]struct{}, len(filter.ExcludeIDs))
	for _, id := range filter.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	terms := tags.Tokenize(query)
	for _, t := range opts.Tags {
		terms = append(terms, tags.Tokenize(t)...)
	}

	if len(terms) == 0 {
		recs, err := s.List(ctx, scope)
		if err != nil {
			return nil, err
		}
		hits := make([]retrieval.RawHit, 0, limit)
		for _, rec := range recs {
			if len(hits) == limit {
				break
			}
			if _, skip := excluded[rec.ID]; skip {
				continue
			}
			hits = append(hits, toHit(rec, 0))
		}
		return hits, nil
	}

	matches := s.index.search(scope, terms)
	hits := make([]retrieval.RawHit, 0, limit)
	for _, m := range matches {
		if len(hits) == limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimPrefix(m.key, string(scopePrefix(scope)))
		if _, skip := excluded[id]; skip {
			continue
		}
		rec, err := s.Get(ctx, scope, id)
		if errors.Is(err, ErrNotFound) {
			s.index.remove(m.key)
			continue
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, toHit(*rec, similarity(m.score)))
	}
	return hits, nil
}

func toHit(rec consolidation.DurableRecord, score float64) retrieval.RawHit {
	meta := map[string]any{
		retrieval.MetaScope:      rec.Scope,
		retrieval.MetaKind:       string(rec.Kind),
		retrieval.MetaTags:       append([]string(nil), rec.Tags...),
		retrieval.MetaAddedAt:    rec.CreatedAt,
		retrieval.MetaTimestamp:  rec.SourceTime,
		retrieval.MetaPriority:   rec.Priority,
		retrieval.MetaConfidence: rec.Confidence,
		retrieval.MetaSourceID:   rec.SourceID,
		"durable_kind":           string(rec.DurableKind),
	}
	if rec.ImportanceScore != nil {
		meta[retrieval.MetaImportanceScore] = *rec.ImportanceScore
	}
	if len(rec.RelatedTo) > 0 {
		meta[retrieval.MetaRelatedTo] = append([]string(nil), rec.RelatedTo...)
	}
	return retrieval.RawHit{
		ID:       rec.ID,
		Content:  rec.Content,
		Metadata: meta,
		Score:    score,
	}
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
