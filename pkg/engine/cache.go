package engine

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goclaw/recall/pkg/memory"
)

// Cache defaults.
const (
	DefaultCacheTTL           = 5 * time.Minute
	DefaultCacheSweepInterval = 60 * time.Second
)

type cacheEntry struct {
	result  *RetrieveResult
	expires time.Time
}

// resultCache memoises retrieval results per (scope, query, options).
// Concurrent misses for one key share a single computation. Invalidation
// bumps an epoch so results computed before it are never stored.
type resultCache struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map // key -> cacheEntry
	group   singleflight.Group

	mu    sync.Mutex // orders stores against epoch bumps
	epoch atomic.Uint64
	size  atomic.Int64

	// beforeEpoch runs ahead of the epoch read in do. Tests only.
	beforeEpoch func()
}

func newResultCache(ttl time.Duration, now func() time.Time) *resultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &resultCache{ttl: ttl, now: now}
}

// get returns a live entry.
func (c *resultCache) get(key string) (*RetrieveResult, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if !c.now().Before(entry.expires) {
		if c.entries.CompareAndDelete(key, v) {
			c.size.Add(-1)
		}
		return nil, false
	}
	return entry.result, true
}

// do runs fn once per key among concurrent callers. The computation is
// detached from any single caller's cancellation; each caller stops
// waiting when its own ctx ends. shared reports whether the result came
// from another caller's computation. fn starts after the epoch is read, so
// state it loads is at least as new as the epoch its result is stored under.
func (c *resultCache) do(ctx context.Context, key string, fn func(context.Context) (*RetrieveResult, error)) (res *RetrieveResult, shared bool, err error) {
	if c.beforeEpoch != nil {
		c.beforeEpoch()
	}
	epoch := c.epoch.Load()
	flightKey := strconv.FormatUint(epoch, 10) + "|" + key
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(flightKey, func() (any, error) {
		r, err := fn(detached)
		if err != nil {
			return nil, err
		}
		c.store(epoch, key, r)
		return r, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, out.Shared, out.Err
		}
		return out.Val.(*RetrieveResult), out.Shared, nil
	}
}

func (c *resultCache) store(epoch uint64, key string, r *RetrieveResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch.Load() != epoch {
		return
	}
	if _, loaded := c.entries.Swap(key, cacheEntry{result: r, expires: c.now().Add(c.ttl)}); !loaded {
		c.size.Add(1)
	}
}

func (c *resultCache) bump() {
	c.mu.Lock()
	c.epoch.Add(1)
	c.mu.Unlock()
}

// invalidateScope drops every entry of scope.
func (c *resultCache) invalidateScope(scope string) {
	c.bump()
	prefix := scopePrefix(scope)
	c.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			if _, ok := c.entries.LoadAndDelete(k); ok {
				c.size.Add(-1)
			}
		}
		return true
	})
}

// flush drops every entry.
func (c *resultCache) flush() {
	c.bump()
	c.entries.Range(func(k, _ any) bool {
		if _, ok := c.entries.LoadAndDelete(k); ok {
			c.size.Add(-1)
		}
		return true
	})
}

// sweep removes expired entries and returns how many remain.
func (c *resultCache) sweep() int {
	now := c.now()
	c.entries.Range(func(k, v any) bool {
		if !now.Before(v.(cacheEntry).expires) {
			if c.entries.CompareAndDelete(k, v) {
				c.size.Add(-1)
			}
		}
		return true
	})
	return c.len()
}

func (c *resultCache) len() int {
	return int(c.size.Load())
}

func scopePrefix(scope string) string {
	return strconv.Itoa(len(scope)) + ":" + scope + "\x00"
}

// cacheKey fingerprints a normalised request. Scope is length-prefixed so
// no scope can be a prefix of another scope's keys.
func cacheKey(scope, query string, o RetrieveOptions, useImportance bool, threshold float64) string {
	var b strings.Builder
	b.WriteString(scopePrefix(scope))
	b.WriteString(query)
	b.WriteByte(0)
	b.WriteString(strings.Join(sortedUnique(memory.NormalizeTags(o.Tags)), ","))
	b.WriteByte(0)
	b.WriteString(strings.Join(sortedUnique(o.ExcludeIDs), ","))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(o.Limit))
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(o.IntentConfidence, 'g', -1, 64))
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(threshold, 'g', -1, 64))
	b.WriteByte(0)
	b.WriteString(strconv.FormatBool(useImportance))
	return b.String()
}

// sweepLoop periodically evicts expired entries until Stop.
type sweepLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startSweepLoop(parent context.Context, interval time.Duration, sweep func()) *sweepLoop {
	if interval <= 0 {
		interval = DefaultCacheSweepInterval
	}
	ctx, cancel := context.WithCancel(parent)
	l := &sweepLoop{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
	return l
}

func (l *sweepLoop) stop() {
	l.cancel()
	<-l.done
}
