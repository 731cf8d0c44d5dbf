// Package workingmemory holds the short-lived buffer of recent conversational
// turns per scope and the gate that decides whether that buffer alone can
// answer a request.
package workingmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goclaw/recall/pkg/memory"
)

// DefaultCapacity is the number of turns kept per scope.
const DefaultCapacity = 20

// ErrBufferUnavailable is returned when the buffer backend cannot be reached.
var ErrBufferUnavailable = errors.New("workingmemory: buffer unavailable")

// Buffer stores the most recent turns of each scope.
type Buffer interface {
	// Append records a turn. Older turns beyond the buffer capacity are dropped.
	Append(ctx context.Context, item memory.Item) error

	// Recent returns up to n turns of scope, newest first. n <= 0 means all.
	Recent(ctx context.Context, scope string, n int) ([]memory.Item, error)

	// Clear drops every turn of scope.
	Clear(ctx context.Context, scope string) error
}

func validateItem(item memory.Item) error {
	if item.Scope == "" {
		return memory.ErrInvalidScope
	}
	if item.ID == "" {
		return memory.ErrInvalidItemID
	}
	return nil
}

// orderRecent de-duplicates by id, keeping the latest append, and orders the
// result by effective time descending, then id. items must be newest-append
// first.
func orderRecent(items []memory.Item, n int) []memory.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]memory.Item, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].EffectiveTime(), out[j].EffectiveTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// MemoryBuffer is an in-process Buffer backed by a fixed-size ring per scope.
type MemoryBuffer struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

type ring struct {
	items []memory.Item
	next  int
	full  bool
}

// NewMemoryBuffer creates a MemoryBuffer keeping capacity turns per scope.
func NewMemoryBuffer(capacity int) *MemoryBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryBuffer{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Append implements Buffer.
func (b *MemoryBuffer) Append(ctx context.Context, item memory.Item) error {
	if err := validateItem(item); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[item.Scope]
	if !ok {
		r = &ring{items: make([]memory.Item, b.capacity)}
		b.rings[item.Scope] = r
	}
	r.items[r.next] = item.Clone()
	r.next = (r.next + 1) % b.capacity
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Recent implements Buffer.
func (b *MemoryBuffer) Recent(ctx context.Context, scope string, n int) ([]memory.Item, error) {
	if scope == "" {
		return nil, memory.ErrInvalidScope
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[scope]
	if !ok {
		return []memory.Item{}, nil
	}

	size := r.next
	if r.full {
		size = b.capacity
	}
	items := make([]memory.Item, 0, size)
	for i := 1; i <= size; i++ {
		idx := (r.next - i + b.capacity) % b.capacity
		items = append(items, r.items[idx].Clone())
	}
	return orderRecent(items, n), nil
}

// Clear implements Buffer.
func (b *MemoryBuffer) Clear(_ context.Context, scope string) error {
	if scope == "" {
		return memory.ErrInvalidScope
	}
	b.mu.Lock()
	delete(b.rings, scope)
	b.mu.Unlock()
	return nil
}

// Len returns the number of turns currently held for scope.
func (b *MemoryBuffer) Len(scope string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rings[scope]
	if !ok {
		return 0
	}
	if r.full {
		return b.capacity
	}
	return r.next
}
