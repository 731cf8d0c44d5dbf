package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the relevance engine.
const (
	TypeGate          = "memory.gate"
	TypeRetrieval     = "memory.retrieval"
	TypeConsolidation = "memory.consolidation"
	TypeTurnRecorded  = "memory.turn_recorded"
	TypeCacheFlushed  = "memory.cache_flushed"
)

const typePrefix = "memory."

// TypeFor returns the event type for an engine phase.
func TypeFor(phase string) string {
	if phase == "" || strings.HasPrefix(phase, typePrefix) {
		return phase
	}
	return typePrefix + phase
}

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Scope     string    `json:"scope,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster broadcasts events to in-process subscribers. Slow subscribers
// lose events instead of blocking the publisher.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	dropped     atomic.Int64
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast sends event to all subscribers without blocking.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// RecordEvent publishes an engine phase for scope. Bare phase names such as
// "gate" are namespaced to their Type constant. It never blocks.
func (b *Broadcaster) RecordEvent(scope, phase string, data map[string]any) {
	b.Broadcast(Event{
		Type:    TypeFor(phase),
		Scope:   scope,
		Payload: data,
	})
}

// Dropped returns how many events were lost to full subscriber buffers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
