package events

import (
	"testing"
	"time"
)

func TestBroadcaster_SubscribeBroadcastUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.Broadcast(Event{
		Type: TypeGate,
		Payload: map[string]any{
			"sufficient": true,
		},
	})

	select {
	case event := <-ch:
		if event.Type != TypeGate {
			t.Fatalf("type = %q, want %s", event.Type, TypeGate)
		}
		if event.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast event")
	}

	b.Unsubscribe(ch)
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
	// Unsubscribing twice is a no-op.
	b.Unsubscribe(ch)
}

func TestBroadcaster_RecordEventCarriesScope(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.RecordEvent("user-1", TypeRetrieval, map[string]any{"items": 3})

	select {
	case event := <-ch:
		if event.Scope != "user-1" {
			t.Fatalf("scope = %q, want user-1", event.Scope)
		}
		payload, ok := event.Payload.(map[string]any)
		if !ok || payload["items"] != 3 {
			t.Fatalf("unexpected payload %#v", event.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for recorded event")
	}
}

func TestBroadcaster_DropsOnOverflow(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.RecordEvent("s", TypeTurnRecorded, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("dropped = %d, want 4", got)
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestTypeFor(t *testing.T) {
	cases := map[string]string{
		"gate":          TypeGate,
		"cache_flushed": TypeCacheFlushed,
		TypeRetrieval:   TypeRetrieval,
		"":              "",
	}
	for phase, want := range cases {
		if got := TypeFor(phase); got != want {
			t.Errorf("TypeFor(%q) = %q, want %q", phase, got, want)
		}
	}
}
