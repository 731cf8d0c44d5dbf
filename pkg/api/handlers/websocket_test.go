package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goclaw/recall/pkg/api/events"
	"github.com/goclaw/recall/pkg/logger"
)

func testWSLogger() logger.Logger {
	return logger.Nop()
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWebSocketHandler_RejectsNonUpgrade(t *testing.T) {
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{})

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebSocketHandler_SubscribeAndBroadcast(t *testing.T) {
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{
		MaxConnections: 5,
	})

	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{
		"type":  "subscribe",
		"scope": "user-1",
	}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	if err := handler.Broadcast(events.Event{
		Type:  events.TypeRetrieval,
		Scope: "user-1",
		Payload: map[string]any{
			"returned": 3,
		},
	}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read broadcast event: %v", err)
	}
	if got.Type != events.TypeRetrieval || got.Scope != "user-1" {
		t.Fatalf("event = %+v, want retrieval for user-1", got)
	}
}

func TestWebSocketHandler_ConnectionLimit(t *testing.T) {
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{
		MaxConnections: 1,
	})

	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to open first websocket: %v", err)
	}
	defer first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for handler.Connections() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err == nil {
		t.Fatal("expected second websocket dial to fail")
	}
	var handshakeErr websocket.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Logf("dial returned non-handshake error type: %T", err)
	}
	if resp == nil {
		t.Fatal("expected HTTP response for failed upgrade")
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestWebSocketHandler_OriginCheck(t *testing.T) {
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{
		AllowedOrigins: []string{"http://allowed.example"},
	})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()

	dialer := websocket.Dialer{}
	headers := http.Header{}
	headers.Set("Origin", "http://blocked.example")

	_, resp, err := dialer.Dial(wsURL(server.URL), headers)
	if err == nil {
		t.Fatal("expected websocket dial with blocked origin to fail")
	}
	if resp == nil {
		t.Fatal("expected HTTP response for blocked origin")
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestConnectionManager_RegisterUnregisterBroadcast(t *testing.T) {
	manager := NewConnectionManager(2)
	clientA := newWSClient(nil)
	clientB := newWSClient(nil)

	clientA.subscribe("user-1")

	if err := manager.Register(clientA); err != nil {
		t.Fatalf("register clientA failed: %v", err)
	}
	if err := manager.Register(clientB); err != nil {
		t.Fatalf("register clientB failed: %v", err)
	}
	if manager.Count() != 2 {
		t.Fatalf("count = %d, want 2", manager.Count())
	}

	if err := manager.Broadcast(events.Event{Type: events.TypeGate, Scope: "user-1"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	select {
	case <-clientA.send:
	case <-time.After(time.Second):
		t.Fatal("expected subscribed clientA to receive user-1 event")
	}
	select {
	case <-clientB.send:
	case <-time.After(time.Second):
		t.Fatal("expected global clientB to receive user-1 event")
	}

	if err := manager.Broadcast(events.Event{Type: events.TypeGate, Scope: "user-2"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	select {
	case <-clientA.send:
		t.Fatal("did not expect clientA subscription to receive user-2 event")
	case <-time.After(200 * time.Millisecond):
	}
	select {
	case <-clientB.send:
	case <-time.After(time.Second):
		t.Fatal("expected global clientB to receive user-2 event")
	}

	if err := manager.Broadcast(events.Event{Type: events.TypeCacheFlushed}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	select {
	case <-clientA.send:
	case <-time.After(time.Second):
		t.Fatal("expected scoped clientA to receive engine-wide event")
	}
	<-clientB.send

	manager.Unregister(clientA)
	if manager.Count() != 1 {
		t.Fatalf("count after unregister = %d, want 1", manager.Count())
	}
	if err := manager.Register(newWSClient(nil)); err != nil {
		t.Fatalf("register after unregister failed: %v", err)
	}
	if err := manager.Register(newWSClient(nil)); !errors.Is(err, ErrConnectionLimit) {
		t.Fatalf("register over limit error = %v, want ErrConnectionLimit", err)
	}
}

func TestEventJSONFormat(t *testing.T) {
	event := events.Event{
		Type:      events.TypeConsolidation,
		Scope:     "user-1",
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"promoted": 2,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, field := range []string{"type", "scope", "timestamp", "payload"} {
		if _, ok := decoded[field]; !ok {
			t.Fatalf("missing %s field", field)
		}
	}
}

func TestWebSocketHandler_ConsumeForwardsScopedEvents(t *testing.T) {
	handler := NewWebSocketHandler(testWSLogger(), WebSocketConfig{})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer handler.Close()

	source := events.NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		handler.Consume(ctx, source)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL)+"?scope=user-1", nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for (handler.Connections() == 0 || source.SubscriberCount() == 0) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	source.RecordEvent("user-2", events.TypeGate, map[string]any{"sufficient": true})
	source.RecordEvent("user-1", events.TypeTurnRecorded, map[string]any{"id": "t1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.Scope != "user-1" || got.Type != events.TypeTurnRecorded {
		t.Fatalf("event = %+v, want turn_recorded for user-1", got)
	}
}
