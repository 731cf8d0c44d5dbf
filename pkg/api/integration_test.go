package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goclaw/recall/pkg/api/events"
	"github.com/goclaw/recall/pkg/api/models"
	"github.com/goclaw/recall/pkg/api/response"
	"github.com/goclaw/recall/pkg/engine"
	"github.com/goclaw/recall/pkg/logger"
)

// setupIntegrationTest serves the full router over a real listener.
func setupIntegrationTest(t *testing.T) (*testStack, *httptest.Server) {
	t.Helper()
	stack := newTestStack(t)
	server := httptest.NewServer(NewRouter(stack.cfg, logger.Nop(), stack.handlers))
	t.Cleanup(server.Close)
	return stack, server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func readJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestIntegration_ConsolidatedMemoryIsRetrieved(t *testing.T) {
	_, server := setupIntegrationTest(t)

	// Record a durable fact and consolidate it to long-term memory.
	resp := postJSON(t, server.URL+"/api/v1/scopes/user-1/turns", map[string]any{
		"id": "fact-1", "content": "Allergic to peanuts", "kind": "fact",
		"tags": []string{"health", "food"}, "priority": 9, "confidence": 0.95,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/api/v1/scopes/user-1/consolidate", map[string]any{})
	var result struct {
		Promoted []struct {
			SourceID  string `json:"source_id"`
			DurableID string `json:"durable_id"`
		} `json:"promoted"`
	}
	readJSON(t, resp, &result)
	if len(result.Promoted) != 1 || result.Promoted[0].SourceID != "fact-1" {
		t.Fatalf("promoted = %+v, want fact-1", result.Promoted)
	}

	// A low-confidence intent forces the long-term path; the turn itself is
	// excluded so only the durable copy can answer.
	resp = postJSON(t, server.URL+"/api/v1/memories/retrieve", models.RetrieveRequest{
		Scope:            "user-1",
		Query:            "what food should I avoid peanuts",
		Tags:             []string{"food"},
		IntentConfidence: 0.1,
		ExcludeIDs:       []string{"fact-1"},
	})
	var res engine.RetrieveResult
	readJSON(t, resp, &res)
	if res.FromWorkingMemoryOnly {
		t.Fatal("expected long-term candidates to be consulted")
	}
	if len(res.IDs) != 1 || res.IDs[0] != result.Promoted[0].DurableID {
		t.Fatalf("ids = %v, want [%s]", res.IDs, result.Promoted[0].DurableID)
	}
}

func TestIntegration_HealthChecks(t *testing.T) {
	stack, server := setupIntegrationTest(t)

	for _, path := range []string{"/health", "/ready", "/status"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}

	if err := stack.engine.Stop(t.Context()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	resp, err := http.Get(server.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready after stop = %d, want 503", resp.StatusCode)
	}
}

func TestIntegration_ErrorHandling(t *testing.T) {
	_, server := setupIntegrationTest(t)

	resp, err := http.Post(server.URL+"/api/v1/memories/retrieve", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var body response.ErrorResponse
	readJSON(t, resp, &body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if body.Error.Code != response.ErrCodeBadRequest {
		t.Errorf("code = %q, want %q", body.Error.Code, response.ErrCodeBadRequest)
	}
	if body.Error.RequestID == "" || body.Error.RequestID != resp.Header.Get("X-Request-ID") {
		t.Errorf("request id = %q, header = %q", body.Error.RequestID, resp.Header.Get("X-Request-ID"))
	}
}

func TestIntegration_ConcurrentTurns(t *testing.T) {
	stack, server := setupIntegrationTest(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, _ := json.Marshal(map[string]any{"content": fmt.Sprintf("turn %d", i)})
			resp, err := http.Post(server.URL+"/api/v1/scopes/busy/turns", "application/json", bytes.NewReader(raw))
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				errs <- fmt.Errorf("turn %d status = %d", i, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	items, err := stack.engine.GetWorkingMemory(t.Context(), "busy", nil)
	if err != nil {
		t.Fatalf("GetWorkingMemory() error = %v", err)
	}
	if len(items) != writers {
		t.Errorf("working memory = %d turns, want %d", len(items), writers)
	}
}

func TestIntegration_EventStream(t *testing.T) {
	stack, server := setupIntegrationTest(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/events?scope=user-1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for stack.handlers.Events.Connections() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	resp := postJSON(t, server.URL+"/api/v1/scopes/user-1/turns", map[string]any{"id": "t1", "content": "hello"})
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != events.TypeTurnRecorded || got.Scope != "user-1" {
		t.Fatalf("event = %+v, want turn_recorded for user-1", got)
	}
}
