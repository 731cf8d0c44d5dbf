package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type recordedRequest struct {
	method string
	path   string
	status string
}

type recordingMetrics struct {
	mu          sync.Mutex
	requests    []recordedRequest
	active      int
	peakActive  int
	contextSeen []trace.SpanContext
	withContext bool
}

func (m *recordingMetrics) RecordHTTPRequest(method, path, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{method, path, status})
}

func (m *recordingMetrics) IncActiveConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active++
	if m.active > m.peakActive {
		m.peakActive = m.active
	}
}

func (m *recordingMetrics) DecActiveConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
}

// contextMetrics also receives the request context.
type contextMetrics struct {
	recordingMetrics
}

func (m *contextMetrics) RecordHTTPRequestWithContext(ctx context.Context, method, path, status string, d time.Duration) {
	m.mu.Lock()
	m.contextSeen = append(m.contextSeen, trace.SpanContextFromContext(ctx))
	m.withContext = true
	m.mu.Unlock()
	m.RecordHTTPRequest(method, path, status, d)
}

func meteredRouter(rec MetricsRecorder) chi.Router {
	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Post("/api/v1/scopes/{scope}/turns", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/api/v1/memories/retrieve", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/api/v1/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	r.Get("/ws/events", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	rec := &recordingMetrics{}
	router := meteredRouter(rec)

	for _, scope := range []string{"user-1", "user-2", "session-9"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/scopes/"+scope+"/turns", nil))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	require.Len(t, rec.requests, 3)
	for _, got := range rec.requests {
		assert.Equal(t, recordedRequest{http.MethodPost, "/api/v1/scopes/{scope}/turns", "201"}, got)
	}
	assert.Equal(t, 0, rec.active)
}

func TestMetrics_CapturesStatusCode(t *testing.T) {
	rec := &recordingMetrics{}
	meteredRouter(rec).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/memories/retrieve", nil))

	require.Len(t, rec.requests, 1)
	assert.Equal(t, "503", rec.requests[0].status)
}

func TestMetrics_UnmatchedPathsShareOneLabel(t *testing.T) {
	rec := &recordingMetrics{}
	router := meteredRouter(rec)

	for _, path := range []string{"/api/v1/nope", "/random/user-secret-name"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	require.Len(t, rec.requests, 2)
	for _, got := range rec.requests {
		assert.Equal(t, unmatchedRoute, got.path)
		assert.Equal(t, "404", got.status)
	}
}

func TestMetrics_SkipsMetricsAndEventStream(t *testing.T) {
	rec := &recordingMetrics{}
	router := meteredRouter(rec)

	for _, path := range []string{"/metrics", "/ws/events"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Empty(t, rec.requests)
	assert.Zero(t, rec.peakActive)
}

func TestMetrics_RecordsPanicAsServerError(t *testing.T) {
	rec := &recordingMetrics{}
	router := meteredRouter(rec)

	assert.Panics(t, func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/boom", nil))
	})

	require.Len(t, rec.requests, 1)
	assert.Equal(t, "500", rec.requests[0].status)
	assert.Equal(t, 0, rec.active)
}

func TestMetrics_PassesTraceContextToContextRecorder(t *testing.T) {
	rec := &contextMetrics{}
	router := meteredRouter(rec)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		SpanID:     trace.SpanID{2, 2, 2, 2, 2, 2, 2, 2},
		TraceFlags: trace.FlagsSampled,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scopes/user-1/turns", nil).
		WithContext(trace.ContextWithSpanContext(context.Background(), spanCtx))
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, rec.withContext)
	require.Len(t, rec.contextSeen, 1)
	assert.Equal(t, spanCtx.TraceID(), rec.contextSeen[0].TraceID())
	assert.Equal(t, spanCtx.SpanID(), rec.contextSeen[0].SpanID())
}

func TestMetricsPath_OutsideRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/flush", nil)
	assert.Equal(t, "/api/v1/cache/flush", metricsPath(req))
}

func TestStatusWriter_FirstStatusWins(t *testing.T) {
	sw := newStatusWriter(httptest.NewRecorder())

	sw.WriteHeader(http.StatusAccepted)
	sw.WriteHeader(http.StatusBadRequest)

	assert.Equal(t, http.StatusAccepted, sw.statusCode)
	assert.True(t, sw.written)
}

func TestStatusWriter_CountsBytes(t *testing.T) {
	sw := newStatusWriter(httptest.NewRecorder())

	n, err := sw.Write([]byte(`{"scope":"user-1"}`))
	require.NoError(t, err)

	assert.Equal(t, n, sw.size)
	assert.Equal(t, http.StatusOK, sw.statusCode)
	assert.True(t, sw.written)
}
