package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// MetricsRecorder defines the interface for recording HTTP metrics.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// ContextMetricsRecorder is implemented by recorders that attach the
// request's trace as an exemplar.
type ContextMetricsRecorder interface {
	RecordHTTPRequestWithContext(ctx context.Context, method, path, status string, duration time.Duration)
}

// unmatchedRoute labels requests no route matched, so arbitrary paths and
// scope names never become label values.
const unmatchedRoute = "unmatched"

// Metrics returns a middleware that records HTTP metrics labelled by chi
// route pattern. The metrics endpoint and websocket streams are not
// recorded.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	record := func(r *http.Request, status int, d time.Duration) {
		path := metricsPath(r)
		code := strconv.Itoa(status)
		if cr, ok := recorder.(ContextMetricsRecorder); ok {
			cr.RecordHTTPRequestWithContext(r.Context(), r.Method, path, code, d)
			return
		}
		recorder.RecordHTTPRequest(r.Method, path, code, d)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") || strings.HasPrefix(r.URL.Path, "/ws/") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			wrapped := newStatusWriter(w)

			defer func() {
				if err := recover(); err != nil {
					record(r, http.StatusInternalServerError, time.Since(start))
					panic(err)
				}
			}()

			next.ServeHTTP(wrapped, r)
			record(r, wrapped.statusCode, time.Since(start))
		})
	}
}

// metricsPath returns the matched chi route pattern. Inside a chi router an
// unmatched request is labelled "unmatched"; outside one the path is used.
func metricsPath(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return r.URL.Path
	}
	if pattern := rc.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "/*") {
		return pattern
	}
	return unmatchedRoute
}
