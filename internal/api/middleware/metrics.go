package middleware

import (
	"net/http"
	"regexp"
	"time"

	"github.com/mediaembed/gallery/internal/observability"
)

// Record and session ids are uuids; the ingest pipeline stores numeric export ids.
var idSegmentRegex = regexp.MustCompile(`/([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}|[0-9]+)(/|$)`)

// Metrics returns middleware that records HTTP request count and duration.
// When metrics is nil, recording is skipped. Put Metrics outermost so duration is full request time.
func Metrics(metrics observability.APIMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			metrics.RecordRequest(r.Context(), r.Method, normalizeRoute(r.URL.Path), statusToClass(rw.statusCode), time.Since(start))
		})
	}
}

// normalizeRoute replaces id path segments with {id} to bound cardinality.
func normalizeRoute(path string) string {
	// Run twice: adjacent id segments share the separating slash.
	for range 2 {
		path = idSegmentRegex.ReplaceAllString(path, "/{id}$2")
	}

	return path
}

// statusToClass maps HTTP status code to 1xx, 2xx, 3xx, 4xx, 5xx.
func statusToClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status >= 100:
		return "1xx"
	default:
		return "unknown"
	}
}
