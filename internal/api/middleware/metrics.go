package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/eldtechnologies/batepapo/internal/metrics"
)

// Metrics records request counts and latencies per normalized route.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := normalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

var knownPaths = map[string]bool{
	"/": true, "/health": true, "/metrics": true, "/stats": true,
	"/participants": true, "/status": true, "/messages": true,
}

var pathParams = []struct{ prefix, normalized string }{
	{"/messages/", "/messages/:id"},
	{"/participants/", "/participants/:name"},
}

// normalizePath collapses ids and names so metric labels and rate-limit routes
// stay bounded. Unknown paths all become "other".
func normalizePath(path string) string {
	for _, p := range pathParams {
		if rest, ok := strings.CutPrefix(path, p.prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			return p.normalized
		}
	}
	if knownPaths[path] {
		return path
	}
	return "other"
}
