package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/click-ledger/internal/metrics"
)

// Metrics records request counts and latency per chi route pattern.
//
// The pattern ("/api/clicks/history"), not the raw path, is the label, so
// query strings and unknown paths can't blow up label cardinality. Requests
// chi couldn't match are labelled "unmatched".
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrap(w)

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
