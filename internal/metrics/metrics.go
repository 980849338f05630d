// Package metrics holds the Prometheus collectors shared across the service.
//
// Collectors are package-level so any layer can increment them without
// threading a registry through constructors. Nothing is exported to
// /metrics until RegisterCollectors is called with a registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clickledger"

var (
	// KeySetRefreshes counts key set fetches by outcome: ok, error.
	KeySetRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "keyset_refresh_total", Help: "Number of signing key set fetches by outcome."},
		[]string{"outcome"},
	)

	// ProfileLookups counts userinfo lookups by outcome: ok, unavailable.
	ProfileLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "profile_lookups_total", Help: "Number of profile endpoint lookups by outcome."},
		[]string{"outcome"},
	)

	// AuthFailures counts rejected requests by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "auth_failures_total", Help: "Number of rejected authentication attempts by reason."},
		[]string{"reason"},
	)

	ClicksRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "clicks_recorded_total", Help: "Number of clicks committed to the ledger."},
	)

	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter."},
		[]string{"limiter"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Number of HTTP requests by route pattern, method and status."},
		[]string{"route", "method", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency by route pattern and method.", Buckets: prometheus.DefBuckets},
		[]string{"route", "method"},
	)
)

// RegisterCollectors registers every collector with reg.
// Calling it twice on the same registerer panics.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(KeySetRefreshes)
	reg.MustRegister(ProfileLookups)
	reg.MustRegister(AuthFailures)
	reg.MustRegister(ClicksRecorded)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(HTTPRequests)
	reg.MustRegister(HTTPDuration)
}
