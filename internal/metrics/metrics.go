// Package metrics exposes Prometheus collectors for the pagewatch
// service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	capturesTotal           *prometheus.CounterVec
	changesTotal            *prometheus.CounterVec
	captureDurationSeconds  *prometheus.HistogramVec
	claimConflictsTotal     prometheus.Counter
	zombiesReclaimedTotal   prometheus.Counter
	activeCaptures          prometheus.Gauge
	publishFailuresTotal    prometheus.Counter
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors on the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_captures_total",
				Help: "Total capture attempts, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		changesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagewatch_changes_total",
				Help: "Total content changes detected, labeled by domain.",
			},
			[]string{"domain"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagewatch_capture_duration_seconds",
				Help:    "Histogram of end-to-end capture latencies, labeled by domain.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"domain"},
		)

		claimConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagewatch_claim_conflicts_total",
				Help: "Total page claims lost to a concurrent worker.",
			},
		)

		zombiesReclaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagewatch_zombies_reclaimed_total",
				Help: "Total stale PROCESSING pages returned to PENDING.",
			},
		)

		activeCaptures = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagewatch_active_captures",
				Help: "Number of captures currently in flight.",
			},
		)

		publishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagewatch_publish_failures_total",
				Help: "Total change events that failed to publish.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeDomain extracts a lowercase hostname from a URL or host
// string. Returns "unknown" for unparsable input.
func SanitizeDomain(raw string) string {
	// Prefix-sniffing "http" would swallow bare hosts like httpbin.org.
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture records one finished capture attempt.
func ObserveCapture(domain, outcome string, changed bool, duration time.Duration) {
	d := SanitizeDomain(domain)
	capturesTotal.WithLabelValues(d, outcome).Inc()
	captureDurationSeconds.WithLabelValues(d).Observe(duration.Seconds())
	if changed {
		changesTotal.WithLabelValues(d).Inc()
	}
}

// ObserveClaimConflict counts a claim lost to another worker.
func ObserveClaimConflict() {
	claimConflictsTotal.Inc()
}

// ObserveZombiesReclaimed counts pages recovered by the zombie sweep.
func ObserveZombiesReclaimed(n int) {
	zombiesReclaimedTotal.Add(float64(n))
}

// IncActiveCaptures increments the in-flight capture gauge.
func IncActiveCaptures() {
	activeCaptures.Inc()
}

// DecActiveCaptures decrements the in-flight capture gauge.
func DecActiveCaptures() {
	activeCaptures.Dec()
}

// ObservePublishFailure counts an event that could not be published.
func ObservePublishFailure() {
	publishFailuresTotal.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
