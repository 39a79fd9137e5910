// Package telemetry provides application-level observability for the dossier backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<ND_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Upstream fetch counters and latency histograms, by source and outcome
//   - Directory refresh duration, error counters, and provider-count gauge
//   - Dossier bundle counters, by completeness
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/organizations/:ein)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as EINs or town names.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/nonprofit-dossier/nonprofit-dossier/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.UpstreamFetchTotal.WithLabelValues("filings", "ok").Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/organizations/:ein/financials),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Upstream fetch metrics — recorded by the filings client and the directory scraper.
//
// UpstreamFetchTotal is a CounterVec with labels {source, outcome}.  "source" is
// "filings" or "directory"; "outcome" is "ok", "not_found", or "error".  Not-found
// is tracked separately from errors because an unknown EIN is an expected result,
// not an upstream failure.
//
// Example PromQL queries:
//   - Upstream error rate:    sum by (source) (rate(upstream_fetch_total{outcome="error"}[15m]))
//   - Alert expression:       increase(upstream_fetch_total{outcome="error"}[30m]) > 10
//
// UpstreamFetchDuration is a HistogramVec with label {source}.  Filing PDF and roster
// document downloads dominate the upper buckets, so the range extends to 120 s.
var (
	UpstreamFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_fetch_total",
			Help: "Total number of upstream fetches, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	UpstreamFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_fetch_duration_seconds",
			Help:    "Histogram of upstream fetch latencies, by source.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)
)

// Directory refresh metrics — recorded by the directory refresh background job.
//
// DirectoryRefreshDuration is a Histogram using the default Prometheus buckets.
// Each observation represents one complete rebuild of the provider index (portal
// index page plus every town roster document).
//
// DirectoryRefreshErrorsTotal counts refresh cycles that failed outright; a partial
// refresh (some towns unreadable) is not an error, the index keeps serving the last
// good snapshot for the affected towns.
//
// DirectoryProviders is a Gauge holding the total number of providers in the live
// index snapshot.  A sudden drop is the canonical signal that the portal changed
// its markup and the scraper needs attention.
//
// Example PromQL queries:
//   - Alert on stalled refresh:   time() - directory_refresh_last_success_timestamp > 86400
//   - Alert on roster shrinkage:  delta(directory_providers[24h]) < -50
var (
	DirectoryRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "directory_refresh_duration_seconds",
			Help:    "Duration of a single provider directory refresh cycle.",
			Buckets: prometheus.DefBuckets,
		},
	)

	DirectoryRefreshErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_refresh_errors_total",
			Help: "Total number of failed directory refresh cycles.",
		},
	)

	DirectoryRefreshLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_refresh_last_success_timestamp",
			Help: "Unix timestamp of the last successful directory refresh.",
		},
	)

	DirectoryProviders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_providers",
			Help: "Number of providers in the live directory index snapshot.",
		},
	)
)

// DossierBundlesTotal is a CounterVec with label {complete} ("true"/"false")
// incremented once per assembled dossier bundle.  A rising rate of complete="false"
// bundles indicates upstream degradation even when the API itself returns 200s,
// because partial failures are recorded inside the bundle rather than as HTTP errors.
//
// Example PromQL queries:
//   - Partial-bundle ratio:  sum(rate(dossier_bundles_total{complete="false"}[1h])) / sum(rate(dossier_bundles_total[1h]))
var DossierBundlesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dossier_bundles_total",
		Help: "Total number of dossier bundles assembled, by completeness.",
	},
	[]string{"complete"},
)

// AnalysisRequestsTotal is a CounterVec with label {outcome} ("ok"/"error")
// incremented once per narrative analysis request sent to the generative model.
var AnalysisRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analysis_requests_total",
		Help: "Total number of narrative analysis requests, by outcome.",
	},
	[]string{"outcome"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
