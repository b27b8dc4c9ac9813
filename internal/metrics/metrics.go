// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsTotal        *prometheus.CounterVec
	pagesTotal         *prometheus.CounterVec
	upsertsTotal       prometheus.Counter
	mirrorUploadsTotal *prometheus.CounterVec
	reapedLeasesTotal  prometheus.Counter
	activeWorkers      prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; the
// recording helpers are no-ops until it has run.
func Init() {
	once.Do(func() {
		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_claims_total",
				Help: "Queue claim attempts, labeled by outcome (claimed, empty, error).",
			},
			[]string{"outcome"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Processed pages, labeled by result (done, fetch_error, parse_error, persist_error).",
			},
			[]string{"result"},
		)

		upsertsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_catalog_upserts_total",
				Help: "Successful catalog product upserts.",
			},
		)

		mirrorUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_mirror_uploads_total",
				Help: "Image mirror attempts, labeled by outcome (ok, failed).",
			},
			[]string{"outcome"},
		)

		reapedLeasesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_reaped_leases_total",
				Help: "Working rows returned to todo by the lease reaper.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Workers currently processing a claimed URL.",
			},
		)
	})
}

// IncClaim records a claim attempt outcome.
func IncClaim(outcome string) {
	if claimsTotal != nil {
		claimsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncPage records a processed page result.
func IncPage(result string) {
	if pagesTotal != nil {
		pagesTotal.WithLabelValues(result).Inc()
	}
}

// IncUpsert records one successful product upsert.
func IncUpsert() {
	if upsertsTotal != nil {
		upsertsTotal.Inc()
	}
}

// IncMirror records a mirror attempt outcome.
func IncMirror(outcome string) {
	if mirrorUploadsTotal != nil {
		mirrorUploadsTotal.WithLabelValues(outcome).Inc()
	}
}

// AddReaped records leases reclaimed by the reaper.
func AddReaped(n int64) {
	if reapedLeasesTotal != nil && n > 0 {
		reapedLeasesTotal.Add(float64(n))
	}
}

// WorkerActive marks a worker entering or leaving its processing phase.
func WorkerActive(active bool) {
	if activeWorkers == nil {
		return
	}
	if active {
		activeWorkers.Inc()
	} else {
		activeWorkers.Dec()
	}
}
