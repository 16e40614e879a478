// Package telemetry exposes Prometheus collectors for the sync pipeline.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes recorded per attempt.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Dedup cache tiers.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regvelocity_fetch_attempts_total",
			Help: "Total upstream fetch attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	snapshotsStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "regvelocity_snapshots_stored_total",
			Help: "Total snapshot rows persisted.",
		},
	)

	dedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regvelocity_dedup_hits_total",
			Help: "Total dedup cache hits, labeled by tier.",
		},
		[]string{"tier"},
	)

	pairsExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "regvelocity_pairs_exhausted_total",
			Help: "Total (title, date) pairs skipped after exhausting retries.",
		},
	)

	syncDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regvelocity_sync_duration_seconds",
			Help:    "Duration of full sync passes.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

// IncFetchAttempt records one upstream fetch attempt.
func IncFetchAttempt(outcome string) {
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// IncSnapshotStored records one persisted snapshot row.
func IncSnapshotStored() {
	snapshotsStoredTotal.Inc()
}

// IncDedupHit records a dedup cache hit for the given tier.
func IncDedupHit(tier string) {
	dedupHitsTotal.WithLabelValues(tier).Inc()
}

// IncPairExhausted records a pair abandoned after the retry ceiling.
func IncPairExhausted() {
	pairsExhaustedTotal.Inc()
}

// ObserveSyncDuration records the wall time of one sync pass.
func ObserveSyncDuration(d time.Duration) {
	syncDurationSeconds.Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
