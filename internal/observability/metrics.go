// Package observability exposes prometheus metrics and the health/metrics
// HTTP listener.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the sync service registers. A single
// instance is created at wiring time and handed to the components that
// record into it.
type Metrics struct {
	SyncTicks        prometheus.Counter
	SyncTickDuration prometheus.Histogram
	MarketSyncs      *prometheus.CounterVec
	PositionSyncs    *prometheus.CounterVec

	TransitionsEmitted *prometheus.CounterVec

	ReconcileChecks *prometheus.CounterVec
	StaleConflicts  prometheus.Counter

	CacheReads *prometheus.CounterVec

	SubscribedMarkets prometheus.Gauge
	StaleProjections  prometheus.Gauge

	ArchiveRuns    *prometheus.CounterVec
	ArchivedEvents prometheus.Counter
}

// Outcome labels shared by the sync and reconcile counter vectors.
const (
	OutcomeOK           = "ok"
	OutcomeGatewayError = "gateway_error"
	OutcomeStoreError   = "store_error"
	OutcomeDecodeError  = "decode_error"
	OutcomeSkipped      = "skipped"
	OutcomeNotFound     = "not_found"

	OutcomeEligible    = "eligible"
	OutcomeIneligible  = "ineligible"
	OutcomeConflict    = "conflict"
	OutcomeUnavailable = "unavailable"

	CacheHit  = "hit"
	CacheMiss = "miss"
)

// NewMetrics creates and registers all collectors on the given registerer.
// Pass prometheus.DefaultRegisterer outside of tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SyncTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "sync",
			Name:      "ticks_total",
			Help:      "Completed sync scheduler ticks.",
		}),
		SyncTickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marketsync",
			Subsystem: "sync",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one full sync tick across all markets.",
			Buckets:   prometheus.DefBuckets,
		}),
		MarketSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "sync",
			Name:      "market_syncs_total",
			Help:      "Per-market sync attempts by outcome.",
		}, []string{"outcome"}),
		PositionSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "sync",
			Name:      "position_syncs_total",
			Help:      "Per-position refresh attempts by outcome.",
		}, []string{"outcome"}),
		TransitionsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "notify",
			Name:      "transitions_emitted_total",
			Help:      "Transition events emitted by kind.",
		}, []string{"kind"}),
		ReconcileChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "reconcile",
			Name:      "claim_checks_total",
			Help:      "Claim-eligibility verifications by outcome.",
		}, []string{"outcome"}),
		StaleConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "reconcile",
			Name:      "stale_conflicts_total",
			Help:      "Cache records found behind the ledger on the claim path.",
		}),
		CacheReads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Hot-cache reads by result.",
		}, []string{"result"}),
		SubscribedMarkets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsync",
			Subsystem: "sync",
			Name:      "subscribed_markets",
			Help:      "Markets currently tracked by the sync registry.",
		}),
		StaleProjections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsync",
			Subsystem: "sync",
			Name:      "stale_projections",
			Help:      "Projections older than the staleness threshold at the last tick.",
		}),
		ArchiveRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "archive",
			Name:      "runs_total",
			Help:      "Archiver runs by outcome.",
		}, []string{"outcome"}),
		ArchivedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "marketsync",
			Subsystem: "archive",
			Name:      "events_total",
			Help:      "Transition events uploaded to cold storage.",
		}),
	}
}
