package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Settlement and ledger counters, partitioned by outcome.

var (
	// Settlement coordinator
	SettlementTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funding",
		Subsystem: "settlement",
		Name:      "transitions_total",
		Help:      "Total donate state transitions",
	}, []string{"state"})

	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funding",
		Subsystem: "settlement",
		Name:      "failures_total",
		Help:      "Total donate attempts ending in Failed, by reason",
	}, []string{"reason"})

	SettlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "funding",
		Subsystem: "settlement",
		Name:      "duration_seconds",
		Help:      "Donate attempt duration from start to terminal state",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"state"})

	PendingSettlements = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "funding",
		Subsystem: "settlement",
		Name:      "pending",
		Help:      "Settlements waiting for reconciliation, as of the last reconciler pass",
	})

	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funding",
		Subsystem: "reconciler",
		Name:      "runs_total",
		Help:      "Total reconcile attempts, by result",
	}, []string{"result"})

	// Donation ledger
	DonationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "funding",
		Subsystem: "ledger",
		Name:      "donations_applied_total",
		Help:      "Total donations added to a campaign total",
	})

	DonationReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "funding",
		Subsystem: "ledger",
		Name:      "donation_replays_total",
		Help:      "Total donations ignored because the transaction was already applied",
	})

	DonationConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funding",
		Subsystem: "ledger",
		Name:      "version_conflicts_total",
		Help:      "Total optimistic write conflicts, by whether retries were exhausted",
	}, []string{"exhausted"})
)
