package settlement

import (
	"sirius-funding/internal/metrics"
	"sirius-funding/internal/models"
)

// RecordMetrics is an Observer that feeds the settlement counters.
func RecordMetrics(a models.SettlementAttempt) {
	metrics.SettlementTransitions.WithLabelValues(string(a.State)).Inc()

	switch a.State {
	case models.StateFailed:
		metrics.SettlementFailures.WithLabelValues(a.Reason).Inc()
	case models.StateConfirmed:
	default:
		return
	}
	if !a.StartedAt.IsZero() && !a.FinishedAt.IsZero() {
		metrics.SettlementDuration.WithLabelValues(string(a.State)).Observe(a.FinishedAt.Sub(a.StartedAt).Seconds())
	}
}
