package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sirius-funding/internal/metrics"
	"sirius-funding/internal/models"
	"sirius-funding/internal/store"
)

// Reconciler periodically replays pending settlements.
type Reconciler struct {
	coordinator *Coordinator
	pending     store.PendingStore
	interval    time.Duration
	logger      zerolog.Logger
}

func NewReconciler(coordinator *Coordinator, pending store.PendingStore, interval time.Duration, logger zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		coordinator: coordinator,
		pending:     pending,
		interval:    interval,
		logger:      logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run ticks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return nil
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error().Err(err).Msg("reconcile tick failed")
			}
		}
	}
}

// Tick makes one pass over every pending settlement.
func (r *Reconciler) Tick(ctx context.Context) error {
	items, err := r.pending.ListPending(ctx)
	if err != nil {
		return err
	}

	remaining := 0
	for _, p := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := r.coordinator.Reconcile(ctx, p.TxHash, nil)
		var fe *FailedError
		switch {
		case err == nil:
			metrics.ReconcileRuns.WithLabelValues("reconciled").Inc()
		case errors.Is(err, models.ErrNotFound):
			// Reconciled through the API in the meantime.
			metrics.ReconcileRuns.WithLabelValues("gone").Inc()
		case errors.As(err, &fe) && fe.Retryable():
			metrics.ReconcileRuns.WithLabelValues("retry").Inc()
			remaining++
		case errors.As(err, &fe):
			metrics.ReconcileRuns.WithLabelValues("failed").Inc()
		default:
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			r.logger.Error().Err(err).Str("tx_hash", p.TxHash).Msg("reconcile failed")
			remaining++
		}
	}
	metrics.PendingSettlements.Set(float64(remaining))

	if len(items) > 0 {
		r.logger.Info().Int("checked", len(items)).Int("remaining", remaining).Msg("reconcile pass done")
	}
	return nil
}
