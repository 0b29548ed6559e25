package integration

import (
	"context"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// Hooks wires ledger events into downstream workflows. Handlers run after the
// ledger transaction committed; failures here never unwind stock state.
type Hooks struct {
	jobs   *jobs.Client
	logger *slog.Logger
}

// NewHooks constructs integration hooks.
func NewHooks(client *jobs.Client, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{jobs: client, logger: logger}
}

// HandleBatchCreated records the receipt for downstream consumers.
func (h *Hooks) HandleBatchCreated(ctx context.Context, evt ledger.BatchCreatedEvent) error {
	h.logger.Info("batch created",
		slog.Int64("batch_id", evt.BatchID),
		slog.String("batch_number", evt.BatchNumber),
		slog.Int64("product_id", evt.ProductID),
		slog.Int64("location_id", evt.LocationID),
	)
	return nil
}

// HandleStockReduced schedules a retirement sweep after forced reductions,
// which are the ones that leave drained or negative batches behind.
func (h *Hooks) HandleStockReduced(ctx context.Context, evt ledger.StockReducedEvent) error {
	h.logger.Info("stock reduced",
		slog.Int64("product_id", evt.ProductID),
		slog.Int64("location_id", evt.LocationID),
		slog.Int64("unit_id", evt.UnitID),
		slog.String("quantity", evt.Quantity.String()),
		slog.Bool("forced", evt.Forced),
	)
	if !evt.Forced || h.jobs == nil {
		return nil
	}
	if _, err := h.jobs.EnqueueRetireSweep(ctx); err != nil {
		return err
	}
	return nil
}
