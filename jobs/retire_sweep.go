package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunRetireSweep soft-deletes batches whose main-unit quantity is zero while
// a sibling of the same product and location still holds positive stock. The
// last batch of a pair always survives, matching the online retirement rule.
func RunRetireSweep(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (int64, error) {
	if pool == nil {
		return 0, nil
	}
	tag, err := pool.Exec(ctx, `
UPDATE stock_batches b
SET deleted = TRUE, updated_at = NOW()
WHERE NOT b.deleted
  AND COALESCE((
        SELECT e.quantity
        FROM stock_entries e
        JOIN products p ON p.id = b.product_id
        WHERE e.stock_batch_id = b.id AND e.unit_id = p.main_unit_id
      ), 0) = 0
  AND EXISTS (
        SELECT 1
        FROM stock_batches s
        JOIN products sp ON sp.id = s.product_id
        JOIN stock_entries se ON se.stock_batch_id = s.id AND se.unit_id = sp.main_unit_id
        WHERE s.product_id = b.product_id
          AND s.location_id = b.location_id
          AND s.id <> b.id
          AND NOT s.deleted
          AND se.quantity > 0
      )`)
	if err != nil {
		if logger != nil {
			logger.Error("retire sweep", slog.Any("error", err))
		}
		return 0, err
	}
	retired := tag.RowsAffected()
	if logger != nil && retired > 0 {
		logger.Info("retire sweep", slog.String("job", "retire_sweep"), slog.Int64("retired", retired))
	}
	return retired, nil
}

// NewRetireSweepHandler wraps RunRetireSweep as an Asynq handler.
func NewRetireSweepHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RetireSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		_, err := RunRetireSweep(ctx, pool, logger)
		return err
	}
}
