package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/products"
)

// RunConversionWarmup pre-fills the redis conversion cache for every active
// product. Per-product failures are logged and skipped.
func RunConversionWarmup(ctx context.Context, svc *products.Service, logger *slog.Logger) error {
	if svc == nil {
		return nil
	}
	ids, err := svc.ActiveProductIDs(ctx)
	if err != nil {
		if logger != nil {
			logger.Error("conversion warmup list", slog.Any("error", err))
		}
		return err
	}
	warmed := 0
	for _, id := range ids {
		if err := svc.WarmConversions(ctx, id); err != nil {
			if logger != nil {
				logger.Warn("conversion warmup", slog.Int64("product_id", id), slog.Any("error", err))
			}
			continue
		}
		warmed++
	}
	if logger != nil {
		logger.Info("conversion warmup", slog.String("job", "conversion_warmup"), slog.Int("warmed", warmed))
	}
	return nil
}

// NewConversionWarmupHandler wraps RunConversionWarmup as an Asynq handler.
func NewConversionWarmupHandler(svc *products.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ConversionWarmupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return RunConversionWarmup(ctx, svc, logger)
	}
}
