package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BatchCreatedEvent signals a new lot was received.
type BatchCreatedEvent struct {
	BatchID     int64
	BatchNumber string
	ProductID   int64
	LocationID  int64
	CreatedAt   time.Time
}

// StockReducedEvent signals stock left the ledger, itemised per the caller's unit.
type StockReducedEvent struct {
	ProductID   int64
	LocationID  int64
	UnitID      int64
	Quantity    decimal.Decimal
	MainReduced decimal.Decimal
	Forced      bool
}

// IntegrationHandler receives ledger events for downstream workflows
// (orders, transfers, returns). Handlers run after commit; failures are
// logged, never rolled back into the ledger.
type IntegrationHandler interface {
	HandleBatchCreated(ctx context.Context, evt BatchCreatedEvent) error
	HandleStockReduced(ctx context.Context, evt StockReducedEvent) error
}
