package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Decimal scales used across the ledger. Conversion factors carry extra
// precision to limit compounding rounding error across chained conversions.
const (
	QuantityScale = 3
	PriceScale    = 2
	FactorScale   = 6
)

// MovementKind enumerates ledger movement records kept for the audit trail.
type MovementKind string

const (
	// MovementCreate records a new batch receipt.
	MovementCreate MovementKind = "CREATE"
	// MovementReduce records a FIFO reduction across batches.
	MovementReduce MovementKind = "REDUCE"
	// MovementTargeted records a reduction addressed at one batch or entry.
	MovementTargeted MovementKind = "TARGETED"
	// MovementUpsert records a replenishment into the latest batch.
	MovementUpsert MovementKind = "UPSERT"
)

// StockBatch is a lot of one product at one location. Batches never carry
// quantities themselves; those live in the batch's stock entries. A depleted
// batch is soft-deleted, never removed.
type StockBatch struct {
	ID             int64
	ProductID      int64
	LocationID     int64
	BatchNumber    string
	ProductionDate *time.Time
	Deleted        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StockEntry is the quantity and unit price of one unit within one batch.
// Each non-deleted batch holds exactly one entry per tracked unit.
type StockEntry struct {
	ID           int64
	BatchID      int64
	ProductID    int64
	LocationID   int64
	UnitID       int64
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Product is the ledger's view of product master data.
type Product struct {
	ID         int64
	MainUnitID int64
}

// UnitConversion maps a tracked unit to its factor relative to the product's
// main unit. The main unit always has a conversion row of its own.
type UnitConversion struct {
	UnitID int64
	Factor decimal.Decimal
}

// Movement is an append-only record of one ledger operation.
type Movement struct {
	ID           int64
	Code         string
	Kind         MovementKind
	ProductID    int64
	LocationID   int64
	UnitID       int64
	MainQuantity decimal.Decimal
	CreatedAt    time.Time
}

// UnitPrice supplies a price for one tracked unit.
type UnitPrice struct {
	UnitID int64
	Price  decimal.Decimal
}

// CreateBatchInput describes a new batch receipt. MainQuantity is expressed
// in the product's main unit; Prices must cover every tracked unit.
type CreateBatchInput struct {
	ProductID      int64
	LocationID     int64
	BatchNumber    string
	ProductionDate *time.Time
	MainQuantity   decimal.Decimal
	Prices         []UnitPrice
	ActorID        int64
}

// ReduceFifoInput describes a reduction drawn newest-batch-first. Quantity is
// expressed in UnitID, which may be any tracked unit. Force permits drawing
// past available stock, leaving a negative balance; FallbackPrice prices the
// synthetic batch created when force reduces with no batches at all.
type ReduceFifoInput struct {
	ProductID     int64
	LocationID    int64
	Quantity      decimal.Decimal
	UnitID        int64
	Force         bool
	FallbackPrice *decimal.Decimal
	ActorID       int64
}

// ReduceByEntryInput addresses one stock entry. Quantity is expressed in
// QuantityUnitID, which need not be the entry's own unit.
type ReduceByEntryInput struct {
	EntryID        int64
	Quantity       decimal.Decimal
	QuantityUnitID int64
	ActorID        int64
}

// ReduceByBatchUnitInput addresses the entry of one (batch, unit) pair.
type ReduceByBatchUnitInput struct {
	BatchID        int64
	UnitID         int64
	Quantity       decimal.Decimal
	QuantityUnitID int64
	ActorID        int64
}

// UpsertLatestInput adds stock onto the most recent active batch, creating a
// fresh batch when none exists. Supplied prices overwrite the touched units'
// prices (last write wins).
type UpsertLatestInput struct {
	ProductID      int64
	LocationID     int64
	BatchNumber    string
	ProductionDate *time.Time
	MainQuantity   decimal.Decimal
	Prices         []UnitPrice
	ActorID        int64
}

// BatchView pairs a batch with its entries.
type BatchView struct {
	Batch   StockBatch
	Entries []StockEntry
}

// BatchReduction itemises how much one batch contributed to a reduction.
type BatchReduction struct {
	BatchID      int64
	BatchNumber  string
	MainQuantity decimal.Decimal
	Quantity     decimal.Decimal
}

// ReduceResult reports a FIFO reduction. TotalReduced is in the caller's
// requested unit; MainReduced in the product's main unit.
type ReduceResult struct {
	TotalReduced decimal.Decimal
	MainReduced  decimal.Decimal
	Batches      []BatchReduction
}

// TargetedResult reports a targeted reduction against one batch.
type TargetedResult struct {
	BatchID        int64
	MainReduced    decimal.Decimal
	EntriesUpdated []StockEntry
}

// Fatal reference errors; callers must not retry these.
var (
	ErrProductNotFound = errors.New("ledger: product not found")
	ErrUnitNotFound    = errors.New("ledger: unit not found")
	ErrNoMainUnit      = errors.New("ledger: product has no main unit conversion")
	ErrBatchNotFound   = errors.New("ledger: batch not found")
	ErrEntryNotFound   = errors.New("ledger: stock entry not found")
	// ErrNoActiveBatch is returned by a FIFO reduction with nothing to draw
	// from and no force override. Recoverable by the caller.
	ErrNoActiveBatch = errors.New("ledger: no active batch to draw from")
)

// Input validation errors.
var (
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	ErrInvalidPrice    = errors.New("ledger: price must be >= 0")
)

// InsufficientStockError reports a reduction exceeding available stock,
// both amounts expressed in the caller's unit.
type InsufficientStockError struct {
	ProductID  int64
	LocationID int64
	UnitID     int64
	Required   decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for product %d at location %d: required %s, available %s (unit %d)",
		e.ProductID, e.LocationID, e.Required, e.Available, e.UnitID)
}

// MissingPriceError reports a batch creation that omitted a tracked unit's price.
type MissingPriceError struct {
	ProductID int64
	UnitID    int64
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("ledger: no price supplied for unit %d of product %d", e.UnitID, e.ProductID)
}

// MissingConversionError reports a product lacking a conversion for a needed unit.
type MissingConversionError struct {
	ProductID int64
	UnitID    int64
}

func (e *MissingConversionError) Error() string {
	return fmt.Sprintf("ledger: product %d has no conversion for unit %d", e.ProductID, e.UnitID)
}

// roundQty normalises a physical quantity to the ledger's 3-decimal scale.
func roundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

// roundPrice normalises a monetary amount to 2 decimals.
func roundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}

// conversionTable resolves factors by unit id.
type conversionTable struct {
	productID  int64
	mainUnitID int64
	factors    map[int64]decimal.Decimal
}

func newConversionTable(product Product, convs []UnitConversion) (*conversionTable, error) {
	t := &conversionTable{
		productID:  product.ID,
		mainUnitID: product.MainUnitID,
		factors:    make(map[int64]decimal.Decimal, len(convs)),
	}
	for _, c := range convs {
		t.factors[c.UnitID] = c.Factor
	}
	if _, ok := t.factors[product.MainUnitID]; !ok {
		return nil, ErrNoMainUnit
	}
	return t, nil
}

func (t *conversionTable) factor(unitID int64) (decimal.Decimal, error) {
	f, ok := t.factors[unitID]
	if !ok {
		return decimal.Decimal{}, &MissingConversionError{ProductID: t.productID, UnitID: unitID}
	}
	return f, nil
}

// toMain converts a quantity in unitID into main-unit terms.
func (t *conversionTable) toMain(qty decimal.Decimal, unitID int64) (decimal.Decimal, error) {
	f, err := t.factor(unitID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	main := t.factors[t.mainUnitID]
	return roundQty(qty.Mul(main).Div(f)), nil
}

// fromMain converts a main-unit quantity into unitID terms.
func (t *conversionTable) fromMain(mainQty decimal.Decimal, unitID int64) (decimal.Decimal, error) {
	f, err := t.factor(unitID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	main := t.factors[t.mainUnitID]
	return roundQty(mainQty.Mul(f).Div(main)), nil
}

// units lists every tracked unit id, main unit first, in stable order.
func (t *conversionTable) units() []int64 {
	ids := make([]int64, 0, len(t.factors))
	for id := range t.factors {
		if id != t.mainUnitID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return append([]int64{t.mainUnitID}, ids...)
}
