package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Store abstracts persistence for the ledger engine.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	ListAvailable(ctx context.Context, productID, locationID int64) ([]BatchView, error)
}

// TxStore exposes the operations available inside one ledger transaction.
// Batch and entry reads lock the rows they return; the sufficiency check and
// the debit that follows form one critical section.
type TxStore interface {
	GetProduct(ctx context.Context, productID int64) (Product, error)
	UnitExists(ctx context.Context, unitID int64) (bool, error)
	ListConversions(ctx context.Context, productID int64) ([]UnitConversion, error)
	ListActiveBatchesForUpdate(ctx context.Context, productID, locationID int64) ([]StockBatch, error)
	GetBatchForUpdate(ctx context.Context, batchID int64) (StockBatch, error)
	ListEntriesForUpdate(ctx context.Context, batchID int64) ([]StockEntry, error)
	GetEntryForUpdate(ctx context.Context, entryID int64) (StockEntry, error)
	InsertBatch(ctx context.Context, batch *StockBatch) error
	InsertEntry(ctx context.Context, entry *StockEntry) error
	UpdateEntry(ctx context.Context, entry StockEntry) error
	MarkBatchDeleted(ctx context.Context, batchID int64) error
	InsertMovement(ctx context.Context, movement Movement) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the batched multi-unit inventory ledger engine. Every public
// operation runs inside exactly one transaction: either the *InTx variant is
// called with the caller's TxStore, or the plain variant opens its own.
type Service struct {
	store       Store
	audit       AuditPort
	logger      *slog.Logger
	integration IntegrationHandler
	forceAll    bool
}

// NewService builds Service.
func NewService(store Store, audit AuditPort, logger *slog.Logger, integration IntegrationHandler) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, logger: logger, integration: integration}
}

// AllowNegativeByDefault makes every FIFO reduction behave as forced, so
// shortfalls overdraw the last batch instead of failing. Deployment-wide
// policy knob; per-request force still works when this is off.
func (s *Service) AllowNegativeByDefault(enabled bool) {
	s.forceAll = enabled
}

// CreateBatch inserts a new batch with one entry per tracked unit, converting
// the main-unit quantity proportionally. Existing empty batches for the same
// product and location are retired first as housekeeping.
func (s *Service) CreateBatch(ctx context.Context, input CreateBatchInput) (BatchView, error) {
	var view BatchView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		v, err := s.CreateBatchInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return BatchView{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ledger:create_batch", view.Batch.ID, map[string]any{
		"product_id":  input.ProductID,
		"location_id": input.LocationID,
		"main_qty":    input.MainQuantity.String(),
	})
	s.notifyBatchCreated(ctx, view)
	return view, nil
}

// CreateBatchInTx runs batch creation inside the caller's transaction.
func (s *Service) CreateBatchInTx(ctx context.Context, tx TxStore, input CreateBatchInput) (BatchView, error) {
	if input.MainQuantity.Sign() <= 0 {
		return BatchView{}, ErrInvalidQuantity
	}
	table, err := s.resolveConversions(ctx, tx, input.ProductID)
	if err != nil {
		return BatchView{}, err
	}

	s.retireEmptyBatches(ctx, tx, table, input.ProductID, input.LocationID)

	view, err := s.insertBatch(ctx, tx, table, input, false)
	if err != nil {
		return BatchView{}, err
	}
	if err := s.insertMovement(ctx, tx, MovementCreate, input.ProductID, input.LocationID, table.mainUnitID, input.MainQuantity); err != nil {
		return BatchView{}, err
	}
	return view, nil
}

// ReduceFifo removes stock for a product at a location, draining batches
// newest-created-first. The requested quantity may be in any tracked unit.
func (s *Service) ReduceFifo(ctx context.Context, input ReduceFifoInput) (ReduceResult, error) {
	if s.forceAll {
		// promote before the transaction so the audit record and the
		// post-commit event carry the effective flag
		input.Force = true
	}
	var result ReduceResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		r, err := s.ReduceFifoInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return ReduceResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ledger:reduce_fifo", input.ProductID, map[string]any{
		"location_id": input.LocationID,
		"unit_id":     input.UnitID,
		"quantity":    input.Quantity.String(),
		"force":       input.Force,
	})
	s.notifyReduced(ctx, input, result)
	return result, nil
}

// ReduceFifoInTx runs the FIFO reduction inside the caller's transaction.
func (s *Service) ReduceFifoInTx(ctx context.Context, tx TxStore, input ReduceFifoInput) (ReduceResult, error) {
	if s.forceAll {
		input.Force = true
	}
	if input.Quantity.Sign() <= 0 {
		return ReduceResult{}, ErrInvalidQuantity
	}
	table, err := s.resolveConversions(ctx, tx, input.ProductID)
	if err != nil {
		return ReduceResult{}, err
	}
	requiredMain, err := table.toMain(input.Quantity, input.UnitID)
	if err != nil {
		return ReduceResult{}, s.classifyUnitErr(ctx, tx, err)
	}

	states, err := s.loadBatchStates(ctx, tx, table, input.ProductID, input.LocationID)
	if err != nil {
		return ReduceResult{}, err
	}

	if len(states) == 0 {
		if !input.Force {
			return ReduceResult{}, ErrNoActiveBatch
		}
		st, err := s.synthesizeBatch(ctx, tx, table, input)
		if err != nil {
			return ReduceResult{}, err
		}
		states = append(states, st)
	}

	available := decimal.Zero
	for _, st := range states {
		available = available.Add(st.mainQty())
	}
	if available.LessThan(requiredMain) && !input.Force {
		availInUnit, convErr := table.fromMain(available, input.UnitID)
		if convErr != nil {
			return ReduceResult{}, convErr
		}
		return ReduceResult{}, &InsufficientStockError{
			ProductID:  input.ProductID,
			LocationID: input.LocationID,
			UnitID:     input.UnitID,
			Required:   roundQty(input.Quantity),
			Available:  availInUnit,
		}
	}

	result := ReduceResult{MainReduced: requiredMain}
	remaining := requiredMain
	for i, st := range states {
		if remaining.Sign() <= 0 {
			break
		}
		last := i == len(states)-1
		take := st.mainQty()
		if take.GreaterThan(remaining) {
			take = remaining
		}
		if last && input.Force && remaining.GreaterThan(take) {
			// force: the final batch absorbs the shortfall and goes negative
			take = remaining
		}
		if take.Sign() <= 0 {
			continue
		}
		allowNegative := last && input.Force
		if _, err := s.applyDelta(ctx, tx, table, st, take.Neg(), allowNegative, nil); err != nil {
			return ReduceResult{}, err
		}
		remaining = remaining.Sub(take)
		takeInUnit, convErr := table.fromMain(take, input.UnitID)
		if convErr != nil {
			return ReduceResult{}, convErr
		}
		result.Batches = append(result.Batches, BatchReduction{
			BatchID:      st.batch.ID,
			BatchNumber:  st.batch.BatchNumber,
			MainQuantity: take,
			Quantity:     takeInUnit,
		})
		if err := s.retireIfExhausted(ctx, tx, table, st, states); err != nil {
			return ReduceResult{}, err
		}
	}

	result.TotalReduced = roundQty(input.Quantity)
	if err := s.insertMovement(ctx, tx, MovementReduce, input.ProductID, input.LocationID, input.UnitID, requiredMain.Neg()); err != nil {
		return ReduceResult{}, err
	}
	return result, nil
}

// ReduceByEntry debits the batch owning one specific stock entry.
func (s *Service) ReduceByEntry(ctx context.Context, input ReduceByEntryInput) (TargetedResult, error) {
	var result TargetedResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		r, err := s.ReduceByEntryInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return TargetedResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ledger:reduce_entry", input.EntryID, map[string]any{
		"quantity": input.Quantity.String(),
		"unit_id":  input.QuantityUnitID,
	})
	return result, nil
}

// ReduceByEntryInTx runs the targeted reduction inside the caller's transaction.
func (s *Service) ReduceByEntryInTx(ctx context.Context, tx TxStore, input ReduceByEntryInput) (TargetedResult, error) {
	if input.Quantity.Sign() <= 0 {
		return TargetedResult{}, ErrInvalidQuantity
	}
	entry, err := tx.GetEntryForUpdate(ctx, input.EntryID)
	if err != nil {
		return TargetedResult{}, err
	}
	return s.reduceTargeted(ctx, tx, entry.BatchID, entry.UnitID, input.Quantity, input.QuantityUnitID)
}

// ReduceByBatchUnit debits one batch, with sufficiency checked against the
// entry of the addressed unit.
func (s *Service) ReduceByBatchUnit(ctx context.Context, input ReduceByBatchUnitInput) (TargetedResult, error) {
	var result TargetedResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		r, err := s.ReduceByBatchUnitInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return TargetedResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ledger:reduce_batch_unit", input.BatchID, map[string]any{
		"unit_id":  input.UnitID,
		"quantity": input.Quantity.String(),
	})
	return result, nil
}

// ReduceByBatchUnitInTx runs the targeted reduction inside the caller's transaction.
func (s *Service) ReduceByBatchUnitInTx(ctx context.Context, tx TxStore, input ReduceByBatchUnitInput) (TargetedResult, error) {
	if input.Quantity.Sign() <= 0 {
		return TargetedResult{}, ErrInvalidQuantity
	}
	return s.reduceTargeted(ctx, tx, input.BatchID, input.UnitID, input.Quantity, input.QuantityUnitID)
}

func (s *Service) reduceTargeted(ctx context.Context, tx TxStore, batchID, addressedUnitID int64, quantity decimal.Decimal, quantityUnitID int64) (TargetedResult, error) {
	batch, err := tx.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return TargetedResult{}, err
	}
	if batch.Deleted {
		return TargetedResult{}, ErrBatchNotFound
	}
	table, err := s.resolveConversions(ctx, tx, batch.ProductID)
	if err != nil {
		return TargetedResult{}, err
	}
	if quantityUnitID == 0 {
		quantityUnitID = addressedUnitID
	}
	requiredMain, err := table.toMain(quantity, quantityUnitID)
	if err != nil {
		return TargetedResult{}, s.classifyUnitErr(ctx, tx, err)
	}
	requiredAddressed, err := table.fromMain(requiredMain, addressedUnitID)
	if err != nil {
		return TargetedResult{}, err
	}

	st, err := s.loadBatchState(ctx, tx, batch)
	if err != nil {
		return TargetedResult{}, err
	}
	addressed, ok := st.entries[addressedUnitID]
	if !ok {
		return TargetedResult{}, ErrEntryNotFound
	}
	if addressed.Quantity.LessThan(requiredAddressed) {
		return TargetedResult{}, &InsufficientStockError{
			ProductID:  batch.ProductID,
			LocationID: batch.LocationID,
			UnitID:     addressedUnitID,
			Required:   requiredAddressed,
			Available:  addressed.Quantity,
		}
	}

	updated, err := s.applyDelta(ctx, tx, table, st, requiredMain.Neg(), false, nil)
	if err != nil {
		return TargetedResult{}, err
	}
	if err := s.retireIfExhaustedSiblings(ctx, tx, table, st); err != nil {
		return TargetedResult{}, err
	}
	if err := s.insertMovement(ctx, tx, MovementTargeted, batch.ProductID, batch.LocationID, quantityUnitID, requiredMain.Neg()); err != nil {
		return TargetedResult{}, err
	}
	return TargetedResult{BatchID: batch.ID, MainReduced: requiredMain, EntriesUpdated: updated}, nil
}

// UpsertLatestBatch adds stock onto the most recent active batch, creating
// entries for units not yet represented, or falls through to batch creation
// when no active batch exists. Supplied prices overwrite the touched units'
// prices; the last write wins.
func (s *Service) UpsertLatestBatch(ctx context.Context, input UpsertLatestInput) (BatchView, error) {
	var view BatchView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		v, err := s.UpsertLatestBatchInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return BatchView{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ledger:upsert_latest", view.Batch.ID, map[string]any{
		"product_id":  input.ProductID,
		"location_id": input.LocationID,
		"main_qty":    input.MainQuantity.String(),
	})
	return view, nil
}

// UpsertLatestBatchInTx runs the latest-batch upsert inside the caller's transaction.
func (s *Service) UpsertLatestBatchInTx(ctx context.Context, tx TxStore, input UpsertLatestInput) (BatchView, error) {
	if input.MainQuantity.Sign() <= 0 {
		return BatchView{}, ErrInvalidQuantity
	}
	table, err := s.resolveConversions(ctx, tx, input.ProductID)
	if err != nil {
		return BatchView{}, err
	}

	batches, err := tx.ListActiveBatchesForUpdate(ctx, input.ProductID, input.LocationID)
	if err != nil {
		return BatchView{}, err
	}
	if len(batches) == 0 {
		return s.CreateBatchInTx(ctx, tx, CreateBatchInput{
			ProductID:      input.ProductID,
			LocationID:     input.LocationID,
			BatchNumber:    input.BatchNumber,
			ProductionDate: input.ProductionDate,
			MainQuantity:   input.MainQuantity,
			Prices:         input.Prices,
			ActorID:        input.ActorID,
		})
	}

	st, err := s.loadBatchState(ctx, tx, batches[0])
	if err != nil {
		return BatchView{}, err
	}
	prices := make(map[int64]decimal.Decimal, len(input.Prices))
	for _, p := range input.Prices {
		if p.Price.Sign() < 0 {
			return BatchView{}, ErrInvalidPrice
		}
		prices[p.UnitID] = p.Price
	}
	updated, err := s.applyDelta(ctx, tx, table, st, input.MainQuantity, true, prices)
	if err != nil {
		return BatchView{}, err
	}
	if err := s.insertMovement(ctx, tx, MovementUpsert, input.ProductID, input.LocationID, table.mainUnitID, input.MainQuantity); err != nil {
		return BatchView{}, err
	}
	return BatchView{Batch: st.batch, Entries: updated}, nil
}

// ListAvailable returns the non-deleted batches for a product and location in
// consumption order (newest first). When unitID is non-zero only that unit's
// entries are returned.
func (s *Service) ListAvailable(ctx context.Context, productID, locationID, unitID int64) ([]BatchView, error) {
	views, err := s.store.ListAvailable(ctx, productID, locationID)
	if err != nil {
		return nil, err
	}
	if unitID == 0 {
		return views, nil
	}
	filtered := make([]BatchView, 0, len(views))
	for _, v := range views {
		entries := make([]StockEntry, 0, 1)
		for _, e := range v.Entries {
			if e.UnitID == unitID {
				entries = append(entries, e)
			}
		}
		filtered = append(filtered, BatchView{Batch: v.Batch, Entries: entries})
	}
	return filtered, nil
}

// batchState tracks one locked batch and its entries during an operation.
type batchState struct {
	batch   StockBatch
	table   *conversionTable
	entries map[int64]*StockEntry
}

func (st *batchState) mainQty() decimal.Decimal {
	if e, ok := st.entries[st.table.mainUnitID]; ok {
		return e.Quantity
	}
	return decimal.Zero
}

func (s *Service) resolveConversions(ctx context.Context, tx TxStore, productID int64) (*conversionTable, error) {
	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	convs, err := tx.ListConversions(ctx, productID)
	if err != nil {
		return nil, err
	}
	return newConversionTable(product, convs)
}

func (s *Service) loadBatchState(ctx context.Context, tx TxStore, batch StockBatch) (*batchState, error) {
	table, err := s.resolveConversions(ctx, tx, batch.ProductID)
	if err != nil {
		return nil, err
	}
	entries, err := tx.ListEntriesForUpdate(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	st := &batchState{batch: batch, table: table, entries: make(map[int64]*StockEntry, len(entries))}
	for i := range entries {
		st.entries[entries[i].UnitID] = &entries[i]
	}
	return st, nil
}

func (s *Service) loadBatchStates(ctx context.Context, tx TxStore, table *conversionTable, productID, locationID int64) ([]*batchState, error) {
	batches, err := tx.ListActiveBatchesForUpdate(ctx, productID, locationID)
	if err != nil {
		return nil, err
	}
	states := make([]*batchState, 0, len(batches))
	for _, b := range batches {
		entries, err := tx.ListEntriesForUpdate(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		st := &batchState{batch: b, table: table, entries: make(map[int64]*StockEntry, len(entries))}
		for i := range entries {
			st.entries[entries[i].UnitID] = &entries[i]
		}
		states = append(states, st)
	}
	return states, nil
}

// applyDelta recomputes each tracked unit's share of a main-unit delta and
// applies it to the batch's entries, creating entries lazily for units not yet
// represented. It is the last line of defense for the aggregate invariant: a
// unit that would go negative without allowNegative fails the operation.
func (s *Service) applyDelta(ctx context.Context, tx TxStore, table *conversionTable, st *batchState, deltaMain decimal.Decimal, allowNegative bool, prices map[int64]decimal.Decimal) ([]StockEntry, error) {
	updated := make([]StockEntry, 0, len(table.factors))
	for _, unitID := range table.units() {
		deltaUnit, err := table.fromMain(deltaMain, unitID)
		if err != nil {
			return nil, err
		}
		entry, ok := st.entries[unitID]
		if !ok {
			price, priced := prices[unitID]
			if !priced {
				return nil, &MissingPriceError{ProductID: table.productID, UnitID: unitID}
			}
			fresh := &StockEntry{
				BatchID:      st.batch.ID,
				ProductID:    st.batch.ProductID,
				LocationID:   st.batch.LocationID,
				UnitID:       unitID,
				Quantity:     decimal.Zero,
				PricePerUnit: roundPrice(price),
			}
			if err := tx.InsertEntry(ctx, fresh); err != nil {
				return nil, err
			}
			st.entries[unitID] = fresh
			entry = fresh
		}
		next := roundQty(entry.Quantity.Add(deltaUnit))
		if next.Sign() < 0 && !allowNegative {
			return nil, &InsufficientStockError{
				ProductID:  st.batch.ProductID,
				LocationID: st.batch.LocationID,
				UnitID:     unitID,
				Required:   deltaUnit.Neg(),
				Available:  entry.Quantity,
			}
		}
		entry.Quantity = next
		if price, ok := prices[unitID]; ok {
			entry.PricePerUnit = roundPrice(price)
		}
		entry.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateEntry(ctx, *entry); err != nil {
			return nil, err
		}
		updated = append(updated, *entry)
	}
	return updated, nil
}

// retireIfExhausted soft-deletes st when its main-unit quantity reached zero
// and some sibling in states still holds positive stock. The last batch of a
// (product, location) stays active so there is always one to append to.
func (s *Service) retireIfExhausted(ctx context.Context, tx TxStore, table *conversionTable, st *batchState, states []*batchState) error {
	if !st.mainQty().IsZero() || st.batch.Deleted {
		return nil
	}
	for _, sibling := range states {
		if sibling.batch.ID == st.batch.ID || sibling.batch.Deleted {
			continue
		}
		if sibling.mainQty().Sign() > 0 {
			if err := tx.MarkBatchDeleted(ctx, st.batch.ID); err != nil {
				return err
			}
			st.batch.Deleted = true
			return nil
		}
	}
	return nil
}

// retireIfExhaustedSiblings is the targeted-reduction variant: siblings are
// fetched fresh since the operation locked only one batch up front.
func (s *Service) retireIfExhaustedSiblings(ctx context.Context, tx TxStore, table *conversionTable, st *batchState) error {
	if !st.mainQty().IsZero() || st.batch.Deleted {
		return nil
	}
	siblings, err := tx.ListActiveBatchesForUpdate(ctx, st.batch.ProductID, st.batch.LocationID)
	if err != nil {
		return err
	}
	for _, b := range siblings {
		if b.ID == st.batch.ID {
			continue
		}
		sib, err := s.loadBatchState(ctx, tx, b)
		if err != nil {
			return err
		}
		if sib.mainQty().Sign() > 0 {
			if err := tx.MarkBatchDeleted(ctx, st.batch.ID); err != nil {
				return err
			}
			st.batch.Deleted = true
			return nil
		}
	}
	return nil
}

// retireEmptyBatches is the opportunistic housekeeping pass before batch
// creation. Failures are logged and swallowed; they must not abort creation.
func (s *Service) retireEmptyBatches(ctx context.Context, tx TxStore, table *conversionTable, productID, locationID int64) {
	states, err := s.loadBatchStates(ctx, tx, table, productID, locationID)
	if err != nil {
		s.logger.Warn("retire empty batches", slog.Any("error", err))
		return
	}
	for _, st := range states {
		if !st.mainQty().IsZero() {
			continue
		}
		if err := tx.MarkBatchDeleted(ctx, st.batch.ID); err != nil {
			s.logger.Warn("retire empty batch", slog.Int64("batch_id", st.batch.ID), slog.Any("error", err))
			continue
		}
		st.batch.Deleted = true
	}
}

// insertBatch creates the batch row plus one entry per tracked unit. When
// allowMissingPrices is set, units without a supplied price default to zero;
// that path exists only for the force-synthesized batch.
func (s *Service) insertBatch(ctx context.Context, tx TxStore, table *conversionTable, input CreateBatchInput, allowMissingPrices bool) (BatchView, error) {
	prices := make(map[int64]decimal.Decimal, len(input.Prices))
	for _, p := range input.Prices {
		if p.Price.Sign() < 0 {
			return BatchView{}, ErrInvalidPrice
		}
		prices[p.UnitID] = p.Price
	}
	for _, unitID := range table.units() {
		if _, ok := prices[unitID]; !ok && !allowMissingPrices {
			return BatchView{}, &MissingPriceError{ProductID: table.productID, UnitID: unitID}
		}
	}

	batchNumber := input.BatchNumber
	if batchNumber == "" {
		batchNumber = fmt.Sprintf("B-%s", uuid.NewString()[:8])
	}
	batch := &StockBatch{
		ProductID:      input.ProductID,
		LocationID:     input.LocationID,
		BatchNumber:    batchNumber,
		ProductionDate: input.ProductionDate,
	}
	if err := tx.InsertBatch(ctx, batch); err != nil {
		return BatchView{}, err
	}

	view := BatchView{Batch: *batch}
	for _, unitID := range table.units() {
		qty, err := table.fromMain(input.MainQuantity, unitID)
		if err != nil {
			return BatchView{}, err
		}
		entry := &StockEntry{
			BatchID:      batch.ID,
			ProductID:    input.ProductID,
			LocationID:   input.LocationID,
			UnitID:       unitID,
			Quantity:     qty,
			PricePerUnit: roundPrice(prices[unitID]),
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return BatchView{}, err
		}
		view.Entries = append(view.Entries, *entry)
	}
	return view, nil
}

// synthesizeBatch creates the zero-quantity batch a forced reduction drains
// from when no batch exists. The fallback price, given in main-unit terms, is
// converted proportionally per unit.
func (s *Service) synthesizeBatch(ctx context.Context, tx TxStore, table *conversionTable, input ReduceFifoInput) (*batchState, error) {
	prices := make([]UnitPrice, 0, len(table.factors))
	if input.FallbackPrice != nil {
		mainFactor := table.factors[table.mainUnitID]
		for _, unitID := range table.units() {
			factor := table.factors[unitID]
			prices = append(prices, UnitPrice{
				UnitID: unitID,
				Price:  roundPrice(input.FallbackPrice.Mul(mainFactor).Div(factor)),
			})
		}
	}
	batch := &StockBatch{
		ProductID:  input.ProductID,
		LocationID: input.LocationID,
		// synthesized: no receipt backs this lot
		BatchNumber: fmt.Sprintf("NEG-%s", uuid.NewString()[:8]),
	}
	if err := tx.InsertBatch(ctx, batch); err != nil {
		return nil, err
	}
	priceByUnit := make(map[int64]decimal.Decimal, len(prices))
	for _, p := range prices {
		priceByUnit[p.UnitID] = p.Price
	}
	st := &batchState{batch: *batch, table: table, entries: make(map[int64]*StockEntry, len(table.factors))}
	for _, unitID := range table.units() {
		entry := &StockEntry{
			BatchID:      batch.ID,
			ProductID:    input.ProductID,
			LocationID:   input.LocationID,
			UnitID:       unitID,
			Quantity:     decimal.Zero,
			PricePerUnit: roundPrice(priceByUnit[unitID]),
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return nil, err
		}
		st.entries[unitID] = entry
	}
	return st, nil
}

// classifyUnitErr distinguishes a unit missing from master data entirely from
// one that exists but has no conversion for the product.
func (s *Service) classifyUnitErr(ctx context.Context, tx TxStore, err error) error {
	var missing *MissingConversionError
	if !errors.As(err, &missing) {
		return err
	}
	exists, lookupErr := tx.UnitExists(ctx, missing.UnitID)
	if lookupErr != nil {
		return err
	}
	if !exists {
		return ErrUnitNotFound
	}
	return err
}

func (s *Service) insertMovement(ctx context.Context, tx TxStore, kind MovementKind, productID, locationID, unitID int64, mainQty decimal.Decimal) error {
	return tx.InsertMovement(ctx, Movement{
		Code:         uuid.NewString(),
		Kind:         kind,
		ProductID:    productID,
		LocationID:   locationID,
		UnitID:       unitID,
		MainQuantity: mainQty,
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func (s *Service) notifyBatchCreated(ctx context.Context, view BatchView) {
	if s.integration == nil {
		return
	}
	evt := BatchCreatedEvent{
		BatchID:     view.Batch.ID,
		BatchNumber: view.Batch.BatchNumber,
		ProductID:   view.Batch.ProductID,
		LocationID:  view.Batch.LocationID,
		CreatedAt:   view.Batch.CreatedAt,
	}
	if err := s.integration.HandleBatchCreated(ctx, evt); err != nil {
		s.logger.Warn("integration batch created", slog.Any("error", err))
	}
}

func (s *Service) notifyReduced(ctx context.Context, input ReduceFifoInput, result ReduceResult) {
	if s.integration == nil {
		return
	}
	evt := StockReducedEvent{
		ProductID:   input.ProductID,
		LocationID:  input.LocationID,
		UnitID:      input.UnitID,
		Quantity:    result.TotalReduced,
		MainReduced: result.MainReduced,
		Forced:      input.Force,
	}
	if err := s.integration.HandleStockReduced(ctx, evt); err != nil {
		s.logger.Warn("integration stock reduced", slog.Any("error", err))
	}
}
