package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	products    map[int64]Product
	units       map[int64]struct{}
	conversions map[int64][]UnitConversion
	batches     map[int64]*StockBatch
	entries     map[int64]*StockEntry
	movements   []Movement
	nextBatch   int64
	nextEntry   int64
	clock       time.Time
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		products:    make(map[int64]Product),
		units:       make(map[int64]struct{}),
		conversions: make(map[int64][]UnitConversion),
		batches:     make(map[int64]*StockBatch),
		entries:     make(map[int64]*StockEntry),
		clock:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memoryStore) snapshot() *memoryStore {
	c := newMemoryStore()
	for k, v := range r.products {
		c.products[k] = v
	}
	for k := range r.units {
		c.units[k] = struct{}{}
	}
	for k, v := range r.conversions {
		c.conversions[k] = append([]UnitConversion(nil), v...)
	}
	for k, v := range r.batches {
		b := *v
		c.batches[k] = &b
	}
	for k, v := range r.entries {
		e := *v
		c.entries[k] = &e
	}
	c.movements = append([]Movement(nil), r.movements...)
	c.nextBatch, c.nextEntry, c.clock = r.nextBatch, r.nextEntry, r.clock
	return c
}

func (r *memoryStore) restore(c *memoryStore) {
	r.products, r.conversions = c.products, c.conversions
	r.units = c.units
	r.batches, r.entries = c.batches, c.entries
	r.movements = c.movements
	r.nextBatch, r.nextEntry, r.clock = c.nextBatch, c.nextEntry, c.clock
}

// WithTx mirrors transactional semantics: an error rolls every mutation back.
func (r *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	saved := r.snapshot()
	if err := fn(ctx, &memoryTx{store: r}); err != nil {
		r.restore(saved)
		return err
	}
	return nil
}

func (r *memoryStore) ListAvailable(ctx context.Context, productID, locationID int64) ([]BatchView, error) {
	var views []BatchView
	tx := &memoryTx{store: r}
	batches, err := tx.ListActiveBatchesForUpdate(ctx, productID, locationID)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		entries, err := tx.ListEntriesForUpdate(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, BatchView{Batch: b, Entries: entries})
	}
	return views, nil
}

func (tx *memoryTx) GetProduct(ctx context.Context, productID int64) (Product, error) {
	p, ok := tx.store.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) UnitExists(ctx context.Context, unitID int64) (bool, error) {
	_, ok := tx.store.units[unitID]
	return ok, nil
}

func (tx *memoryTx) ListConversions(ctx context.Context, productID int64) ([]UnitConversion, error) {
	return append([]UnitConversion(nil), tx.store.conversions[productID]...), nil
}

func (tx *memoryTx) ListActiveBatchesForUpdate(ctx context.Context, productID, locationID int64) ([]StockBatch, error) {
	var batches []StockBatch
	for _, b := range tx.store.batches {
		if b.ProductID == productID && b.LocationID == locationID && !b.Deleted {
			batches = append(batches, *b)
		}
	}
	// newest first, id breaking ties
	for i := 0; i < len(batches); i++ {
		for j := i + 1; j < len(batches); j++ {
			if batches[j].CreatedAt.After(batches[i].CreatedAt) ||
				(batches[j].CreatedAt.Equal(batches[i].CreatedAt) && batches[j].ID > batches[i].ID) {
				batches[i], batches[j] = batches[j], batches[i]
			}
		}
	}
	return batches, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, batchID int64) (StockBatch, error) {
	b, ok := tx.store.batches[batchID]
	if !ok {
		return StockBatch{}, ErrBatchNotFound
	}
	return *b, nil
}

func (tx *memoryTx) ListEntriesForUpdate(ctx context.Context, batchID int64) ([]StockEntry, error) {
	var entries []StockEntry
	for _, e := range tx.store.entries {
		if e.BatchID == batchID {
			entries = append(entries, *e)
		}
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].UnitID < entries[i].UnitID {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	return entries, nil
}

func (tx *memoryTx) GetEntryForUpdate(ctx context.Context, entryID int64) (StockEntry, error) {
	e, ok := tx.store.entries[entryID]
	if !ok {
		return StockEntry{}, ErrEntryNotFound
	}
	return *e, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch *StockBatch) error {
	tx.store.nextBatch++
	tx.store.clock = tx.store.clock.Add(time.Second)
	batch.ID = tx.store.nextBatch
	batch.CreatedAt = tx.store.clock
	batch.UpdatedAt = tx.store.clock
	copied := *batch
	tx.store.batches[batch.ID] = &copied
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry *StockEntry) error {
	tx.store.nextEntry++
	entry.ID = tx.store.nextEntry
	entry.CreatedAt = tx.store.clock
	entry.UpdatedAt = tx.store.clock
	copied := *entry
	tx.store.entries[entry.ID] = &copied
	return nil
}

func (tx *memoryTx) UpdateEntry(ctx context.Context, entry StockEntry) error {
	if _, ok := tx.store.entries[entry.ID]; !ok {
		return ErrEntryNotFound
	}
	copied := entry
	tx.store.entries[entry.ID] = &copied
	return nil
}

func (tx *memoryTx) MarkBatchDeleted(ctx context.Context, batchID int64) error {
	b, ok := tx.store.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.Deleted = true
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) error {
	tx.store.movements = append(tx.store.movements, movement)
	return nil
}

const (
	productCasePiece = int64(1)
	unitCase         = int64(1)
	unitPiece        = int64(2)
	unitPallet       = int64(3)
	locMain          = int64(1)
)

// seedCasePiece registers a product tracked in cases (main, factor 1) and
// pieces (factor 12, i.e. 12 pieces per case).
func seedCasePiece(store *memoryStore) {
	store.products[productCasePiece] = Product{ID: productCasePiece, MainUnitID: unitCase}
	store.units[unitCase] = struct{}{}
	store.units[unitPiece] = struct{}{}
	store.units[unitPallet] = struct{}{}
	store.conversions[productCasePiece] = []UnitConversion{
		{UnitID: unitCase, Factor: dec("1")},
		{UnitID: unitPiece, Factor: dec("12")},
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func casePiecePrices() []UnitPrice {
	return []UnitPrice{
		{UnitID: unitCase, Price: dec("100")},
		{UnitID: unitPiece, Price: dec("9")},
	}
}

func newTestService(store *memoryStore) *Service {
	return NewService(store, nil, nil, nil)
}

// requireConsistent asserts the cross-unit invariant: every tracked unit of
// every non-deleted batch converts to the same main-unit amount within 0.001.
func requireConsistent(t *testing.T, store *memoryStore) {
	t.Helper()
	tolerance := dec("0.001")
	for _, b := range store.batches {
		if b.Deleted {
			continue
		}
		product := store.products[b.ProductID]
		table, err := newConversionTable(product, store.conversions[b.ProductID])
		require.NoError(t, err)
		var mainAmount *decimal.Decimal
		for _, e := range store.entries {
			if e.BatchID != b.ID {
				continue
			}
			inMain, err := table.toMain(e.Quantity, e.UnitID)
			require.NoError(t, err)
			if mainAmount == nil {
				mainAmount = &inMain
				continue
			}
			diff := inMain.Sub(*mainAmount).Abs()
			require.True(t, diff.LessThanOrEqual(tolerance),
				"batch %d unit %d: %s vs %s", b.ID, e.UnitID, inMain, *mainAmount)
		}
	}
}

func entryQty(store *memoryStore, batchID, unitID int64) decimal.Decimal {
	for _, e := range store.entries {
		if e.BatchID == batchID && e.UnitID == unitID {
			return e.Quantity
		}
	}
	return decimal.Zero
}

func totalMainQty(t *testing.T, store *memoryStore, productID, locationID int64) decimal.Decimal {
	t.Helper()
	product := store.products[productID]
	total := decimal.Zero
	for _, b := range store.batches {
		if b.ProductID != productID || b.LocationID != locationID || b.Deleted {
			continue
		}
		total = total.Add(entryQty(store, b.ID, product.MainUnitID))
	}
	return total
}

func TestCreateBatchConvertsEveryUnit(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	view, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID:    productCasePiece,
		LocationID:   locMain,
		BatchNumber:  "B-001",
		MainQuantity: dec("10"),
		Prices:       casePiecePrices(),
	})
	require.NoError(t, err)
	require.Len(t, view.Entries, 2)
	require.True(t, entryQty(store, view.Batch.ID, unitCase).Equal(dec("10")))
	require.True(t, entryQty(store, view.Batch.ID, unitPiece).Equal(dec("120")))
	requireConsistent(t, store)
}

func TestCreateBatchRequiresEveryUnitPrice(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)

	_, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		ProductID:    productCasePiece,
		LocationID:   locMain,
		MainQuantity: dec("10"),
		Prices:       []UnitPrice{{UnitID: unitCase, Price: dec("100")}},
	})
	var missing *MissingPriceError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, unitPiece, missing.UnitID)
	require.Empty(t, store.batches, "failed creation must leave nothing behind")
}

func TestCreateBatchUnknownProduct(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	_, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		ProductID:    99,
		LocationID:   locMain,
		MainQuantity: dec("1"),
		Prices:       casePiecePrices(),
	})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestCreateBatchRetiresEmptySiblings(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	empty, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("5"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("5"), UnitID: unitCase,
	})
	require.NoError(t, err)
	// sole batch for the pair: stays active even though empty
	require.False(t, store.batches[empty.Batch.ID].Deleted)

	_, err = svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("3"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	require.True(t, store.batches[empty.Batch.ID].Deleted, "housekeeping should retire the drained batch")
}

func TestReduceFifoConcreteScenario(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	view, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	result, err := svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("24"), UnitID: unitPiece,
	})
	require.NoError(t, err)
	require.True(t, result.TotalReduced.Equal(dec("24")))
	require.True(t, result.MainReduced.Equal(dec("2")))
	require.True(t, entryQty(store, view.Batch.ID, unitCase).Equal(dec("8")))
	require.True(t, entryQty(store, view.Batch.ID, unitPiece).Equal(dec("96")))
	requireConsistent(t, store)
}

func TestReduceFifoDrainsNewestFirst(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		view, err := svc.CreateBatch(ctx, CreateBatchInput{
			ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
		})
		require.NoError(t, err)
		ids = append(ids, view.Batch.ID)
	}

	result, err := svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("4"), UnitID: unitCase,
	})
	require.NoError(t, err)
	require.Len(t, result.Batches, 1)
	require.Equal(t, ids[2], result.Batches[0].BatchID, "only the newest batch may be debited")
	require.True(t, entryQty(store, ids[2], unitCase).Equal(dec("6")))
	require.True(t, entryQty(store, ids[0], unitCase).Equal(dec("10")))
	require.True(t, entryQty(store, ids[1], unitCase).Equal(dec("10")))
	requireConsistent(t, store)
}

func TestReduceFifoSpansBatches(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	second, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("4"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	result, err := svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("6"), UnitID: unitCase,
	})
	require.NoError(t, err)
	require.Len(t, result.Batches, 2)
	require.Equal(t, second.Batch.ID, result.Batches[0].BatchID)
	require.True(t, result.Batches[0].MainQuantity.Equal(dec("4")))
	require.Equal(t, first.Batch.ID, result.Batches[1].BatchID)
	require.True(t, result.Batches[1].MainQuantity.Equal(dec("2")))

	// the drained newer batch retires because the older one still holds stock
	require.True(t, store.batches[second.Batch.ID].Deleted)
	require.False(t, store.batches[first.Batch.ID].Deleted)
	require.True(t, entryQty(store, first.Batch.ID, unitCase).Equal(dec("8")))
	requireConsistent(t, store)
}

func TestReduceFifoInsufficientWithoutForce(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	view, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("2"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("30"), UnitID: unitPiece,
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, unitPiece, insufficient.UnitID)
	require.True(t, insufficient.Required.Equal(dec("30")))
	require.True(t, insufficient.Available.Equal(dec("24")), "available must be reported in the caller's unit")

	// rejection leaves all quantities unchanged
	require.True(t, entryQty(store, view.Batch.ID, unitCase).Equal(dec("2")))
	require.True(t, entryQty(store, view.Batch.ID, unitPiece).Equal(dec("24")))
}

func TestReduceFifoNoBatchesWithoutForce(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)

	_, err := svc.ReduceFifo(context.Background(), ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("1"), UnitID: unitCase,
	})
	require.ErrorIs(t, err, ErrNoActiveBatch)
}

func TestReduceFifoForcedSynthesizesNegativeBatch(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	fallback := dec("120")

	result, err := svc.ReduceFifo(context.Background(), ReduceFifoInput{
		ProductID:     productCasePiece,
		LocationID:    locMain,
		Quantity:      dec("36"),
		UnitID:        unitPiece,
		Force:         true,
		FallbackPrice: &fallback,
	})
	require.NoError(t, err)
	require.Len(t, store.batches, 1)
	require.True(t, result.MainReduced.Equal(dec("3")))

	var batchID int64
	for id := range store.batches {
		batchID = id
	}
	require.True(t, entryQty(store, batchID, unitCase).Equal(dec("-3")))
	require.True(t, entryQty(store, batchID, unitPiece).Equal(dec("-36")))
	requireConsistent(t, store)

	// fallback price converts proportionally: 120 per case -> 10 per piece
	for _, e := range store.entries {
		if e.UnitID == unitPiece {
			require.True(t, e.PricePerUnit.Equal(dec("10")))
		}
	}
}

func TestReduceFifoForcedOverdrawsLastBatch(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("3"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	second, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("2"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("8"), UnitID: unitCase, Force: true,
	})
	require.NoError(t, err)
	require.True(t, entryQty(store, second.Batch.ID, unitCase).Equal(dec("0")))
	require.True(t, entryQty(store, first.Batch.ID, unitCase).Equal(dec("-3")), "oldest batch absorbs the shortfall")
	requireConsistent(t, store)
}

type recordingIntegration struct {
	created []BatchCreatedEvent
	reduced []StockReducedEvent
}

func (r *recordingIntegration) HandleBatchCreated(ctx context.Context, evt BatchCreatedEvent) error {
	r.created = append(r.created, evt)
	return nil
}

func (r *recordingIntegration) HandleStockReduced(ctx context.Context, evt StockReducedEvent) error {
	r.reduced = append(r.reduced, evt)
	return nil
}

func TestReduceFifoPolicyForcedSurfacesForcedEvent(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	rec := &recordingIntegration{}
	svc := NewService(store, nil, nil, rec)
	svc.AllowNegativeByDefault(true)
	ctx := context.Background()

	fallback := dec("120")
	_, err := svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("3"), UnitID: unitCase,
		FallbackPrice: &fallback,
	})
	require.NoError(t, err)

	require.Len(t, rec.reduced, 1)
	require.True(t, rec.reduced[0].Forced, "policy-forced reduction must surface Forced=true downstream")
}

func TestReduceFifoAllowNegativePolicy(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	svc.AllowNegativeByDefault(true)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("2"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	// no per-request force; the deployment-wide policy kicks in
	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("5"), UnitID: unitCase,
	})
	require.NoError(t, err)
	require.True(t, entryQty(store, batch.Batch.ID, unitCase).Equal(dec("-3")))
	requireConsistent(t, store)
}

func TestReduceFifoUnknownUnit(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("1"), UnitID: 99,
	})
	require.ErrorIs(t, err, ErrUnitNotFound, "a unit absent from master data is not a conversion gap")
}

func TestReduceFifoUnitWithoutConversion(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	// pallet is a known unit but the product has no factor for it
	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("1"), UnitID: unitPallet,
	})
	var missing *MissingConversionError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, unitPallet, missing.UnitID)
}

func TestRetirementKeepsLastActiveBatch(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	only, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("5"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("5"), UnitID: unitCase,
	})
	require.NoError(t, err)
	require.False(t, store.batches[only.Batch.ID].Deleted, "last batch for the pair must stay active")
}

func TestConservationRoundTrip(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	before := totalMainQty(t, store, productCasePiece, locMain)

	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("4"), UnitID: unitCase,
	})
	require.NoError(t, err)

	_, err = svc.UpsertLatestBatch(ctx, UpsertLatestInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("4"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	require.True(t, totalMainQty(t, store, productCasePiece, locMain).Equal(before))
	requireConsistent(t, store)
}

func TestUpsertLatestAddsOntoNewestBatch(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	older, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	newer, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	view, err := svc.UpsertLatestBatch(ctx, UpsertLatestInput{
		ProductID:    productCasePiece,
		LocationID:   locMain,
		MainQuantity: dec("5"),
		Prices:       []UnitPrice{{UnitID: unitCase, Price: dec("110")}},
	})
	require.NoError(t, err)
	require.Equal(t, newer.Batch.ID, view.Batch.ID)
	require.True(t, entryQty(store, newer.Batch.ID, unitCase).Equal(dec("15")))
	require.True(t, entryQty(store, newer.Batch.ID, unitPiece).Equal(dec("180")))
	require.True(t, entryQty(store, older.Batch.ID, unitCase).Equal(dec("10")), "older batch untouched")
	requireConsistent(t, store)

	// supplied price overwrites the touched unit, last write wins
	for _, e := range store.entries {
		if e.BatchID == newer.Batch.ID && e.UnitID == unitCase {
			require.True(t, e.PricePerUnit.Equal(dec("110")))
		}
		if e.BatchID == newer.Batch.ID && e.UnitID == unitPiece {
			require.True(t, e.PricePerUnit.Equal(dec("9")), "unpriced unit keeps its old price")
		}
	}
}

func TestUpsertLatestCreatesWhenNoBatchExists(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)

	view, err := svc.UpsertLatestBatch(context.Background(), UpsertLatestInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("6"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	require.True(t, entryQty(store, view.Batch.ID, unitCase).Equal(dec("6")))
	require.True(t, entryQty(store, view.Batch.ID, unitPiece).Equal(dec("72")))
}

func TestUpsertLatestCreatesEntryForNewUnit(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	view, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	// the product gains a pallet unit after the batch already exists
	store.conversions[productCasePiece] = append(store.conversions[productCasePiece],
		UnitConversion{UnitID: unitPallet, Factor: dec("0.5")})

	_, err = svc.UpsertLatestBatch(ctx, UpsertLatestInput{
		ProductID:    productCasePiece,
		LocationID:   locMain,
		MainQuantity: dec("4"),
		Prices: []UnitPrice{
			{UnitID: unitCase, Price: dec("100")},
			{UnitID: unitPallet, Price: dec("200")},
		},
	})
	require.NoError(t, err)
	require.True(t, entryQty(store, view.Batch.ID, unitCase).Equal(dec("14")))
	// lazily created entry only carries the delta; prior stock predates the unit
	require.True(t, entryQty(store, view.Batch.ID, unitPallet).Equal(dec("2")))
}

func TestUpsertLatestNewUnitWithoutPriceFails(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	store.conversions[productCasePiece] = append(store.conversions[productCasePiece],
		UnitConversion{UnitID: unitPallet, Factor: dec("0.5")})

	_, err = svc.UpsertLatestBatch(ctx, UpsertLatestInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("4"),
	})
	var missing *MissingPriceError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, unitPallet, missing.UnitID)
}

func TestReduceByEntryProportional(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	view, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	var pieceEntryID int64
	for _, e := range view.Entries {
		if e.UnitID == unitPiece {
			pieceEntryID = e.ID
		}
	}
	require.NotZero(t, pieceEntryID)

	result, err := svc.ReduceByEntry(ctx, ReduceByEntryInput{
		EntryID:        pieceEntryID,
		Quantity:       dec("2"),
		QuantityUnitID: unitCase,
	})
	require.NoError(t, err)
	require.True(t, result.MainReduced.Equal(dec("2")))
	require.True(t, entryQty(store, view.Batch.ID, unitCase).Equal(dec("8")))
	require.True(t, entryQty(store, view.Batch.ID, unitPiece).Equal(dec("96")))
	requireConsistent(t, store)
}

func TestReduceByEntryInsufficientAddressedUnit(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	view, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("2"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	_, err = svc.ReduceByEntry(ctx, ReduceByEntryInput{
		EntryID:        view.Entries[0].ID,
		Quantity:       dec("5"),
		QuantityUnitID: unitCase,
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, entryQty(store, view.Batch.ID, unitCase).Equal(dec("2")), "state unchanged after rollback")
}

func TestReduceByBatchUnit(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	view, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	result, err := svc.ReduceByBatchUnit(ctx, ReduceByBatchUnitInput{
		BatchID:        view.Batch.ID,
		UnitID:         unitPiece,
		Quantity:       dec("24"),
		QuantityUnitID: unitPiece,
	})
	require.NoError(t, err)
	require.True(t, result.MainReduced.Equal(dec("2")))
	require.True(t, entryQty(store, view.Batch.ID, unitCase).Equal(dec("8")))
	requireConsistent(t, store)
}

func TestReduceByBatchUnitRetiresWhenSiblingHoldsStock(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	older, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("5"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	newer, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("5"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	_, err = svc.ReduceByBatchUnit(ctx, ReduceByBatchUnitInput{
		BatchID:  newer.Batch.ID,
		UnitID:   unitCase,
		Quantity: dec("5"),
	})
	require.NoError(t, err)
	require.True(t, store.batches[newer.Batch.ID].Deleted)
	require.False(t, store.batches[older.Batch.ID].Deleted)
}

func TestListAvailableFiltersUnit(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	_, err = svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("4"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)

	views, err := svc.ListAvailable(ctx, productCasePiece, locMain, unitPiece)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.True(t, views[0].Batch.CreatedAt.After(views[1].Batch.CreatedAt), "newest first")
	for _, v := range views {
		require.Len(t, v.Entries, 1)
		require.Equal(t, unitPiece, v.Entries[0].UnitID)
	}
}

func TestCrossUnitConsistencyUnderMixedOperations(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("7.5"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	_, err = svc.UpsertLatestBatch(ctx, UpsertLatestInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("2.25"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("13"), UnitID: unitPiece,
	})
	require.NoError(t, err)
	_, err = svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("0.125"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("1.5"), UnitID: unitPiece,
	})
	require.NoError(t, err)

	requireConsistent(t, store)
}

func TestMovementsRecorded(t *testing.T) {
	store := newMemoryStore()
	seedCasePiece(store)
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID: productCasePiece, LocationID: locMain, MainQuantity: dec("10"), Prices: casePiecePrices(),
	})
	require.NoError(t, err)
	_, err = svc.ReduceFifo(ctx, ReduceFifoInput{
		ProductID: productCasePiece, LocationID: locMain, Quantity: dec("1"), UnitID: unitCase,
	})
	require.NoError(t, err)

	require.Len(t, store.movements, 2)
	require.Equal(t, MovementCreate, store.movements[0].Kind)
	require.Equal(t, MovementReduce, store.movements[1].Kind)
	require.NotEmpty(t, store.movements[1].Code)
}
