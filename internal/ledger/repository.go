package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txStore struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction, retrying
// serialization conflicts. Combined with the FOR UPDATE reads in txStore this
// closes the read-then-write race on sufficiency checks.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// ListAvailable returns non-deleted batches with their entries, newest first.
func (r *Repository) ListAvailable(ctx context.Context, productID, locationID int64) ([]BatchView, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, location_id, batch_number, production_date, deleted, created_at, updated_at
FROM stock_batches
WHERE product_id=$1 AND location_id=$2 AND NOT deleted
ORDER BY created_at DESC, id DESC`, productID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []BatchView{}
	index := map[int64]int{}
	for rows.Next() {
		var b StockBatch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.LocationID, &b.BatchNumber, &b.ProductionDate, &b.Deleted, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		index[b.ID] = len(views)
		views = append(views, BatchView{Batch: b})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return views, nil
	}

	entryRows, err := r.pool.Query(ctx, `SELECT e.id, e.stock_batch_id, e.product_id, e.location_id, e.unit_id, e.quantity, e.price_per_unit, e.created_at, e.updated_at
FROM stock_entries e
JOIN stock_batches b ON b.id = e.stock_batch_id
WHERE b.product_id=$1 AND b.location_id=$2 AND NOT b.deleted
ORDER BY e.stock_batch_id, e.unit_id`, productID, locationID)
	if err != nil {
		return nil, err
	}
	defer entryRows.Close()
	for entryRows.Next() {
		var e StockEntry
		if err := entryRows.Scan(&e.ID, &e.BatchID, &e.ProductID, &e.LocationID, &e.UnitID, &e.Quantity, &e.PricePerUnit, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if i, ok := index[e.BatchID]; ok {
			views[i].Entries = append(views[i].Entries, e)
		}
	}
	return views, entryRows.Err()
}

func (s *txStore) GetProduct(ctx context.Context, productID int64) (Product, error) {
	var p Product
	err := s.tx.QueryRow(ctx, `SELECT id, main_unit_id FROM products WHERE id=$1`, productID).Scan(&p.ID, &p.MainUnitID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (s *txStore) UnitExists(ctx context.Context, unitID int64) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM units WHERE id=$1)`, unitID).Scan(&exists)
	return exists, err
}

func (s *txStore) ListConversions(ctx context.Context, productID int64) ([]UnitConversion, error) {
	rows, err := s.tx.Query(ctx, `SELECT unit_id, factor FROM unit_conversions WHERE product_id=$1 ORDER BY unit_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var convs []UnitConversion
	for rows.Next() {
		var c UnitConversion
		if err := rows.Scan(&c.UnitID, &c.Factor); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *txStore) ListActiveBatchesForUpdate(ctx context.Context, productID, locationID int64) ([]StockBatch, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, product_id, location_id, batch_number, production_date, deleted, created_at, updated_at
FROM stock_batches
WHERE product_id=$1 AND location_id=$2 AND NOT deleted
ORDER BY created_at DESC, id DESC
FOR UPDATE`, productID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []StockBatch
	for rows.Next() {
		var b StockBatch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.LocationID, &b.BatchNumber, &b.ProductionDate, &b.Deleted, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *txStore) GetBatchForUpdate(ctx context.Context, batchID int64) (StockBatch, error) {
	var b StockBatch
	err := s.tx.QueryRow(ctx, `SELECT id, product_id, location_id, batch_number, production_date, deleted, created_at, updated_at
FROM stock_batches WHERE id=$1 FOR UPDATE`, batchID).
		Scan(&b.ID, &b.ProductID, &b.LocationID, &b.BatchNumber, &b.ProductionDate, &b.Deleted, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBatch{}, ErrBatchNotFound
		}
		return StockBatch{}, err
	}
	return b, nil
}

func (s *txStore) ListEntriesForUpdate(ctx context.Context, batchID int64) ([]StockEntry, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, stock_batch_id, product_id, location_id, unit_id, quantity, price_per_unit, created_at, updated_at
FROM stock_entries WHERE stock_batch_id=$1 ORDER BY unit_id FOR UPDATE`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []StockEntry
	for rows.Next() {
		var e StockEntry
		if err := rows.Scan(&e.ID, &e.BatchID, &e.ProductID, &e.LocationID, &e.UnitID, &e.Quantity, &e.PricePerUnit, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *txStore) GetEntryForUpdate(ctx context.Context, entryID int64) (StockEntry, error) {
	var e StockEntry
	err := s.tx.QueryRow(ctx, `SELECT id, stock_batch_id, product_id, location_id, unit_id, quantity, price_per_unit, created_at, updated_at
FROM stock_entries WHERE id=$1 FOR UPDATE`, entryID).
		Scan(&e.ID, &e.BatchID, &e.ProductID, &e.LocationID, &e.UnitID, &e.Quantity, &e.PricePerUnit, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockEntry{}, ErrEntryNotFound
		}
		return StockEntry{}, err
	}
	return e, nil
}

func (s *txStore) InsertBatch(ctx context.Context, batch *StockBatch) error {
	return s.tx.QueryRow(ctx, `INSERT INTO stock_batches (product_id, location_id, batch_number, production_date, deleted, created_at, updated_at)
VALUES ($1, $2, $3, $4, FALSE, NOW(), NOW())
RETURNING id, created_at, updated_at`,
		batch.ProductID, batch.LocationID, batch.BatchNumber, batch.ProductionDate).
		Scan(&batch.ID, &batch.CreatedAt, &batch.UpdatedAt)
}

func (s *txStore) InsertEntry(ctx context.Context, entry *StockEntry) error {
	return s.tx.QueryRow(ctx, `INSERT INTO stock_entries (stock_batch_id, product_id, location_id, unit_id, quantity, price_per_unit, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
RETURNING id, created_at, updated_at`,
		entry.BatchID, entry.ProductID, entry.LocationID, entry.UnitID, entry.Quantity, entry.PricePerUnit).
		Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
}

func (s *txStore) UpdateEntry(ctx context.Context, entry StockEntry) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_entries SET quantity=$1, price_per_unit=$2, updated_at=NOW() WHERE id=$3`,
		entry.Quantity, entry.PricePerUnit, entry.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *txStore) MarkBatchDeleted(ctx context.Context, batchID int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_batches SET deleted=TRUE, updated_at=NOW() WHERE id=$1`, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (s *txStore) InsertMovement(ctx context.Context, movement Movement) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_movements (code, kind, product_id, location_id, unit_id, main_quantity, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		movement.Code, string(movement.Kind), movement.ProductID, movement.LocationID, movement.UnitID, movement.MainQuantity)
	return err
}
