package products

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error)
	ListActiveIDs(ctx context.Context) ([]int64, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, id int64, product Product) error
	Delete(ctx context.Context, id int64) error
	ListConversions(ctx context.Context, productID int64) ([]Conversion, error)
	ReplaceConversions(ctx context.Context, productID int64, convs []Conversion) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	query := `SELECT id, code, name, category_id, main_unit_id, is_active FROM products WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.CategoryID != nil {
		argCount++
		query += ` AND category_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.CategoryID)
	}
	if filters.IsActive != nil {
		argCount++
		query += ` AND is_active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.IsActive)
	}

	countQuery := `SELECT COUNT(*) FROM (` + query + `) c`
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name ASC`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filters.Offset())
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.CategoryID, &p.MainUnitID, &p.IsActive); err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) ListActiveIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, category_id, main_unit_id, is_active FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.CategoryID, &p.MainUnitID, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO products (code, name, category_id, main_unit_id, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			 RETURNING id`,
			product.Code, product.Name, product.CategoryID, product.MainUnitID, product.IsActive).
			Scan(&product.ID)
		if err != nil {
			return err
		}
		// every product starts with its identity conversion
		_, err = tx.Exec(ctx,
			`INSERT INTO unit_conversions (product_id, unit_id, factor) VALUES ($1, $2, 1)`,
			product.ID, product.MainUnitID)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Product{}, shared.ErrDuplicate
	}
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

func (r *repository) Update(ctx context.Context, id int64, product Product) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE products SET code = $1, name = $2, category_id = $3, main_unit_id = $4, is_active = $5, updated_at = NOW()
			 WHERE id = $6`,
			product.Code, product.Name, product.CategoryID, product.MainUnitID, product.IsActive, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		// the main unit always keeps its identity conversion, even when the
		// update moves it to a unit the table has never seen
		_, err = tx.Exec(ctx,
			`INSERT INTO unit_conversions (product_id, unit_id, factor) VALUES ($1, $2, 1)
			 ON CONFLICT (product_id, unit_id) DO UPDATE SET factor = 1`,
			id, product.MainUnitID)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return shared.ErrInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ListConversions(ctx context.Context, productID int64) ([]Conversion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT unit_id, factor FROM unit_conversions WHERE product_id = $1 ORDER BY unit_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversion
	for rows.Next() {
		var c Conversion
		if err := rows.Scan(&c.UnitID, &c.Factor); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ReplaceConversions swaps the product's conversion table atomically.
func (r *repository) ReplaceConversions(ctx context.Context, productID int64, convs []Conversion) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM unit_conversions WHERE product_id = $1`, productID); err != nil {
			return err
		}
		for _, c := range convs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO unit_conversions (product_id, unit_id, factor) VALUES ($1, $2, $3)`,
				productID, c.UnitID, c.Factor); err != nil {
				return err
			}
		}
		return nil
	})
}
