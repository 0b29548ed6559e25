package categories

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
	List(ctx context.Context, filters shared.ListFilters) ([]Category, int, error)
	Get(ctx context.Context, id int64) (Category, error)
	ListChildren(ctx context.Context, parentID int64) ([]Category, error)
	Create(ctx context.Context, category Category) (Category, error)
	Update(ctx context.Context, id int64, category Category) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Category, int, error) {
	query := `SELECT id, parent_id, code, name FROM categories WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM categories WHERE 1=1`
	countArgs := []interface{}{}
	if filters.Search != "" {
		countQuery += ` AND (name ILIKE $1 OR code ILIKE $1)`
		countArgs = append(countArgs, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
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

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Code, &c.Name); err != nil {
			return nil, 0, err
		}
		categories = append(categories, c)
	}
	return categories, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx,
		`SELECT id, parent_id, code, name FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.ParentID, &c.Code, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, shared.ErrNotFound
	}
	if err != nil {
		return Category{}, err
	}
	return c, nil
}

func (r *repository) ListChildren(ctx context.Context, parentID int64) ([]Category, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, parent_id, code, name FROM categories WHERE parent_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Code, &c.Name); err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

func (r *repository) Create(ctx context.Context, category Category) (Category, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (parent_id, code, name, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 RETURNING id`,
		category.ParentID, category.Code, category.Name).Scan(&category.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Category{}, shared.ErrDuplicate
	}
	if err != nil {
		return Category{}, err
	}
	return category, nil
}

func (r *repository) Update(ctx context.Context, id int64, category Category) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE categories SET parent_id = $1, code = $2, name = $3, updated_at = NOW() WHERE id = $4`,
		category.ParentID, category.Code, category.Name, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
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
