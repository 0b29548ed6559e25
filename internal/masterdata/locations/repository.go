package locations

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
	List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error)
	Get(ctx context.Context, id int64) (Location, error)
	Create(ctx context.Context, location Location) (Location, error)
	Update(ctx context.Context, id int64, location Location) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	query := `SELECT id, code, name, COALESCE(address, '') FROM locations WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM locations WHERE 1=1`
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

	var locations []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Code, &l.Name, &l.Address); err != nil {
			return nil, 0, err
		}
		locations = append(locations, l)
	}
	return locations, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Location, error) {
	var l Location
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, COALESCE(address, '') FROM locations WHERE id = $1`, id).
		Scan(&l.ID, &l.Code, &l.Name, &l.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, shared.ErrNotFound
	}
	if err != nil {
		return Location{}, err
	}
	return l, nil
}

func (r *repository) Create(ctx context.Context, location Location) (Location, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO locations (code, name, address, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), NOW(), NOW())
		 RETURNING id`,
		location.Code, location.Name, location.Address).Scan(&location.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Location{}, shared.ErrDuplicate
	}
	if err != nil {
		return Location{}, err
	}
	return location, nil
}

func (r *repository) Update(ctx context.Context, id int64, location Location) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE locations SET code = $1, name = $2, address = NULLIF($3, ''), updated_at = NOW() WHERE id = $4`,
		location.Code, location.Name, location.Address, id)
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
	tag, err := r.pool.Exec(ctx, `DELETE FROM locations WHERE id = $1`, id)
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
