package units

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
	List(ctx context.Context, filters shared.ListFilters) ([]Unit, int, error)
	Get(ctx context.Context, id int64) (Unit, error)
	GetByCode(ctx context.Context, code string) (Unit, error)
	Create(ctx context.Context, unit Unit) (Unit, error)
	Update(ctx context.Context, id int64, unit Unit) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Unit, int, error) {
	query := `SELECT id, code, name FROM units WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM units WHERE 1=1`
	countArgs := []interface{}{}
	if filters.Search != "" {
		countQuery += ` AND (name ILIKE $1 OR code ILIKE $1)`
		countArgs = append(countArgs, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)

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

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Code, &u.Name); err != nil {
			return nil, 0, err
		}
		units = append(units, u)
	}
	return units, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `SELECT id, code, name FROM units WHERE id = $1`, id).
		Scan(&u.ID, &u.Code, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, shared.ErrNotFound
	}
	if err != nil {
		return Unit{}, err
	}
	return u, nil
}

// GetByCode matches case-insensitively; codes are stored folded.
func (r *repository) GetByCode(ctx context.Context, code string) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `SELECT id, code, name FROM units WHERE lower(code) = $1`, code).
		Scan(&u.ID, &u.Code, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, shared.ErrNotFound
	}
	if err != nil {
		return Unit{}, err
	}
	return u, nil
}

func (r *repository) Create(ctx context.Context, unit Unit) (Unit, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO units (code, name, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 RETURNING id`,
		unit.Code, unit.Name).Scan(&unit.ID)
	if isUniqueViolation(err) {
		return Unit{}, shared.ErrDuplicate
	}
	if err != nil {
		return Unit{}, err
	}
	return unit, nil
}

func (r *repository) Update(ctx context.Context, id int64, unit Unit) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE units SET code = $1, name = $2, updated_at = NOW() WHERE id = $3`,
		unit.Code, unit.Name, id)
	if isUniqueViolation(err) {
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
	tag, err := r.pool.Exec(ctx, `DELETE FROM units WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
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

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == shared.SortDesc {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	default:
		return "name " + dir
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
