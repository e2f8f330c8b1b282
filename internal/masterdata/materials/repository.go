package materials

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/batchline-erp/batchline-erp/internal/masterdata/shared"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Material, int, error)
	Get(ctx context.Context, id int64) (Material, error)
	Create(ctx context.Context, material Material) (Material, error)
	Update(ctx context.Context, id int64, material Material) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const selectColumns = `id, name, unit, price, supplier_id, reorder_level, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Material, int, error) {
	query := `SELECT ` + selectColumns + ` FROM materials WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM materials WHERE 1=1`
	args := []interface{}{}
	countArgs := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		clause := ` AND name ILIKE $` + strconv.Itoa(argCount)
		query += clause
		countQuery += ` AND name ILIKE $` + strconv.Itoa(len(countArgs)+1)
		args = append(args, "%"+filters.Search+"%")
		countArgs = append(countArgs, "%"+filters.Search+"%")
	}
	if filters.SupplierID != nil {
		argCount++
		query += ` AND supplier_id = $` + strconv.Itoa(argCount)
		countQuery += ` AND supplier_id = $` + strconv.Itoa(len(countArgs)+1)
		args = append(args, *filters.SupplierID)
		countArgs = append(countArgs, *filters.SupplierID)
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)

	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.Name, &m.Unit, &m.Price, &m.SupplierID, &m.ReorderLevel, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Material, error) {
	var m Material
	err := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM materials WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Unit, &m.Price, &m.SupplierID, &m.ReorderLevel, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Material{}, shared.ErrNotFound
	}
	return m, err
}

func (r *repository) Create(ctx context.Context, material Material) (Material, error) {
	query := `INSERT INTO materials (name, unit, price, supplier_id, reorder_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, material.Name, material.Unit, material.Price, material.SupplierID, material.ReorderLevel, now, now).Scan(&material.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Material{}, ErrSupplierMissing
		}
		return Material{}, err
	}
	material.CreatedAt = now
	material.UpdatedAt = now
	return material, nil
}

func (r *repository) Update(ctx context.Context, id int64, material Material) error {
	query := `UPDATE materials SET name = $1, unit = $2, price = $3, supplier_id = $4, reorder_level = $5, updated_at = $6 WHERE id = $7`
	tag, err := r.db.Exec(ctx, query, material.Name, material.Unit, material.Price, material.SupplierID, material.ReorderLevel, time.Now(), id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrSupplierMissing
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return shared.ErrInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == shared.SortDesc {
		dir = "DESC"
	}
	switch sortBy {
	case "name":
		return "name " + dir
	case "price":
		return "price " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}
