package packaging

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
	List(ctx context.Context, filters shared.ListFilters) ([]PackageMaterial, int, error)
	Get(ctx context.Context, id int64) (PackageMaterial, error)
	Create(ctx context.Context, pm PackageMaterial) (PackageMaterial, error)
	Update(ctx context.Context, id int64, pm PackageMaterial) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const selectColumns = `id, name, unit, price, supplier_id, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]PackageMaterial, int, error) {
	query := `SELECT ` + selectColumns + ` FROM package_materials WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM package_materials WHERE 1=1`
	args := []interface{}{}
	countArgs := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND name ILIKE $` + strconv.Itoa(argCount)
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

	var out []PackageMaterial
	for rows.Next() {
		var pm PackageMaterial
		if err := rows.Scan(&pm.ID, &pm.Name, &pm.Unit, &pm.Price, &pm.SupplierID, &pm.CreatedAt, &pm.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, pm)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (PackageMaterial, error) {
	var pm PackageMaterial
	err := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM package_materials WHERE id = $1`, id).
		Scan(&pm.ID, &pm.Name, &pm.Unit, &pm.Price, &pm.SupplierID, &pm.CreatedAt, &pm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PackageMaterial{}, shared.ErrNotFound
	}
	return pm, err
}

func (r *repository) Create(ctx context.Context, pm PackageMaterial) (PackageMaterial, error) {
	query := `INSERT INTO package_materials (name, unit, price, supplier_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, pm.Name, pm.Unit, pm.Price, pm.SupplierID, now, now).Scan(&pm.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return PackageMaterial{}, ErrSupplierMissing
		}
		return PackageMaterial{}, err
	}
	pm.CreatedAt = now
	pm.UpdatedAt = now
	return pm, nil
}

func (r *repository) Update(ctx context.Context, id int64, pm PackageMaterial) error {
	query := `UPDATE package_materials SET name = $1, unit = $2, price = $3, supplier_id = $4, updated_at = $5 WHERE id = $6`
	tag, err := r.db.Exec(ctx, query, pm.Name, pm.Unit, pm.Price, pm.SupplierID, time.Now(), id)
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
	tag, err := r.db.Exec(ctx, `DELETE FROM package_materials WHERE id = $1`, id)
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
