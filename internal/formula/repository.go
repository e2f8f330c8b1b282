package formula

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/batchline-erp/batchline-erp/internal/shared"
)

// Repository persists formula and package compose rows.
type Repository interface {
	ListByProduct(ctx context.Context, productID int64) ([]Entry, error)
	CreateRow(ctx context.Context, entry Entry) (Entry, error)
	UpdateRowQuantity(ctx context.Context, productID, materialID int64, quantity float64) error
	DeleteRow(ctx context.Context, productID, materialID int64) error

	ComposeByProduct(ctx context.Context, productID int64) ([]ComposeRow, error)
	AddComposeRow(ctx context.Context, row ComposeRow) (ComposeRow, error)
	DeleteComposeRow(ctx context.Context, productID, packageMaterialID int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the postgres Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) ListByProduct(ctx context.Context, productID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, material_id, quantity FROM formula_rows WHERE product_id=$1 ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.MaterialID, &e.Quantity); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) CreateRow(ctx context.Context, entry Entry) (Entry, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO formula_rows (product_id, material_id, quantity) VALUES ($1,$2,$3) RETURNING id`,
		entry.ProductID, entry.MaterialID, entry.Quantity).Scan(&entry.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Entry{}, ErrRowExists
		}
		return Entry{}, err
	}
	return entry, nil
}

func (r *repository) UpdateRowQuantity(ctx context.Context, productID, materialID int64, quantity float64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE formula_rows SET quantity=$3 WHERE product_id=$1 AND material_id=$2`, productID, materialID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) DeleteRow(ctx context.Context, productID, materialID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM formula_rows WHERE product_id=$1 AND material_id=$2`, productID, materialID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ComposeByProduct(ctx context.Context, productID int64) ([]ComposeRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, package_material_id FROM package_compose WHERE product_id=$1 ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var compose []ComposeRow
	for rows.Next() {
		var c ComposeRow
		if err := rows.Scan(&c.ID, &c.ProductID, &c.PackageMaterialID); err != nil {
			return nil, err
		}
		compose = append(compose, c)
	}
	return compose, rows.Err()
}

func (r *repository) AddComposeRow(ctx context.Context, row ComposeRow) (ComposeRow, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO package_compose (product_id, package_material_id) VALUES ($1,$2) RETURNING id`,
		row.ProductID, row.PackageMaterialID).Scan(&row.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ComposeRow{}, ErrComposeExists
		}
		return ComposeRow{}, err
	}
	return row, nil
}

func (r *repository) DeleteComposeRow(ctx context.Context, productID, packageMaterialID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM package_compose WHERE product_id=$1 AND package_material_id=$2`, productID, packageMaterialID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
