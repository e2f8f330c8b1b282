package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/batchline-erp/batchline-erp/internal/platform/db"
)

// Repository persists stock ledgers and conversion audit records in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds row lock
// acquisition inside conversions; zero disables the bound.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// TxLedger exposes the ledger operations available inside one conversion
// transaction.
type TxLedger interface {
	GetBalanceForUpdate(ctx context.Context, kind Kind, resourceID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	InsertProductBatch(ctx context.Context, pb ProductBatch) (int64, error)
}

type txLedger struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction with a bounded
// lock_timeout. Lock waits that exceed the bound, serialization failures and
// deadlocks surface as ErrConflict so callers can retry.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxLedger) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	err := db.WithLockedTx(ctx, r.pool, r.lockTimeout, func(tx pgx.Tx) error {
		return fn(ctx, &txLedger{tx: tx})
	})
	if err != nil && isContention(err) {
		return ErrConflict
	}
	return err
}

// isContention matches lock_not_available, serialization_failure and
// deadlock_detected.
func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "55P03", "40001", "40P01":
		return true
	}
	return false
}

// GetBalance reads one balance outside a conversion.
func (r *Repository) GetBalance(ctx context.Context, kind Kind, resourceID int64) (Balance, error) {
	var bal Balance
	err := r.pool.QueryRow(ctx, `SELECT kind, resource_id, balance, updated_at FROM stock_balances WHERE kind=$1 AND resource_id=$2`, string(kind), resourceID).
		Scan(&bal.Kind, &bal.ResourceID, &bal.Qty, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Kind: kind, ResourceID: resourceID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

// ListBalances returns every record of one ledger, ordered by resource id.
func (r *Repository) ListBalances(ctx context.Context, kind Kind) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT kind, resource_id, balance, updated_at FROM stock_balances WHERE kind=$1 ORDER BY resource_id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []Balance
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.Kind, &bal.ResourceID, &bal.Qty, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// ListBatches returns recent batch audit records for a product.
func (r *Repository) ListBatches(ctx context.Context, productID int64, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, quantity, batch_code, ref_id, last_update FROM batches WHERE product_id=$1 ORDER BY id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.Quantity, &b.BatchCode, &b.RefID, &b.LastUpdate); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (l *txLedger) GetBalanceForUpdate(ctx context.Context, kind Kind, resourceID int64) (Balance, error) {
	var bal Balance
	err := l.tx.QueryRow(ctx, `SELECT kind, resource_id, balance, updated_at FROM stock_balances WHERE kind=$1 AND resource_id=$2 FOR UPDATE`, string(kind), resourceID).
		Scan(&bal.Kind, &bal.ResourceID, &bal.Qty, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Kind: kind, ResourceID: resourceID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (l *txLedger) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := l.tx.Exec(ctx, `INSERT INTO stock_balances (kind, resource_id, balance, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (kind, resource_id) DO UPDATE SET balance=EXCLUDED.balance, updated_at=NOW()`, string(balance.Kind), balance.ResourceID, balance.Qty)
	return err
}

func (l *txLedger) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := l.tx.QueryRow(ctx, `INSERT INTO batches (product_id, quantity, batch_code, ref_id, last_update)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, batch.ProductID, batch.Quantity, batch.BatchCode, batch.RefID, batch.LastUpdate).Scan(&id)
	return id, err
}

func (l *txLedger) InsertProductBatch(ctx context.Context, pb ProductBatch) (int64, error) {
	var id int64
	err := l.tx.QueryRow(ctx, `INSERT INTO product_batches (product_id, pieces, batch_code, ref_id, last_update)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, pb.ProductID, pb.Pieces, pb.BatchCode, pb.RefID, pb.LastUpdate).Scan(&id)
	return id, err
}
