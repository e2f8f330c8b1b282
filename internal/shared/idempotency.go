package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict reports that a reference key was already claimed by
// an earlier request.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore claims caller supplied reference keys in the
// idempotency_keys table (primary key on key). A conversion claims its key
// before touching any ledger and releases it again when the conversion rolls
// back, so a retried request with the same reference is applied at most once.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// CheckAndInsert claims key for module. A key that is already present, no
// matter which module claimed it, fails with ErrIdempotencyConflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.pool == nil {
		return errors.New("shared: idempotency store not initialised")
	}
	if key == "" || module == "" {
		return errors.New("shared: idempotency key and module required")
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, module, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING`, key, module, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("shared: claim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases a claimed key after a failed conversion so the caller may
// retry with the same reference.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.pool == nil || key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}

// Cleanup drops keys older than the retention window.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`,
		time.Now().UTC().Add(-olderThan))
	return err
}
