package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/batchline-erp/batchline-erp/internal/shared"
)

// ErrUsernameTaken indicates a duplicate username on registration.
var ErrUsernameTaken = errors.New("auth: username already taken")

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, username, passwordHash string) (*User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByUsername fetches a user by username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, is_active, created_at, updated_at FROM users WHERE username = $1`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new active user.
func (r *PGRepository) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	u := User{Username: username, PasswordHash: passwordHash, IsActive: true, CreatedAt: now, UpdatedAt: now}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, is_active, created_at, updated_at) VALUES ($1, $2, TRUE, $3, $3) RETURNING id`,
		username, passwordHash, now).Scan(&u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return &u, nil
}

var _ Repository = (*PGRepository)(nil)
