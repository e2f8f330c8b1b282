package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTokenInvalid indicates an unknown or expired bearer token.
var ErrTokenInvalid = errors.New("auth: invalid or expired token")

// TokenStore keeps opaque bearer tokens in Redis. A token maps to the user
// id that owns it and expires after the configured TTL.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

func tokenKey(token string) string {
	return "auth:token:" + token
}

// Issue mints a new token for the user.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, tokenKey(token), strconv.FormatInt(userID, 10), s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the user id owning a token, refreshing its TTL.
func (s *TokenStore) Resolve(ctx context.Context, token string) (int64, error) {
	raw, err := s.client.Get(ctx, tokenKey(token)).Result()
	if err == redis.Nil {
		return 0, ErrTokenInvalid
	}
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrTokenInvalid
	}
	// Sliding expiry. A failed refresh is harmless; the token simply keeps
	// its remaining TTL.
	_ = s.client.Expire(ctx, tokenKey(token), s.ttl).Err()
	return userID, nil
}

// Revoke deletes a token.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, tokenKey(token)).Err()
}

// TTL reports the configured token lifetime.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}
