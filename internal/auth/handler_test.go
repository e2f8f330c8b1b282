package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/batchline-erp/batchline-erp/internal/shared"
	_ "github.com/batchline-erp/batchline-erp/testing"
)

type memoryUserRepo struct {
	nextID int64
	users  map[string]*User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*User)}
}

func (m *memoryUserRepo) FindByUsername(_ context.Context, username string) (*User, error) {
	user, ok := m.users[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *memoryUserRepo) Create(_ context.Context, username, passwordHash string) (*User, error) {
	if _, ok := m.users[username]; ok {
		return nil, ErrUsernameTaken
	}
	m.nextID++
	user := &User{ID: m.nextID, Username: username, PasswordHash: passwordHash, IsActive: true}
	m.users[username] = user
	copied := *user
	return &copied, nil
}

func newTestService(t *testing.T) (*Service, *memoryUserRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := newMemoryUserRepo()
	return NewService(repo, NewTokenStore(client, time.Hour)), repo
}

func seedUser(t *testing.T, repo *memoryUserRepo, username, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), username, string(hash))
	require.NoError(t, err)
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestLoginIssuesToken(t *testing.T) {
	svc, repo := newTestService(t)
	seedUser(t, repo, "operator", "s3cretpass")
	h := NewHandler(nil, svc)

	rec := postJSON(t, h.handleLogin, map[string]string{"username": "operator", "password": "s3cretpass"})
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Result struct {
			Token  string `json:"token"`
			UserID int64  `json:"user_id"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotEmpty(t, payload.Result.Token)

	userID, err := svc.ResolveToken(context.Background(), payload.Result.Token)
	require.NoError(t, err)
	require.Equal(t, payload.Result.UserID, userID)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, repo := newTestService(t)
	seedUser(t, repo, "operator", "s3cretpass")
	h := NewHandler(nil, svc)

	rec := postJSON(t, h.handleLogin, map[string]string{"username": "operator", "password": "wrongwrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	svc, repo := newTestService(t)
	seedUser(t, repo, "operator", "s3cretpass")
	repo.users["operator"].IsActive = false

	_, _, err := svc.Login(context.Background(), "operator", "s3cretpass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, repo := newTestService(t)
	seedUser(t, repo, "operator", "s3cretpass")
	ctx := context.Background()

	_, token, err := svc.Login(ctx, "operator", "s3cretpass")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, token))

	_, err = svc.ResolveToken(ctx, token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(nil, svc)

	rec := postJSON(t, h.handleRegister, map[string]string{"username": "operator", "password": "s3cretpass"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h.handleRegister, map[string]string{"username": "operator", "password": "s3cretpass"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequireTokenMiddleware(t *testing.T) {
	svc, repo := newTestService(t)
	seedUser(t, repo, "operator", "s3cretpass")
	ctx := context.Background()

	_, token, err := svc.Login(ctx, "operator", "s3cretpass")
	require.NoError(t, err)

	var gotActor int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	svc.RequireToken(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), gotActor)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	svc.RequireToken(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
