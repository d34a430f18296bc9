package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenStoreWithClient(client, time.Hour), mr
}

func TestIssueAndResolve(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	stored, err := mr.Get("token:" + token)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored)
	assert.Equal(t, time.Hour, mr.TTL("token:"+token))

	userID, err := store.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestIssueRequiresUser(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Issue(context.Background(), " ")
	assert.Error(t, err)
}

func TestResolveExpiredAndUnknown(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = store.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err := store.Issue(ctx, "u1")
	require.NoError(t, err)
	mr.FastForward(time.Hour + time.Second)

	_, err = store.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, store.Revoke(ctx, token))

	_, err = store.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	store, _ := newTestStore(t)
	token, err := store.Issue(context.Background(), "u1")
	require.NoError(t, err)

	handler := Middleware(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(userID))
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + token, http.StatusOK, "u1"},
		{"missing header", "", http.StatusUnauthorized, `{"error":"unauthorized"}`},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, `{"error":"unauthorized"}`},
		{"unknown token", "Bearer other", http.StatusUnauthorized, `{"error":"unauthorized"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/turns", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}
