// Package auth issues opaque bearer tokens bound to a user ID.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultTokenTTL = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid or expired token")

type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore connects to Redis and checks the connection
func NewTokenStore(redisURL string, ttl time.Duration) (*TokenStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewTokenStoreWithClient(client, ttl), nil
}

func NewTokenStoreWithClient(client *redis.Client, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{client: client, ttl: ttl}
}

func (s *TokenStore) tokenKey(token string) string {
	return fmt.Sprintf("token:%s", token)
}

func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

func (s *TokenStore) Issue(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}

	token := uuid.New().String()
	if err := s.client.Set(ctx, s.tokenKey(token), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}

// Resolve returns the user the token was issued to
func (s *TokenStore) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	userID, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if err == redis.Nil {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return userID, nil
}

func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (s *TokenStore) Close() error {
	return s.client.Close()
}

type contextKey struct{}

// UserFromContext returns the user resolved by Middleware
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok
}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware rejects requests without a valid bearer token
func Middleware(store *TokenStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := store.Resolve(r.Context(), bearerToken(r))
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) {
					logger.Error("Failed to resolve token", zap.Error(err))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}
