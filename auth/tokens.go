package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshNotFound signals that no refresh token is stored for the user.
var ErrRefreshNotFound = errors.New("auth: refresh token not found")

// TokenStore persists opaque refresh tokens keyed by user.
type TokenStore interface {
	Save(ctx context.Context, userID, token string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

// RedisTokenStore implements TokenStore on redis. Tokens expire with the
// store entry, so logout-by-timeout needs no sweeper.
type RedisTokenStore struct {
	client *redis.Client
}

// NewRedisTokenStore wraps an existing redis client.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func refreshKey(userID string) string {
	return "refresh:" + userID
}

// Save stores the user's refresh token, replacing any previous one.
func (s *RedisTokenStore) Save(ctx context.Context, userID, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, refreshKey(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("auth: store refresh token: %w", err)
	}
	return nil
}

// Get returns the user's current refresh token.
func (s *RedisTokenStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.client.Get(ctx, refreshKey(userID)).Result()
	if err == redis.Nil {
		return "", ErrRefreshNotFound
	}
	if err != nil {
		return "", fmt.Errorf("auth: get refresh token: %w", err)
	}
	return token, nil
}

// Delete removes the user's refresh token.
func (s *RedisTokenStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, refreshKey(userID)).Err(); err != nil {
		return fmt.Errorf("auth: delete refresh token: %w", err)
	}
	return nil
}
