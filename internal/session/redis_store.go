// Package session stores OAuth state, refresh sessions and revoked access
// tokens in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateTTL = 10 * time.Minute

var (
	ErrSessionNotFound = errors.New("session not found or expired")
	ErrStateNotFound   = errors.New("oauth state not found or expired")
)

// TokenData holds the data stored for each refresh token
type TokenData struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisStore keeps auth state in Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "codex:",
	}
}

func (s *RedisStore) refreshKey(tokenHash string) string {
	return s.prefix + "refresh:" + tokenHash
}

func (s *RedisStore) stateKey(state string) string {
	return s.prefix + "oauth_state:" + state
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + "revoked:" + jti
}

// SaveState remembers an OAuth state value for ten minutes.
func (s *RedisStore) SaveState(ctx context.Context, state string) error {
	if err := s.client.Set(ctx, s.stateKey(state), "1", stateTTL).Err(); err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// ConsumeState deletes state and reports whether it was valid. A state can
// be consumed only once.
func (s *RedisStore) ConsumeState(ctx context.Context, state string) error {
	err := s.client.GetDel(ctx, s.stateKey(state)).Err()
	if errors.Is(err, redis.Nil) {
		return ErrStateNotFound
	}
	if err != nil {
		return fmt.Errorf("consume oauth state: %w", err)
	}
	return nil
}

// SaveRefreshSession stores a refresh token with expiration
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, data TokenData, expiresAt time.Time) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.refreshKey(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession retrieves the data stored for a refresh token
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (TokenData, error) {
	jsonData, err := s.client.Get(ctx, s.refreshKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return TokenData{}, ErrSessionNotFound
	}
	if err != nil {
		return TokenData{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return TokenData{}, fmt.Errorf("unmarshal token data: %w", err)
	}
	if data.Role == "" {
		data.Role = "viewer"
	}
	return data, nil
}

// RevokeRefreshSession deletes a refresh token
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.refreshKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAccessToken blocks an access token id until it would have expired.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
