package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps artifacts in redis; expiry is delegated to the server via
// per-key TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// Put stores the blob and returns its handle.
func (s *RedisStore) Put(ctx context.Context, contentType string, data []byte) (string, error) {
	art := &Artifact{
		Handle:      NewHandle(),
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(art)
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}
	if err := s.client.Set(ctx, art.Handle, encoded, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return art.Handle, nil
}

// Get retrieves a blob by handle.
func (s *RedisStore) Get(ctx context.Context, handle string) (*Artifact, error) {
	if !IsHandle(handle) {
		return nil, ErrBadHandle
	}
	encoded, err := s.client.Get(ctx, handle).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(encoded, &art); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &art, nil
}

// Delete removes a blob.
func (s *RedisStore) Delete(ctx context.Context, handle string) error {
	if err := s.client.Del(ctx, handle).Err(); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
