package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/galleria/internal/apperr"
)

// Redis is a Store backed by Redis; every Set refreshes the entry TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: connect to redis: %w", err)
	}
	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: "galleria:session:", ttl: ttl}
}

func (r *Redis) key(sessionID, key string) string {
	return r.prefix + sessionID + ":" + key
}

func (r *Redis) Get(ctx context.Context, sessionID, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session: get %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, sessionID, key, value string) error {
	if err := r.client.Set(ctx, r.key(sessionID, key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, sessionID, key string) error {
	if err := r.client.Del(ctx, r.key(sessionID, key)).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
