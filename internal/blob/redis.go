package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/anchor/internal/sentinel"
)

const redisKeyPrefix = "anchor:blob:"

// Redis stores blobs in a Redis instance keyed by CID.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis instance at url.
// Returns an error if the URL is malformed or the server does not answer PING.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Put stores data under its CID. SETNX keeps the first write; content
// addressing makes any later write identical anyway.
func (r *Redis) Put(ctx context.Context, data []byte) (CID, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	if err := r.client.SetNX(ctx, redisKeyPrefix+string(c), data, 0).Err(); err != nil {
		return "", fmt.Errorf("put blob %s: %w: %v", c, sentinel.ErrUnavailable, err)
	}
	return c, nil
}

// Get fetches the blob and verifies it against c before returning it.
func (r *Redis) Get(ctx context.Context, c CID) ([]byte, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+string(c)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get blob %s: %w", c, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w: %v", c, sentinel.ErrUnavailable, err)
	}
	if err := Verify(c, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Health checks if the Redis connection is healthy.
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
