package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "contractscan:batches:"

// Redis keeps manifests as JSON values in one hash per output table. Hash
// fields are Key.ID values.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to connString and verifies the server answers.
func NewRedis(ctx context.Context, connString string) (*Redis, error) {
	opts, err := redis.ParseURL(connString)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func redisKey(table string) string {
	return redisKeyPrefix + table
}

// Completed implements Ledger.
func (r *Redis) Completed(ctx context.Context, key Key) (bool, error) {
	ok, err := r.client.HExists(ctx, redisKey(key.Table), key.ID()).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists: %w", err)
	}

	return ok, nil
}

// MarkComplete implements Ledger.
func (r *Redis) MarkComplete(ctx context.Context, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	err = r.client.HSet(ctx, redisKey(m.Table), m.Key().ID(), data).Err()
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}

	return nil
}

// Forget removes the manifest for key so the batch runs again.
func (r *Redis) Forget(ctx context.Context, key Key) error {
	err := r.client.HDel(ctx, redisKey(key.Table), key.ID()).Err()
	if err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}

	return nil
}

// Close implements io.Closer.
func (r *Redis) Close() error {
	return r.client.Close()
}
