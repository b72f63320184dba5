// Package cache provides a Redis-backed ledger.SummaryCache shared by
// every server process that points at the same database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/office-ledger/ledger"
)

// DefaultTTL bounds how long a summary survives a missed invalidation.
const DefaultTTL = 5 * time.Minute

const namespace = "office-ledger"

type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Options configures NewRedis.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedisWithClient(client, opts.TTL), nil
}

// NewRedisWithClient wraps an existing client (single node or cluster).
func NewRedisWithClient(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Close() error { return r.client.Close() }

func key(k string) string { return namespace + ":" + k }

func (r *Redis) Get(ctx context.Context, k string) (*ledger.Summary, bool, error) {
	raw, err := r.client.Get(ctx, key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var sum ledger.Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		// a summary written by an older schema is treated as a miss
		return nil, false, nil
	}
	return &sum, true, nil
}

func (r *Redis) Set(ctx context.Context, k string, sum *ledger.Summary) error {
	raw, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return r.client.Set(ctx, key(k), raw, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = key(k)
	}
	return r.client.Del(ctx, full...).Err()
}

var _ ledger.SummaryCache = (*Redis)(nil)
