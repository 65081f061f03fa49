package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"x402-delegation/backend/internal/payment/domain"
)

const (
	// KeyPrefix namespaces verification keys.
	KeyPrefix = "x402:verification:"
	// ClaimPrefix namespaces redeemed-transaction keys.
	ClaimPrefix = "x402:redeemed:"
)

// Redis is a Cache shared between replicas. Entries expire server-side after the TTL.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedis returns a Redis-backed cache.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Dial parses url, pings the server and returns a client.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (r *Redis) Get(ctx context.Context, transactionID string) (*domain.Verification, bool, error) {
	b, err := r.client.Get(ctx, KeyPrefix+transactionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v domain.Verification
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

func (r *Redis) Put(ctx context.Context, v *domain.Verification) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, KeyPrefix+v.TransactionID, b, r.ttl).Err()
}

// Claim sets the redemption key only if it is absent, so exactly one replica wins.
func (r *Redis) Claim(ctx context.Context, transactionID string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, ClaimPrefix+transactionID, 1, ttl).Result()
}
