package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Heartbeat is the last time a printer polled, and over which protocol.
type Heartbeat struct {
	Protocol string    `json:"protocol"`
	SeenAt   time.Time `json:"seen_at"`
}

// Window is the state of a fixed rate-limit window after one request was counted.
type Window struct {
	Count   int64
	ResetIn time.Duration
}

// Cache is the Redis-backed state shared by every server instance.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	CountRequest(ctx context.Context, subject string, window time.Duration) (Window, error)
	SetPrinterSeen(ctx context.Context, printerID string, hb Heartbeat, ttl time.Duration) error
	GetPrinterSeen(ctx context.Context, printerID string) (*Heartbeat, bool, error)
}

// RedisCache implements Cache using go-redis/v9.
type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts), now: time.Now}, nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CountRequest adds one request for subject to the current fixed window.
// Windows are aligned to multiples of window since the Unix epoch, so every
// instance counts into the same key.
func (c *RedisCache) CountRequest(ctx context.Context, subject string, window time.Duration) (Window, error) {
	if window <= 0 {
		return Window{}, fmt.Errorf("rate limit window must be positive, got %s", window)
	}
	now := c.now()
	start := now.Truncate(window)
	key := RateLimitKey(subject, start.Unix())

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Window{}, err
	}
	return Window{Count: incr.Val(), ResetIn: start.Add(window).Sub(now)}, nil
}

// SetPrinterSeen stores hb as a hash that expires after ttl.
func (c *RedisCache) SetPrinterSeen(ctx context.Context, printerID string, hb Heartbeat, ttl time.Duration) error {
	key := PrinterSeenKey(printerID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, "protocol", hb.Protocol, "seen_at", hb.SeenAt.UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) GetPrinterSeen(ctx context.Context, printerID string) (*Heartbeat, bool, error) {
	vals, err := c.client.HGetAll(ctx, PrinterSeenKey(printerID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	seen, err := time.Parse(time.RFC3339Nano, vals["seen_at"])
	if err != nil {
		return nil, false, fmt.Errorf("parse heartbeat time: %w", err)
	}
	return &Heartbeat{Protocol: vals["protocol"], SeenAt: seen}, true, nil
}

var _ Cache = (*RedisCache)(nil)
