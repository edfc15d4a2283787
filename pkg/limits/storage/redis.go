package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultBucketTTL keeps minute buckets long enough to cover the day window.
const DefaultBucketTTL = 25 * time.Hour

// incrementIfBelowScript increments KEYS[1] unless it already reached ARGV[1].
// The first increment sets the expiry so buckets age out without a pruner.
var incrementIfBelowScript = redis.NewScript(`
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current >= limit then
		return {0, current}
	end

	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ttl)
	end
	return {1, count}
`)

// RedisOptions configures Redis-backed stores.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key. Default: "gatekeeper:"
	KeyPrefix string

	// BucketTTL is the expiry of usage buckets. Default: 25 hours
	BucketTTL time.Duration
}

// NewRedisClient opens a client and verifies the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisUsageLedger implements UsageLedger with one Redis string per minute bucket.
// Buckets expire on their own, so PruneBuckets has nothing to do.
type RedisUsageLedger struct {
	client    redis.UniversalClient
	prefix    string
	bucketTTL time.Duration
}

// NewRedisUsageLedger creates a usage ledger on an existing client.
func NewRedisUsageLedger(client redis.UniversalClient, opts RedisOptions) *RedisUsageLedger {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "gatekeeper:"
	}
	if opts.BucketTTL <= 0 {
		opts.BucketTTL = DefaultBucketTTL
	}
	return &RedisUsageLedger{client: client, prefix: opts.KeyPrefix, bucketTTL: opts.BucketTTL}
}

// bucketKey hash-tags the series so every minute key of it maps to one cluster
// slot and SumCalls can read them in a single MGET.
func (r *RedisUsageLedger) bucketKey(series SeriesKey, windowStart time.Time) string {
	return fmt.Sprintf("%susage:{%s:%s:%s}:%d",
		r.prefix, series.Environment, series.Endpoint, series.UserID, windowStart.Unix()/60)
}

// CountCalls implements UsageLedger.
func (r *RedisUsageLedger) CountCalls(ctx context.Context, key BucketKey) (int64, error) {
	n, err := r.client.Get(ctx, r.bucketKey(key.SeriesKey, key.WindowStart)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}
	return n, nil
}

// SumCalls implements UsageLedger. It reads every minute key of the range in one MGET.
func (r *RedisUsageLedger) SumCalls(ctx context.Context, series SeriesKey, from, to time.Time) (int64, error) {
	start := from.UTC().Truncate(time.Minute)
	if start.Before(from) {
		start = start.Add(time.Minute)
	}
	if start.After(to) {
		return 0, nil
	}

	var keys []string
	for w := start; !w.After(to); w = w.Add(time.Minute) {
		keys = append(keys, r.bucketKey(series, w))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to sum calls: %w", err)
	}

	var total int64
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt usage bucket value %q: %w", s, err)
		}
		total += n
	}
	return total, nil
}

// IncrementIfBelow implements UsageLedger.
func (r *RedisUsageLedger) IncrementIfBelow(ctx context.Context, key BucketKey, limit int64) (int64, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	res, err := incrementIfBelowScript.Run(ctx, r.client,
		[]string{r.bucketKey(key.SeriesKey, key.WindowStart)},
		limit, int64(r.bucketTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment bucket: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected increment script reply %v", res)
	}
	if res[0] == 0 {
		return 0, false, nil
	}
	return res[1], true, nil
}

// PruneBuckets implements UsageLedger. Keys expire by TTL, so it always reports 0.
func (r *RedisUsageLedger) PruneBuckets(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// Ping implements Pinger.
func (r *RedisUsageLedger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var _ UsageLedger = (*RedisUsageLedger)(nil)

// CachedConfigStore is a read-through Redis cache in front of a LimitConfigStore.
// Absent configurations are cached too. Writes go to the wrapped store and then
// invalidate the cached entry. When Redis fails, reads fall through to the store.
type CachedConfigStore struct {
	LimitConfigStore

	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type cachedConfig struct {
	Found  bool         `json:"found"`
	Config *LimitConfig `json:"config,omitempty"`
}

// NewCachedConfigStore wraps store. ttl defaults to 30 seconds.
func NewCachedConfigStore(store LimitConfigStore, client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *CachedConfigStore {
	if prefix == "" {
		prefix = "gatekeeper:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedConfigStore{
		LimitConfigStore: store,
		client:           client,
		prefix:           prefix,
		ttl:              ttl,
		logger:           logger,
	}
}

func (c *CachedConfigStore) cacheKey(env Environment, endpoint string) string {
	return fmt.Sprintf("%slimits:%s:%s", c.prefix, env, endpoint)
}

// GetLimitConfig implements LimitConfigStore.
func (c *CachedConfigStore) GetLimitConfig(ctx context.Context, env Environment, endpoint string) (*LimitConfig, error) {
	key := c.cacheKey(env, endpoint)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry cachedConfig
		if jsonErr := json.Unmarshal(data, &entry); jsonErr == nil {
			if !entry.Found {
				return nil, nil
			}
			return entry.Config, nil
		}
		c.logger.Warn("discarding corrupt cached limit config", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("limit config cache unavailable", "key", key, "error", err)
	}

	cfg, err := c.LimitConfigStore.GetLimitConfig(ctx, env, endpoint)
	if err != nil {
		return nil, err
	}

	entry, _ := json.Marshal(cachedConfig{Found: cfg != nil, Config: cfg})
	if err := c.client.Set(ctx, key, entry, c.ttl).Err(); err != nil {
		c.logger.Debug("failed to populate limit config cache", "key", key, "error", err)
	}
	return cfg, nil
}

// PutLimitConfig implements LimitConfigStore.
func (c *CachedConfigStore) PutLimitConfig(ctx context.Context, cfg LimitConfig) error {
	if err := c.LimitConfigStore.PutLimitConfig(ctx, cfg); err != nil {
		return err
	}
	c.invalidate(ctx, cfg.Environment, cfg.Endpoint)
	return nil
}

// DeleteLimitConfig implements LimitConfigStore.
func (c *CachedConfigStore) DeleteLimitConfig(ctx context.Context, env Environment, endpoint string) (bool, error) {
	existed, err := c.LimitConfigStore.DeleteLimitConfig(ctx, env, endpoint)
	if err != nil {
		return false, err
	}
	c.invalidate(ctx, env, endpoint)
	return existed, nil
}

func (c *CachedConfigStore) invalidate(ctx context.Context, env Environment, endpoint string) {
	if err := c.client.Del(ctx, c.cacheKey(env, endpoint)).Err(); err != nil {
		c.logger.Warn("failed to invalidate cached limit config",
			"environment", env, "endpoint", endpoint, "error", err)
	}
}

var _ LimitConfigStore = (*CachedConfigStore)(nil)
