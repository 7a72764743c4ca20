// Package querycache implements the tenant-scoped, versioned
// read-through cache (C7) against Redis, and a NoopCache fallback so
// callers never special-case REDIS_ENABLED=false.
package querycache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the versioned query-result cache the Query Executor (C4) and
// Write Pipeline (C5) depend on. Every operation is best-effort: a
// failure is logged by the implementation and treated as a miss/no-op,
// never surfaced as an error to the request path.
type Cache interface {
	Version(ctx context.Context, tenantID string) (int64, error)
	Get(ctx context.Context, tenantID string, version int64, sqlHash string) (payload []byte, hit bool)
	Set(ctx context.Context, tenantID string, version int64, sqlHash string, payload []byte) error
	IncrVersion(ctx context.Context, tenantID string) (int64, error)
}

// HashQuery returns a stable hex digest of a normalized SQL statement,
// used as the cache key's leaf segment.
func HashQuery(normalizedSQL string) string {
	sum := sha256.Sum256([]byte(normalizedSQL))
	return hex.EncodeToString(sum[:])[:16]
}

// NoopCache is returned when the cache is disabled. Version always
// reports 0, Get always misses, Set and IncrVersion are no-ops.
type NoopCache struct{}

func (NoopCache) Version(context.Context, string) (int64, error) { return 0, nil }
func (NoopCache) Get(context.Context, string, int64, string) ([]byte, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, int64, string, []byte) error  { return nil }
func (NoopCache) IncrVersion(context.Context, string) (int64, error)        { return 0, nil }

// RedisCache is the production Cache, backed by github.com/redis/go-redis/v9.
type RedisCache struct {
	client      *redis.Client
	ttl         time.Duration
	maxValueLen int
	onError     func(op string, err error)
}

// Config holds the Redis connection parameters, mirroring the
// REDIS_* configuration keys.
type Config struct {
	Host              string
	Port              int
	TLS               bool
	AuthToken         string
	TTL               time.Duration
	ConnectTimeout    time.Duration
	SocketTimeout     time.Duration
	MaxValueBytes     int
}

// New constructs a RedisCache. onError, when non-nil, is invoked on every
// best-effort operation failure (wired to log/slog by the caller); it
// must never be used to propagate an error back to the request path.
func New(cfg Config, onError func(op string, err error)) *RedisCache {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.AuthToken,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.SocketTimeout,
		WriteTimeout: cfg.SocketTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsConfig()
	}
	if onError == nil {
		onError = func(string, error) {}
	}
	return &RedisCache{
		client:      redis.NewClient(opts),
		ttl:         cfg.TTL,
		maxValueLen: cfg.MaxValueBytes,
		onError:     onError,
	}
}

func tlsConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func versionKey(tenantID string) string {
	return fmt.Sprintf("tenant/%s/ver", tenantID)
}

func payloadKey(tenantID string, version int64, sqlHash string) string {
	return fmt.Sprintf("tenant/%s/v%d/q/%s", tenantID, version, sqlHash)
}

func (c *RedisCache) Version(ctx context.Context, tenantID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(tenantID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		c.onError("version", err)
		return 0, nil
	}
	return v, nil
}

func (c *RedisCache) Get(ctx context.Context, tenantID string, version int64, sqlHash string) ([]byte, bool) {
	b, err := c.client.Get(ctx, payloadKey(tenantID, version, sqlHash)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.onError("get", err)
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, tenantID string, version int64, sqlHash string, payload []byte) error {
	if c.maxValueLen > 0 && len(payload) > c.maxValueLen {
		// Too large to cache: dropped, reported through onError, not an error.
		c.onError("set", fmt.Errorf("payload of %d bytes exceeds max %d, not cached", len(payload), c.maxValueLen))
		return nil
	}
	if err := c.client.SetEx(ctx, payloadKey(tenantID, version, sqlHash), payload, c.ttl).Err(); err != nil {
		c.onError("set", err)
	}
	return nil
}

func (c *RedisCache) IncrVersion(ctx context.Context, tenantID string) (int64, error) {
	v, err := c.client.Incr(ctx, versionKey(tenantID)).Result()
	if err != nil {
		c.onError("incr_version", err)
		return 0, nil
	}
	return v, nil
}

// Close releases the underlying Redis connection pool.
func (c *RedisCache) Close() error { return c.client.Close() }

// NormalizeSQL collapses whitespace and trims a trailing statement
// separator, matching the executor's cache-key normalization.
func NormalizeSQL(sql string) string {
	return strings.TrimSuffix(strings.Join(strings.Fields(sql), " "), ";")
}

// IsCacheable reports whether a normalized statement is a read that may
// be served from cache: case-insensitively starting with SELECT or WITH.
func IsCacheable(normalizedSQL string) bool {
	lower := strings.ToLower(normalizedSQL)
	return strings.HasPrefix(lower, "select") || strings.HasPrefix(lower, "with")
}
