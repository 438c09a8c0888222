// Package redis implements the shared listing cache on top of Redis.
//
// Listings of the object store (folders of a course, files of a folder, media
// assets) are cached under a namespaced key with a fixed TTL, so every bot
// replica sees the same view of the bucket.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/estudia/material-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// URL takes precedence over the discrete fields when set.
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TTL is how long a listing stays cached.
	TTL time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		TTL:          TTLListing,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if c.PoolSize > 0 {
			opts.PoolSize = c.PoolSize
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS, KEYS, TTLs
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss is returned when the requested key is not found in cache.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when serialization/deserialization fails.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// PrefixListing namespaces every listing key.
const PrefixListing = "listing:"

// TTLListing is the default listing TTL. Uploads show up after at most this long.
const TTLListing = 24 * time.Hour

// ListingKey generates the cache key for a storage prefix.
func ListingKey(prefix string) string {
	return PrefixListing + prefix
}

// ══════════════════════════════════════════════════════════════════════════════
// LISTING CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache stores string lists as JSON with a fixed TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewCache connects to Redis and verifies the connection.
func NewCache(cfg Config, log *logger.Logger) (*Cache, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return newCache(client, cfg.TTL, log), nil
}

func newCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = TTLListing
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{client: client, ttl: ttl, log: log.With(logger.Component("redis_cache"))}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached listing. Any failure counts as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]string, bool) {
	value, err := c.GetList(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn("cache read failed", logger.String("key", key), logger.Err(err))
		}
		return nil, false
	}
	return value, true
}

// Set caches a listing. Failures are logged.
func (c *Cache) Set(ctx context.Context, key string, value []string) {
	if err := c.SetList(ctx, key, value); err != nil {
		c.log.Warn("cache write failed", logger.String("key", key), logger.Err(err))
	}
}

// GetList retrieves a listing or ErrCacheMiss.
func (c *Cache) GetList(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, ErrCacheKeyEmpty
	}

	data, err := c.client.Get(ctx, ListingKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return decodeList(data)
}

// SetList stores a listing with the configured TTL.
func (c *Cache) SetList(ctx context.Context, key string, value []string) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := encodeList(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ListingKey(key), data, c.ttl).Err()
}

// Invalidate drops every listing under a storage prefix, e.g. after an upload.
func (c *Cache) Invalidate(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, ListingKey(prefix)+"*", 100).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

func encodeList(value []string) ([]byte, error) {
	if value == nil {
		value = []string{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return data, nil
}

func decodeList(data []byte) ([]string, error) {
	var value []string
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	if value == nil {
		value = []string{}
	}
	return value, nil
}
