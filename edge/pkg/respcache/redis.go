package respcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "assets:edge:v1:"

// Redis shares the cache between edge instances. Redis failures are logged and treated as a miss,
// the cache never fails a request.
type Redis struct {
	client   *redis.Client
	ttl      time.Duration
	maxBytes int64
	log      *zap.Logger
}

// NewRedis connects to the server at url (redis://[:password@]host:port/db) and verifies the
// connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration, maxEntryBytes int64, log *zap.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to connect to redis at %s: %w", opt.Addr, err)
	}
	return &Redis{
		client:   client,
		ttl:      ttl,
		maxBytes: maxEntryBytes,
		log:      log.With(zap.String("component", "respcache")),
	}, nil
}

func redisKey(requestKey string) string {
	return redisKeyPrefix + requestKey
}

func (c *Redis) Get(ctx context.Context, requestKey string) (*Entry, bool) {
	data, err := c.client.Get(ctx, redisKey(requestKey)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("unable to read cache entry", zap.String("key", requestKey), zap.Error(err))
		}
		return nil, false
	}
	e, err := decodeEntry(data)
	if err != nil {
		c.log.Warn("dropping corrupt cache entry", zap.String("key", requestKey), zap.Error(err))
		c.client.Del(ctx, redisKey(requestKey))
		return nil, false
	}
	return e, true
}

func (c *Redis) Add(ctx context.Context, requestKey string, e *Entry) {
	if c.maxBytes > 0 && int64(len(e.Body)) > c.maxBytes {
		return
	}
	data, err := encodeEntry(e)
	if err != nil {
		c.log.Warn("unable to encode cache entry", zap.String("key", requestKey), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, redisKey(requestKey), data, c.ttl).Err(); err != nil {
		c.log.Warn("unable to write cache entry", zap.String("key", requestKey), zap.Error(err))
	}
}

func (c *Redis) Close() error {
	return c.client.Close()
}

// Open returns the cache selected by cfg and a function releasing it.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (Cache, func() error, error) {
	if cfg.RedisURL != "" {
		c, err := NewRedis(ctx, cfg.RedisURL, cfg.TTL, cfg.MaxEntryBytes, log)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	if cfg.Size <= 0 {
		return Nop{}, func() error { return nil }, nil
	}
	return NewLRU(cfg.Size, cfg.TTL, cfg.MaxEntryBytes), func() error { return nil }, nil
}
