package objstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max-tries"`
	InitialInterval time.Duration `mapstructure:"initial-interval"`
	MaxInterval     time.Duration `mapstructure:"max-interval"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Retrying retries operations that failed with ErrTransient using exponential backoff. Other
// errors, including ErrNotFound, are returned immediately.
type Retrying struct {
	store Store
	cfg   RetryConfig
	log   *zap.Logger
}

func NewRetrying(store Store, cfg RetryConfig, log *zap.Logger) *Retrying {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	return &Retrying{
		store: store,
		cfg:   cfg,
		log:   log.With(zap.String("component", "objstore")),
	}
}

func (r *Retrying) options(op string, key string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Debug("retrying object store operation", zap.String("op", op), zap.String("key", key), zap.Duration("next", next), zap.Error(err))
		}),
	}
}

func permanentUnlessTransient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return backoff.Permanent(err)
}

func (r *Retrying) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, permanentUnlessTransient(r.store.Put(ctx, key, data, opts))
	}, r.options("put", key)...)
	return err
}

func (r *Retrying) Get(ctx context.Context, key string) (*Object, error) {
	return backoff.Retry(ctx, func() (*Object, error) {
		obj, err := r.store.Get(ctx, key)
		return obj, permanentUnlessTransient(err)
	}, r.options("get", key)...)
}

func (r *Retrying) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	return backoff.Retry(ctx, func() (*ObjectInfo, error) {
		info, err := r.store.Head(ctx, key)
		return info, permanentUnlessTransient(err)
	}, r.options("head", key)...)
}

func (r *Retrying) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return backoff.Retry(ctx, func() ([]ObjectInfo, error) {
		infos, err := r.store.List(ctx, prefix)
		return infos, permanentUnlessTransient(err)
	}, r.options("list", prefix)...)
}
