package objstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/portfolio-assets/assets-go/common/configmgr"
)

const (
	TypeR2    = "r2"
	TypeS3    = "s3"
	TypeLocal = "local"
)

type Config struct {
	Type            string `mapstructure:"type"`
	Bucket          string `mapstructure:"bucket"`
	AccountID       string `mapstructure:"account-id"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access-key-id"`
	SecretAccessKey string `mapstructure:"secret-access-key"`
	LocalPath       string `mapstructure:"local-path"`
}

// Validate checks the credentials and bucket identity required by the configured backend.
func (c Config) Validate() error {
	var missing []string
	require := func(value, name string) {
		if value == "" {
			missing = append(missing, name)
		}
	}
	switch c.Type {
	case TypeR2:
		require(c.AccountID, "account-id")
		require(c.AccessKeyID, "access-key-id")
		require(c.SecretAccessKey, "secret-access-key")
		require(c.Bucket, "bucket")
	case TypeS3:
		require(c.AccessKeyID, "access-key-id")
		require(c.SecretAccessKey, "secret-access-key")
		require(c.Bucket, "bucket")
	case TypeLocal:
		require(c.LocalPath, "local-path")
	default:
		return fmt.Errorf("%w: unknown store type %q (valid types: %s, %s, %s)", configmgr.ErrConfiguration, c.Type, TypeR2, TypeS3, TypeLocal)
	}
	if len(missing) != 0 {
		return fmt.Errorf("%w: store type %q requires %s", configmgr.ErrConfiguration, c.Type, strings.Join(missing, ", "))
	}
	return nil
}

// R2Endpoint returns the S3 API endpoint of a Cloudflare account.
func R2Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}

// Open validates cfg and connects to the configured backend. The returned close function must be
// called once the store is no longer needed.
func Open(ctx context.Context, cfg Config) (Store, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	noop := func() error { return nil }
	switch cfg.Type {
	case TypeLocal:
		store, err := NewBadgerStore(cfg.LocalPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case TypeR2:
		store, err := NewS3Store(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Endpoint:        R2Endpoint(cfg.AccountID),
			Region:          "auto",
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	default:
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		store, err := NewS3Store(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Endpoint:        cfg.Endpoint,
			Region:          region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.Endpoint != "",
		})
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
}
