// Package config holds the global configuration of assetctl. Flags, environment variables and
// the .env file are bound to viper by the frontend (see ctl/internal/config), backends only read
// the resulting values through the keys and helpers defined here.
package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dsnet/golib/unitconv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/common/configmgr"
	"github.com/portfolio-assets/assets-go/common/logger"
	"github.com/portfolio-assets/assets-go/common/objstore"
	pipelinecfg "github.com/portfolio-assets/assets-go/pipeline/pkg/config"
)

// Global keys. Each is also the name of a persistent flag and, prefixed with ASSETS_, the name of
// an environment variable.
const (
	DebugKey         = "debug"
	RawKey           = "raw"
	NumWorkersKey    = "num-workers"
	LogLevelKey      = "log-level"
	LogDeveloperKey  = "log-developer"
	ColumnsKey       = "columns"
	PageSizeKey      = "page-size"
	OutputKey        = "output"
	DisableEmojisKey = "disable-emojis"

	ConfigFileKey   = "config"
	ManifestKey     = "manifest"
	StorageLimitKey = "storage-limit"

	StoreTypeKey      = "store-type"
	StoreBucketKey    = "bucket"
	StoreAccountIDKey = "account-id"
	StoreEndpointKey  = "endpoint"
	StoreRegionKey    = "region"
	StoreAccessKeyKey = "access-key-id"
	StoreSecretKeyKey = "secret-access-key"
	LocalStorePathKey = "local-store-path"
	RetryMaxTriesKey  = "retry-max-tries"
)

// Alternative environment variables for the R2 credentials. These are the names used in the .env
// file of the site repository.
var StoreEnvAliases = map[string]string{
	StoreAccountIDKey: "CF_ACCOUNT_ID",
	StoreAccessKeyKey: "R2_ACCESS_KEY_ID",
	StoreSecretKeyKey: "R2_SECRET_ACCESS_KEY",
	StoreBucketKey:    "R2_BUCKET_NAME",
}

type OutputType string

const (
	OutputTable      OutputType = "table"
	OutputJSON       OutputType = "json"
	OutputJSONPretty OutputType = "json-pretty"
	OutputNDJSON     OutputType = "ndjson"
)

func (o OutputType) String() string {
	return string(o)
}

var (
	logMu  sync.Mutex
	global *logger.Logger
)

// GetLogger returns the process wide logger, creating it on first use. By default only fatal
// errors are logged to stderr. If the logger cannot be created a no-op logger is returned along
// with the error so callers can always log.
func GetLogger() (*zap.Logger, error) {
	logMu.Lock()
	defer logMu.Unlock()
	if global != nil {
		return global.Logger, nil
	}
	l, err := logger.New(logger.Config{
		Type:      logger.StdErr,
		Level:     int8(viper.GetInt(LogLevelKey)),
		Developer: viper.GetBool(LogDeveloperKey),
	})
	if err != nil {
		return zap.NewNop(), err
	}
	global = l
	return global.Logger, nil
}

// Cleanup flushes the logger. It should be deferred by main.
func Cleanup() {
	logMu.Lock()
	defer logMu.Unlock()
	if global != nil {
		global.Sync()
		global = nil
	}
}

// ProcessingConfig loads the processing configuration file (assets.yaml by default).
func ProcessingConfig(fsys afero.Fs) (pipelinecfg.Processing, error) {
	return pipelinecfg.Load(fsys, viper.GetString(ConfigFileKey))
}

// StorageLimit parses the configured storage limit. Both SI and IEC prefixes are accepted and a
// trailing "B" is optional, for example "10GiB", "10Gi" or "500M".
func StorageLimit() (int64, error) {
	return ParseBytes(viper.GetString(StorageLimitKey))
}

func ParseBytes(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimSuffix(strings.TrimSuffix(trimmed, "B"), "b")
	if base, ok := strings.CutSuffix(trimmed, "K"); ok {
		trimmed = base + "k"
	}
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty byte quantity", configmgr.ErrConfiguration)
	}
	v, err := unitconv.ParsePrefix(trimmed, unitconv.AutoParse)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid byte quantity %q: %w", configmgr.ErrConfiguration, s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: byte quantity %q must not be negative", configmgr.ErrConfiguration, s)
	}
	return int64(v), nil
}

func StoreConfig() objstore.Config {
	return objstore.Config{
		Type:            viper.GetString(StoreTypeKey),
		Bucket:          viper.GetString(StoreBucketKey),
		AccountID:       viper.GetString(StoreAccountIDKey),
		Endpoint:        viper.GetString(StoreEndpointKey),
		Region:          viper.GetString(StoreRegionKey),
		AccessKeyID:     viper.GetString(StoreAccessKeyKey),
		SecretAccessKey: viper.GetString(StoreSecretKeyKey),
		LocalPath:       viper.GetString(LocalStorePathKey),
	}
}

// OpenStore connects to the configured object store. Transient failures are retried up to
// --retry-max-tries times. The returned close function must be called when done.
func OpenStore(ctx context.Context) (objstore.Store, func() error, error) {
	log, _ := GetLogger()
	store, closeStore, err := objstore.Open(ctx, StoreConfig())
	if err != nil {
		return nil, nil, err
	}
	retryCfg := objstore.DefaultRetryConfig()
	if tries := viper.GetUint(RetryMaxTriesKey); tries != 0 {
		retryCfg.MaxTries = tries
	}
	return objstore.NewRetrying(store, retryCfg, log), closeStore, nil
}
