package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/common/configmgr"
	"github.com/portfolio-assets/assets-go/common/logger"
	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/edge/internal/config"
	"github.com/portfolio-assets/assets-go/edge/internal/server"
	"github.com/portfolio-assets/assets-go/edge/pkg/resolver"
	"github.com/portfolio-assets/assets-go/edge/pkg/respcache"
)

const (
	envVarPrefix = "ASSETS_EDGE_"
)

// Set by the build process using ldflags.
var (
	binaryName = "unknown"
	version    = "unknown"
	commit     = "unknown"
	buildTime  = "unknown"
)

func main() {
	defaults := resolver.DefaultConfig()
	cacheDefaults := respcache.DefaultConfig()

	pflag.Bool("version", false, "Print the version then exit.")
	pflag.String(configmgr.CfgFileKey, "/etc/assets/edge.toml", "The path to a configuration file (can be omitted to set all configuration using flags and/or environment variables). Resolver settings in this file can be updated without a restart by sending SIGHUP.")
	pflag.String("log.type", "stderr", "Where log messages should be sent ('stderr', 'stdout', 'logfile').")
	pflag.String("log.file", "/var/log/assets/edge.log", "The path to the desired log file when log.type is 'logfile' (if needed the directory and all parent directories will be created).")
	pflag.Int8("log.level", 3, "Adjust the logging level (0=Fatal, 1=Error, 2=Warn, 3=Info, 4+5=Debug).")
	pflag.Int("log.max-size", 1000, "When log.type is 'logfile' the maximum size of the log.file in megabytes before it is rotated.")
	pflag.Int("log.num-rotated-files", 5, "When log.type is 'logfile' the maximum number old log.file(s) to keep when log.max-size is reached and the log is rotated.")
	pflag.Bool("log.developer", false, "Enable developer logging including stack traces and setting the equivalent of log.level=5 and log.type=stdout (all other log settings are ignored).")
	pflag.String("server.address", "0.0.0.0:8080", "The hostname:port where images are served.")
	pflag.Duration("server.read-header-timeout", 0, "Maximum time to read request headers (0 means no timeout).")
	pflag.Duration("server.write-timeout", 0, "Maximum time to write a response (0 means no timeout).")
	pflag.Duration("server.shutdown-timeout", 0, "Maximum time to wait for in-flight requests on shutdown (0 uses the default of 10s).")
	pflag.String("store.type", objstore.TypeR2, "The object store backend ('r2', 's3', 'local').")
	pflag.String("store.bucket", "", "The bucket variants are served from.")
	pflag.String("store.account-id", "", "The Cloudflare account ID (store.type 'r2').")
	pflag.String("store.endpoint", "", "A custom S3 endpoint (store.type 's3').")
	pflag.String("store.region", "", "The S3 region (store.type 's3').")
	pflag.String("store.access-key-id", "", "The access key ID of the bucket.")
	pflag.String("store.secret-access-key", "", "The secret access key of the bucket.")
	pflag.String("store.local-path", "", "The directory of the local development store (store.type 'local').")
	pflag.IntSlice("resolver.widths", defaults.Widths, "The widths variants were rendered at.")
	pflag.StringSlice("resolver.formats", defaults.Formats, "Variant formats in preference order, most efficient first.")
	pflag.Int("resolver.default-width", defaults.DefaultWidth, "The width served for unsized requests without a width hint.")
	pflag.Int("cache.size", cacheDefaults.Size, "The number of responses cached in memory (0 disables the cache).")
	pflag.Duration("cache.ttl", cacheDefaults.TTL, "How long a cached response is reused.")
	pflag.Int64("cache.max-entry-bytes", cacheDefaults.MaxEntryBytes, "Responses larger than this are not cached.")
	pflag.String("cache.redis-url", "", "Use a shared Redis cache (redis://[:password@]host:port/db) instead of the in-memory cache.")
	pflag.Bool("developer.dump-config", false, "Dump the full configuration and immediately exit.")
	pflag.CommandLine.MarkHidden("developer.dump-config")
	pflag.CommandLine.SortFlags = false
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
		helpText := `
Further info:
	Configuration may be set using a mix of flags, environment variables, and values from a TOML configuration file.
	Configuration will be merged using the following precedence order (highest->lowest): (1) flags (2) environment variables (3) configuration file (4) defaults.
Using environment variables:
	To specify configuration using environment variables specify %sKEY=VALUE where KEY is the flag name you want to specify in all capitals replacing dots (.) with a double underscore (__) and hyphens (-) with an underscore (_).
	Examples:
	export %sSTORE__SECRET_ACCESS_KEY=...
`
		fmt.Fprintf(os.Stderr, helpText, envVarPrefix, envVarPrefix)
		os.Exit(0)
	}
	pflag.Parse()

	if printVersion, _ := pflag.CommandLine.GetBool("version"); printVersion {
		fmt.Printf("%s %s (commit: %s, built: %s)\n", binaryName, version, commit, buildTime)
		os.Exit(0)
	}

	cfgMgr, err := configmgr.New(pflag.CommandLine, envVarPrefix, &config.AppConfig{})
	if err != nil {
		log.Fatalf("unable to get initial configuration: %s", err)
	}
	c := cfgMgr.Get()
	initialCfg, ok := c.(*config.AppConfig)
	if !ok {
		log.Fatalf("configuration manager returned invalid configuration (expected edge application configuration)")
	}
	if initialCfg.Developer.DumpConfig {
		fmt.Printf("Dumping AppConfig and exiting...\n\n")
		fmt.Printf("%+v\n", initialCfg)
		os.Exit(0)
	}

	logger, err := logger.New(initialCfg.Log)
	if err != nil {
		log.Fatalf("unable to initialize logger: %s", err)
	}
	defer logger.Sync()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, closeStore, err := objstore.Open(ctx, initialCfg.Store)
	if err != nil {
		logger.Fatal("unable to open object store", zap.Error(err))
	}
	defer closeStore()
	instrumented, err := objstore.NewInstrumented(store, registry)
	if err != nil {
		logger.Fatal("unable to register object store metrics", zap.Error(err))
	}

	cache, closeCache, err := respcache.Open(ctx, initialCfg.Cache, logger.Logger)
	if err != nil {
		logger.Fatal("unable to initialize response cache", zap.Error(err))
	}
	defer closeCache()

	res, err := resolver.New(instrumented, initialCfg.Resolver, logger.Logger)
	if err != nil {
		logger.Fatal("unable to initialize resolver", zap.Error(err))
	}
	cfgMgr.AddListener(res)

	edgeServer, err := server.New(logger.Logger, initialCfg.Server, res, cache, registry)
	if err != nil {
		logger.Fatal("unable to initialize HTTP server", zap.Error(err))
	}

	errChan := make(chan error, 2)
	edgeServer.ListenAndServe(errChan)
	go cfgMgr.Manage(ctx, logger.Logger)

	select {
	case err := <-errChan:
		logger.Error("component terminated unexpectedly", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}
	cancel()
	edgeServer.Stop()
	logger.Info("shutdown all components, exiting")
}
