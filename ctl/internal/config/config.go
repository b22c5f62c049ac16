package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
	pipelinecfg "github.com/portfolio-assets/assets-go/pipeline/pkg/config"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/rules"
)

// This package handles the global command line tool config - the global flags, environment
// variable bindings and the .env file.

// Defines all the global flags and binds them to the backends config singleton
func InitGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(config.DebugKey, false, "Print additional details that are normally hidden.")

	cmd.PersistentFlags().Bool(config.RawKey, false, "Print raw values without SI or IEC prefixes (except durations).")

	cmd.PersistentFlags().Bool(config.DisableEmojisKey, false, "If emojis should be omitted throughout various output.")

	cmd.PersistentFlags().Int(config.NumWorkersKey, runtime.GOMAXPROCS(0), "The maximum number of workers to use when a command can complete work in parallel (default: number of CPUs).")

	cmd.PersistentFlags().String(config.ConfigFileKey, "assets.yaml", fmt.Sprintf(`The processing configuration (sizes, formats, quality and per extension rules). Defaults are used if the file does not exist.
	Extensions with a default rule: %s.`, strings.Join(rules.NewResolver(pipelinecfg.Default()).Extensions(), ", ")))

	cmd.PersistentFlags().String(config.ManifestKey, "public/assets-manifest.json", "Where the manifest of processed files is stored.")

	cmd.PersistentFlags().String(config.StorageLimitKey, "10GiB", "The storage limit of the bucket used to report usage (SI and IEC prefixes are supported).")

	cmd.PersistentFlags().String(config.StoreTypeKey, objstore.TypeR2, fmt.Sprintf(`The object store backend (%s, %s or %s).
	Use '%s' to publish into a local Badger database at --%s, for example to test the edge server offline.`,
		objstore.TypeR2, objstore.TypeS3, objstore.TypeLocal, objstore.TypeLocal, config.LocalStorePathKey))
	cmd.PersistentFlags().String(config.StoreBucketKey, "", fmt.Sprintf("The bucket name (env: %s).", config.StoreEnvAliases[config.StoreBucketKey]))
	cmd.PersistentFlags().String(config.StoreAccountIDKey, "", fmt.Sprintf("The Cloudflare account ID, used to derive the R2 endpoint (env: %s).", config.StoreEnvAliases[config.StoreAccountIDKey]))
	cmd.PersistentFlags().String(config.StoreEndpointKey, "", "A custom S3 endpoint (s3 store type only).")
	cmd.PersistentFlags().String(config.StoreRegionKey, "", "The S3 region (s3 store type only).")
	cmd.PersistentFlags().String(config.StoreAccessKeyKey, "", fmt.Sprintf("The access key ID (env: %s).", config.StoreEnvAliases[config.StoreAccessKeyKey]))
	cmd.PersistentFlags().String(config.StoreSecretKeyKey, "", fmt.Sprintf("The secret access key (env: %s). Prefer the environment over this flag.", config.StoreEnvAliases[config.StoreSecretKeyKey]))
	cmd.PersistentFlags().String(config.LocalStorePathKey, ".assets-store", "The directory of the local store.")
	cmd.PersistentFlags().Uint(config.RetryMaxTriesKey, 4, "How often object store requests failing with transient errors are tried.")

	cmd.PersistentFlags().Int8(config.LogLevelKey, 0, fmt.Sprintf(`By default all logging is disabled except for fatal errors.
	Optionally additional logging to stderr can be enabled to assist with debugging (0=Fatal, 1=Error, 2=Warn, 3=Info, 4+5=Debug).
	When enabling logging you may wish to set --%s=0 to ensure output and log messages are synchronized.`, config.PageSizeKey))

	cmd.PersistentFlags().Bool(config.LogDeveloperKey, false, "Enable logging at DebugLevel and above and print stack traces at WarnLevel and above.")
	cmd.PersistentFlags().MarkHidden(config.LogDeveloperKey)

	cmd.PersistentFlags().StringSlice(config.ColumnsKey, []string{}, `When printing structured data, the columns/fields to include (use 'all' to include everything).
	Refer to the help for each command to see which columns are available.`)
	cmd.PersistentFlags().Uint(config.PageSizeKey, 100, `The number of rows/elements to print before output is flushed to stdout.
	When printing using a table, the header will be repeated after printing this many rows (no headers are printed when set to 0).
	If set to 0, rows are written immediately and table columns may not be aligned.`)
	cmd.PersistentFlags().String(config.OutputKey, config.OutputTable.String(), fmt.Sprintf(`How structured output is printed (%s, %s, %s or %s).
	With JSON, if the number of elements to print is greater than --%s multiple JSON lists separated by newlines are printed.
	Summaries and other messages are printed to stderr when JSON output is selected.`,
		config.OutputTable, config.OutputJSON, config.OutputJSONPretty, config.OutputNDJSON, config.PageSizeKey))

	// Environment variables should start with ASSETS_
	viper.SetEnvPrefix("assets")
	// Environment variables cannot use "-", replace with "_"
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Bind all persistent pflags to viper
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		viper.BindEnv(flag.Name)
		viper.BindPFlag(flag.Name, flag)
	})
	// The store credentials are also read from the variables used by the site's .env file.
	for key, env := range config.StoreEnvAliases {
		viper.BindEnv(key, "ASSETS_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), env)
	}
}

// LoadDotEnv loads variables from the .env files (if they exist) into the environment. Variables
// that are already set take precedence.
func LoadDotEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("unable to load %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

func Cleanup() {
	config.Cleanup()
}
