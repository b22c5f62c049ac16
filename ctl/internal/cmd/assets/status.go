package assets

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/portfolio-assets/assets-go/ctl/internal/cmdfmt"
	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
	"github.com/portfolio-assets/assets-go/ctl/pkg/ctl/assets"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/processor"
)

const barLength = 30

type statusConfig struct {
	verbose bool
	sources []string
}

func NewStatusCmd() *cobra.Command {
	frontendCfg := statusConfig{}
	backendCfg := assets.StatusCfg{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show object store usage and what the manifest records",
		Long: fmt.Sprintf(`Show object store usage and what the manifest records.
Usage is computed by listing the bucket and compared against --%s. Usage above %d%% is reported
as a warning, above %d%% as critical.

With --verbose every manifest entry is printed and compared with its file below --source, showing
which files changed (or were removed) since the last sync.`, config.StorageLimitKey, assets.WarningPercentage, assets.CriticalPercentage),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			frontendCfg.verbose = frontendCfg.verbose || viper.GetBool(config.DebugKey)
			if frontendCfg.verbose {
				for _, s := range frontendCfg.sources {
					src, err := processor.ParseSource(s)
					if err != nil {
						return err
					}
					backendCfg.Sources = append(backendCfg.Sources, src)
				}
			}
			return runStatusCmd(cmd, frontendCfg, backendCfg)
		},
	}
	cmd.Flags().BoolVar(&backendCfg.Offline, "offline", false, "Report the usage recorded by the last sync instead of listing the bucket.")
	cmd.Flags().BoolVar(&frontendCfg.verbose, "verbose", false, "Print every manifest entry and compare it with its source file.")
	cmd.Flags().StringSliceVar(&frontendCfg.sources, "source", []string{"public/images:images"}, "Source directory and key prefix as <dir>[:<prefix>] (can be repeated), as passed to sync.")
	return cmd
}

func runStatusCmd(cmd *cobra.Command, frontendCfg statusConfig, backendCfg assets.StatusCfg) error {
	status, err := assets.GetStatus(cmd.Context(), backendCfg)
	if err != nil {
		return err
	}

	switch config.OutputType(viper.GetString(config.OutputKey)) {
	case config.OutputJSON, config.OutputNDJSON:
		out, _ := json.Marshal(status)
		fmt.Printf("%s\n", out)
		return nil
	case config.OutputJSONPretty:
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Printf("%s\n", out)
		return nil
	}

	source := "bucket"
	if !status.Live {
		source = "last sync"
	}
	cmdfmt.Printf("Object storage (%s):\n", source)
	cmdfmt.Printf("  Used:  %s / %s\n", formatBytes(status.Storage.Used), formatBytes(status.Storage.Limit))
	cmdfmt.Printf("  Usage: %d%%\n", status.Storage.Percentage)
	cmdfmt.Printf("  [%s]\n", usageBar(status.Storage.Percentage))
	cmdfmt.Printf("\n%s\n", levelMessage(status.Level))

	if !status.ManifestFound {
		cmdfmt.Printf("\nNo manifest found at %s (run sync first)\n", viper.GetString(config.ManifestKey))
		return nil
	}
	cmdfmt.Printf("\nManifest:\n")
	cmdfmt.Printf("  Source files: %d\n", status.Entries)
	cmdfmt.Printf("  Output files: %d\n", status.Outputs)
	cmdfmt.Printf("  Placeholders: %d\n", status.Placeholders)
	if status.Incomplete != 0 {
		cmdfmt.Printf("  Incomplete:   %d (retried by the next sync)\n", status.Incomplete)
	}
	if len(backendCfg.Sources) != 0 {
		cmdfmt.Printf("  Changed:      %d\n", status.Changed)
		cmdfmt.Printf("  Missing:      %d\n", status.Missing)
	}

	if frontendCfg.verbose {
		cmdfmt.Printf("\n")
		tbl := cmdfmt.NewPrintomatic(
			[]string{"path", "source", "outputs", "size", "placeholder", "updated", "hash"},
			[]string{"path", "source", "outputs", "size", "updated"},
		)
		for _, f := range status.Files {
			hash := f.Hash
			if hash == "" {
				hash = "(incomplete)"
			}
			tbl.AddItem(f.Path, string(f.Source), f.Outputs, formatBytes(f.Size), f.Placeholder, f.Updated.Local().Format(time.DateTime), hash)
		}
		tbl.PrintRemaining()
	}
	return nil
}

func usageBar(percentage int) string {
	filled := int(math.Round(float64(percentage) / 100 * barLength))
	filled = min(max(filled, 0), barLength)
	return strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)
}

func levelMessage(level assets.Level) string {
	emojis := !viper.GetBool(config.DisableEmojisKey)
	var icon, msg string
	switch level {
	case assets.LevelCritical:
		icon, msg = "⛔", fmt.Sprintf("CRITICAL: Storage usage above %d%%!", assets.CriticalPercentage)
	case assets.LevelWarning:
		icon, msg = "⚠️ ", fmt.Sprintf("WARNING: Storage usage above %d%%", assets.WarningPercentage)
	default:
		icon, msg = "✅", "Storage usage healthy"
	}
	if !emojis {
		return msg
	}
	return icon + " " + msg
}
