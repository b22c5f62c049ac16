package assets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dsnet/golib/unitconv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/portfolio-assets/assets-go/common/filesystem"
	"github.com/portfolio-assets/assets-go/ctl/internal/cmdfmt"
	"github.com/portfolio-assets/assets-go/ctl/internal/util"
	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
	"github.com/portfolio-assets/assets-go/ctl/pkg/ctl/assets"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/processor"
)

type syncConfig struct {
	sources []string
	verbose bool
}

func NewSyncCmd() *cobra.Command {
	frontendCfg := syncConfig{}
	backendCfg := assets.SyncCfg{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Generate and upload responsive variants of all changed images",
		Long: `Generate and upload responsive variants of all changed images.
Every file below each source directory is matched against the processing rules (see --config).
Files whose content hash matches the manifest are skipped unless --force is set. Variants are
uploaded below the source prefix, for example public/images/hero.jpg is published as
images/hero-800.webp.

Sources are specified as <dir>[:<prefix>]. Without a prefix the name of the directory is used.
Failures of individual files do not abort the run, they are retried by the next sync.

Large uploads can be split into several runs with --max-files. The run prints the manifest path to
continue from, pass it to the next run as --start-after. Pruning is skipped for partial runs.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range frontendCfg.sources {
				src, err := processor.ParseSource(s)
				if err != nil {
					return err
				}
				backendCfg.Sources = append(backendCfg.Sources, src)
			}
			frontendCfg.verbose = frontendCfg.verbose || viper.GetBool(config.DebugKey)
			return runSyncCmd(cmd, frontendCfg, backendCfg)
		},
	}

	cmd.Flags().StringSliceVar(&frontendCfg.sources, "source", []string{"public/images:images"}, "Source directory and key prefix as <dir>[:<prefix>] (can be repeated).")
	cmd.Flags().BoolVar(&backendCfg.Force, "force", false, "Process all files even if they did not change since the last sync.")
	cmd.Flags().BoolVar(&backendCfg.Prune, "prune", false, "Remove manifest entries of source files that no longer exist. Uploaded variants are never deleted.")
	cmd.Flags().StringVar(&backendCfg.Filter, "filter", "", fmt.Sprintf("Only process files matching this expression. Pruning is skipped when filtering.\n%s", filesystem.FilterFilesHelp))
	cmd.Flags().StringSliceVar(&backendCfg.Include, "include", nil, "Only process files whose path relative to the source matches one of these glob patterns (for example 'projects/**').")
	cmd.Flags().StringSliceVar(&backendCfg.Exclude, "exclude", nil, "Skip files and directories whose relative path matches one of these glob patterns.")
	cmd.Flags().StringVar(&backendCfg.StartAfter, "start-after", "", "Skip all files up to and including this manifest path (for example 'images/projects/atlas.jpg').")
	cmd.Flags().IntVar(&backendCfg.MaxFiles, "max-files", 0, "Stop after this many files and print where to continue (0 processes all files).")
	cmd.Flags().StringVar(&backendCfg.MetricsFile, "metrics-file", "", "Write the run metrics to this file in the Prometheus text format.")
	cmd.Flags().BoolVar(&frontendCfg.verbose, "verbose", false, "Print the result of every file (failures are always printed).")
	return cmd
}

func runSyncCmd(cmd *cobra.Command, frontendCfg syncConfig, backendCfg assets.SyncCfg) error {
	results, wait, err := assets.Sync(cmd.Context(), backendCfg)
	if err != nil {
		return err
	}

	tbl := cmdfmt.NewPrintomatic(
		[]string{"path", "result", "outputs", "size", "hash", "message"},
		[]string{"path", "result", "outputs", "message"},
	)
	for res := range results {
		failed := len(res.Errors) != 0
		if !frontendCfg.verbose && !failed {
			continue
		}
		message := ""
		if failed {
			message = errors.Join(res.Errors...).Error()
			// Multi line messages break the table layout.
			message = strings.ReplaceAll(message, "\n", "; ")
		}
		tbl.AddItem(res.Path, res.Outcome.String(), len(res.Outputs), formatBytes(res.Size), res.Hash, message)
	}
	tbl.PrintRemaining()

	summary, err := wait()
	if summary != nil {
		cmdfmt.Printf("Summary: processed %d | skipped %d | unsupported %d | uploaded %d | errors %d\n",
			summary.Processed, summary.Skipped, summary.Unsupported, summary.Uploaded, summary.Errors)
		if len(summary.Pruned) != 0 {
			cmdfmt.Printf("Pruned %d stale manifest entries\n", len(summary.Pruned))
		}
		cmdfmt.Printf("Storage: %s / %s (%d%%)\n", formatBytes(summary.Storage.Used), formatBytes(summary.Storage.Limit), summary.Storage.Percentage)
		if summary.ResumeAfter != "" {
			cmdfmt.Printf("Stopped after %d files, resume with --start-after=%s\n", backendCfg.MaxFiles, summary.ResumeAfter)
		}
	}
	if err != nil {
		return err
	}
	if summary.Errors != 0 {
		return util.NewCtlError(fmt.Errorf("%d files could not be fully processed", summary.Errors), util.PartialSuccess)
	}
	return nil
}

func formatBytes(b int64) string {
	if viper.GetBool(config.RawKey) {
		return fmt.Sprintf("%d", b)
	}
	return fmt.Sprintf("%sB", unitconv.FormatPrefix(float64(b), unitconv.IEC, 2))
}
