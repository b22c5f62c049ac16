package assets

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portfolio-assets/assets-go/ctl/internal/cmdfmt"
	"github.com/portfolio-assets/assets-go/ctl/internal/util"
	"github.com/portfolio-assets/assets-go/ctl/pkg/ctl/assets"
)

func NewUploadCmd() *cobra.Command {
	backendCfg := assets.UploadCfg{}

	cmd := &cobra.Command{
		Use:   "upload <local-path> <key>",
		Short: "Upload a file or a directory without generating variants",
		Long: `Upload a file or a directory without generating variants.
A single file is uploaded to <key>. Directories are uploaded recursively below the key prefix,
for example "upload public/images/projects projects" publishes projects/atlas.jpg. Use an empty
prefix ("") to upload a directory to the root of the bucket.

JPEG, PNG and WebP images larger than 2400x2400 are scaled down to fit and re-encoded unless
--no-optimize is set. Other files are uploaded unchanged. The manifest is not updated, use sync to
publish responsive variants.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backendCfg.LocalPath = args[0]
			backendCfg.Key = args[1]
			return runUploadCmd(cmd, backendCfg)
		},
	}
	cmd.Flags().BoolVar(&backendCfg.NoOptimize, "no-optimize", false, "Upload images unchanged.")
	return cmd
}

func runUploadCmd(cmd *cobra.Command, backendCfg assets.UploadCfg) error {
	results, wait, err := assets.Upload(cmd.Context(), backendCfg)
	if err != nil {
		return err
	}

	tbl := cmdfmt.NewPrintomatic(
		[]string{"key", "path", "result", "source_size", "size", "message"},
		[]string{"key", "result", "size", "message"},
	)
	var uploaded, failed int
	for res := range results {
		if res.Err != nil {
			failed++
			tbl.AddItem(res.Key, res.Path, "error", formatBytes(res.SourceBytes), "-", res.Err.Error())
			continue
		}
		uploaded++
		result := "uploaded"
		if res.Optimized {
			result = "optimized"
		}
		tbl.AddItem(res.Key, res.Path, result, formatBytes(res.SourceBytes), formatBytes(res.Bytes), "")
	}
	tbl.PrintRemaining()
	cmdfmt.Printf("Summary: uploaded %d | failed %d\n", uploaded, failed)

	if err := wait(); err != nil {
		return err
	}
	if failed != 0 {
		return util.NewCtlError(fmt.Errorf("%d files could not be uploaded", failed), util.PartialSuccess)
	}
	return nil
}
