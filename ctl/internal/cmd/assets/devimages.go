package assets

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portfolio-assets/assets-go/ctl/internal/cmdfmt"
	"github.com/portfolio-assets/assets-go/ctl/internal/util"
	"github.com/portfolio-assets/assets-go/ctl/pkg/ctl/assets"
)

func NewDevImagesCmd() *cobra.Command {
	backendCfg := assets.DevImagesCfg{}

	cmd := &cobra.Command{
		Use:   "dev-images",
		Short: "Mirror published original images for local development",
		Long: `Mirror published original images for local development.
Originals (jpg, jpeg, png, gif and svg) below --prefix in the bucket are compared with the local
source directory. Generated variants such as hero-800.webp are ignored.`,
	}
	cmd.PersistentFlags().StringVar(&backendCfg.Prefix, "prefix", "images", "Key prefix the originals are stored below.")
	cmd.PersistentFlags().StringVar(&backendCfg.LocalDir, "dir", "public/images", "Local source directory.")

	cmd.AddCommand(newDevImagesCheckCmd(&backendCfg), newDevImagesPullCmd(&backendCfg))
	return cmd
}

func newDevImagesCheckCmd(backendCfg *assets.DevImagesCfg) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "List originals that are missing locally or only exist locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := assets.CheckDevImages(cmd.Context(), *backendCfg)
			if err != nil {
				return err
			}
			printDevImagesReport(report)
			return nil
		},
	}
}

func printDevImagesReport(report *assets.DevImagesReport) {
	tbl := cmdfmt.NewPrintomatic([]string{"state", "path"}, []string{"state", "path"})
	for _, p := range report.Missing {
		tbl.AddItem("missing", p)
	}
	for _, p := range report.Extra {
		tbl.AddItem("extra", p)
	}
	tbl.PrintRemaining()
	cmdfmt.Printf("Summary: remote %d | local %d | missing locally %d | extra locally %d\n",
		len(report.Remote), len(report.Local), len(report.Missing), len(report.Extra))
}

func newDevImagesPullCmd(backendCfg *assets.DevImagesCfg) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download all originals that are missing locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, results, wait, err := assets.PullDevImages(cmd.Context(), *backendCfg)
			if err != nil {
				return err
			}
			if len(report.Missing) == 0 {
				// Drain so the workers exit.
				for range results {
				}
				cmdfmt.Printf("All %d images are already synchronized\n", len(report.Remote))
				return wait()
			}

			tbl := cmdfmt.NewPrintomatic([]string{"result", "path", "size", "message"}, []string{"result", "path", "size", "message"})
			var downloaded, failed int
			for res := range results {
				if res.Err != nil {
					failed++
					tbl.AddItem("error", res.Path, "-", res.Err.Error())
					continue
				}
				downloaded++
				tbl.AddItem("downloaded", res.Path, formatBytes(res.Bytes), "")
			}
			tbl.PrintRemaining()
			cmdfmt.Printf("Summary: downloaded %d | failed %d\n", downloaded, failed)

			if err := wait(); err != nil {
				return err
			}
			if failed != 0 {
				return util.NewCtlError(fmt.Errorf("%d images could not be downloaded", failed), util.PartialSuccess)
			}
			return nil
		},
	}
}
