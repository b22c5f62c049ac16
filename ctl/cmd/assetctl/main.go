package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/portfolio-assets/assets-go/ctl/internal/cmd/assets"
	"github.com/portfolio-assets/assets-go/ctl/internal/config"
	"github.com/portfolio-assets/assets-go/ctl/internal/util"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assetctl",
		Short: "Publish and inspect the portfolio's responsive image assets",
		Long: `Publish and inspect the portfolio's responsive image assets.
Credentials for the object store are read from the environment and from a .env file in the
current directory (CF_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_BUCKET_NAME).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.InitGlobalFlags(cmd)
	cmd.AddCommand(
		assets.NewSyncCmd(),
		assets.NewStatusCmd(),
		assets.NewDevImagesCmd(),
		assets.NewUploadCmd(),
		assets.NewListCmd(),
	)
	return cmd
}

func main() {
	os.Exit(run())
}

func run() int {
	defer config.Cleanup()

	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return int(util.GeneralError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return int(util.Success)
	}
	var ctlErr util.CtlError
	if errors.As(err, &ctlErr) && ctlErr.GetExitCode() == util.PartialSuccess {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	return int(util.ExitCodeFor(err))
}
