// Package assets implements the backends of the assetctl commands: publishing local images to the
// object store, reporting storage usage and mirroring originals for local development.
package assets

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/manifest"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/processor"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/publish"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/variant"
)

// Replaced in tests.
var (
	appFs         afero.Fs = afero.NewOsFs()
	openStore              = config.OpenStore
	generatorOpts []variant.GeneratorOpt
)

type SyncCfg struct {
	Sources []processor.Source
	Force   bool
	Prune   bool
	Filter  string
	Include []string
	Exclude []string
	// StartAfter and MaxFiles split a large sync into several runs, see Summary.ResumeAfter.
	StartAfter string
	MaxFiles   int
	// MetricsFile is an optional path the run metrics are written to in the Prometheus text format
	// (for example for the node exporter textfile collector).
	MetricsFile string
}

// Sync processes all files below the configured sources and publishes their variants. Results are
// streamed for every file as soon as it is done. The caller must drain the results channel, then
// call wait to get the run summary.
func Sync(ctx context.Context, cfg SyncCfg) (<-chan *processor.FileResult, func() (*processor.Summary, error), error) {
	log, _ := config.GetLogger()

	procCfg, err := config.ProcessingConfig(appFs)
	if err != nil {
		return nil, nil, err
	}
	limit, err := config.StorageLimit()
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	instrumented, err := objstore.NewInstrumented(store, reg)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	numWorkers := max(viper.GetInt(config.NumWorkersKey)-1, 1)
	results := make(chan *processor.FileResult, numWorkers*4)

	mgr := manifest.NewManager(appFs, viper.GetString(config.ManifestKey), instrumented, log, manifest.WithStorageLimit(limit))
	proc, err := processor.New(appFs, procCfg, publish.New(instrumented, log), mgr, log,
		processor.WithRegisterer(reg),
		processor.WithGeneratorOpts(generatorOpts...),
		processor.WithHooks(processor.Hooks{
			OnProgress: func(r *processor.FileResult) {
				select {
				case results <- r:
				case <-ctx.Done():
				}
			},
			OnError: func(path string, err error) {
				log.Debug("file reported an error", zap.String("path", path), zap.Error(err))
			},
		}),
	)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	type outcome struct {
		summary *processor.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer closeStore()
		summary, err := proc.Run(ctx, processor.Options{
			Sources:            cfg.Sources,
			Force:              cfg.Force,
			Prune:              cfg.Prune,
			Filter:             cfg.Filter,
			Include:            cfg.Include,
			Exclude:            cfg.Exclude,
			StartAfter:         cfg.StartAfter,
			MaxFiles:           cfg.MaxFiles,
			NumWorkers:         numWorkers,
			VariantConcurrency: numWorkers,
		})
		close(results)
		if cfg.MetricsFile != "" {
			if mErr := prometheus.WriteToTextfile(cfg.MetricsFile, reg); mErr != nil {
				log.Warn("unable to write metrics file", zap.String("path", cfg.MetricsFile), zap.Error(mErr))
			}
		}
		done <- outcome{summary: summary, err: err}
	}()

	wait := func() (*processor.Summary, error) {
		o := <-done
		if o.err != nil {
			return o.summary, fmt.Errorf("sync did not complete: %w", o.err)
		}
		return o.summary, nil
	}
	return results, wait, nil
}
