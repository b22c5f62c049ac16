// Package processor runs the batch pipeline: it enumerates source files, generates and uploads
// the variants of every changed file and records the results in the manifest.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/portfolio-assets/assets-go/common/filesystem"
	"github.com/portfolio-assets/assets-go/common/variantkey"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/config"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/fingerprint"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/manifest"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/publish"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/rules"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/variant"
)

// Source is a local directory whose files are published below a key prefix, for example
// public/images published as images/.
type Source struct {
	Dir    string
	Prefix string
}

// ParseSource parses "dir[:prefix]". Without a prefix the base name of dir is used.
func ParseSource(s string) (Source, error) {
	dir, prefix, found := strings.Cut(s, ":")
	if dir == "" {
		return Source{}, fmt.Errorf("invalid source %q: missing directory", s)
	}
	if !found {
		prefix = path.Base(strings.TrimRight(dir, "/"))
	}
	return Source{Dir: dir, Prefix: strings.Trim(prefix, "/")}, nil
}

// Key returns the manifest path of a file relative to the source directory.
func (s Source) Key(relPath string) string {
	if s.Prefix == "" {
		return relPath
	}
	return s.Prefix + "/" + relPath
}

// ErrKeyConflict is reported for a file whose variant keys were already claimed by another file of
// the same run, for example hero.png next to hero.jpg.
var ErrKeyConflict = errors.New("variant keys already used by another source file")

type Options struct {
	Sources []Source
	// Force processes files even if their hash matches the manifest.
	Force bool
	// Prune removes manifest entries of files that no longer exist below any source.
	Prune bool
	// Filter is an optional filter expression (see filesystem.FilterFilesHelp).
	Filter  string
	Include []string
	Exclude []string
	// StartAfter resumes an earlier run: files up to and including this manifest path are not
	// walked. Sources listed before the source containing it are skipped.
	StartAfter string
	// MaxFiles stops the walk after this many files (0 means no limit). Summary.ResumeAfter is set
	// if files were left.
	MaxFiles int
	// NumWorkers is the number of files processed concurrently.
	NumWorkers int
	// VariantConcurrency bounds the variants of one file encoded concurrently.
	VariantConcurrency int
}

type Processor struct {
	fs        afero.Fs
	cfg       config.Processing
	rules     *rules.Resolver
	generator *variant.Generator
	publisher *publish.Publisher
	manifest  *manifest.Manager
	hooks     Hooks
	metrics   *metrics
	log       *zap.Logger
}

type processorConfig struct {
	hooks      Hooks
	registerer prometheus.Registerer
	genOpts    []variant.GeneratorOpt
}

type Opt func(*processorConfig)

func WithHooks(hooks Hooks) Opt {
	return func(cfg *processorConfig) {
		cfg.hooks = hooks
	}
}

// WithRegisterer registers the processor metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Opt {
	return func(cfg *processorConfig) {
		cfg.registerer = reg
	}
}

// WithGeneratorOpts is passed through to variant.NewGenerator.
func WithGeneratorOpts(opts ...variant.GeneratorOpt) Opt {
	return func(cfg *processorConfig) {
		cfg.genOpts = append(cfg.genOpts, opts...)
	}
}

func New(fsys afero.Fs, cfg config.Processing, publisher *publish.Publisher, mgr *manifest.Manager, log *zap.Logger, opts ...Opt) (*Processor, error) {
	pc := &processorConfig{}
	for _, opt := range opts {
		opt(pc)
	}
	m, err := newMetrics(pc.registerer)
	if err != nil {
		return nil, err
	}
	return &Processor{
		fs:        fsys,
		cfg:       cfg,
		rules:     rules.NewResolver(cfg),
		generator: variant.NewGenerator(cfg, log, pc.genOpts...),
		publisher: publisher,
		manifest:  mgr,
		hooks:     pc.hooks,
		metrics:   m,
		log:       log.With(zap.String("component", "processor")),
	}, nil
}

type job struct {
	source filesystem.Source
	path   string
	// conflict is set if the variant keys of the file are already claimed by an earlier file.
	conflict error
}

// plannedKeys returns the keys the file at key would be published under.
func (p *Processor) plannedKeys(key string) []string {
	ext := config.NormalizeExt(path.Ext(key))
	rule, ok := p.rules.Resolve(ext)
	if !ok {
		return nil
	}
	specs := rule.Variants(ext)
	if rule.Passthrough && len(specs) > 0 {
		return []string{key}
	}
	keys := make([]string, 0, len(specs))
	for _, spec := range specs {
		keys = append(keys, variantkey.Key(key, spec.Width, config.NormalizeFormat(spec.Format)))
	}
	return keys
}

// startSource returns the index of the source containing the manifest path startAfter and the path
// relative to that source.
func startSource(sources []Source, startAfter string) (int, string, error) {
	if startAfter == "" {
		return 0, "", nil
	}
	for i, s := range sources {
		if s.Prefix == "" {
			return i, startAfter, nil
		}
		if rel, ok := strings.CutPrefix(startAfter, s.Prefix+"/"); ok {
			return i, rel, nil
		}
	}
	return 0, "", fmt.Errorf("unable to resume after %q: path is not below any source", startAfter)
}

// Run processes every file below opts.Sources and saves the manifest. Failures of single files are
// reported through the summary and hooks, an error is only returned if the run could not complete
// (enumeration failed, the context was cancelled or the manifest could not be loaded or saved).
// Whatever was recorded before a cancellation is still saved.
func (p *Processor) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.New().String()}
	log := p.log.With(zap.String("runID", summary.RunID))

	if len(opts.Sources) == 0 {
		return nil, errors.New("no sources to process")
	}
	var filter filesystem.FileInfoFilter
	if opts.Filter != "" {
		var err error
		if filter, err = filesystem.CompileFilter(opts.Filter); err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
	}
	first, startRel, err := startSource(opts.Sources, opts.StartAfter)
	if err != nil {
		return nil, err
	}
	if opts.MaxFiles < 0 {
		return nil, fmt.Errorf("max files must not be negative")
	}
	if _, err := p.manifest.Load(); err != nil {
		return nil, err
	}

	numWorkers := max(opts.NumWorkers, 1)
	jobs := make(chan job, numWorkers*4)
	results := make(chan *FileResult, numWorkers*4)
	seen := make(map[string]struct{})
	// Only written by the producer, read after the errgroup finished.
	resumeAfter := ""

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		// Keys are claimed in walk order so the same file always wins a conflict.
		claimed := make(map[string]string)
		remaining := opts.MaxFiles
		lastPath := ""
		for i := first; i < len(opts.Sources); i++ {
			src := opts.Sources[i]
			if opts.MaxFiles > 0 && remaining == 0 {
				resumeAfter = lastPath
				return nil
			}
			streamOpts := []filesystem.StreamOpt{filesystem.WithInclude(opts.Include...), filesystem.WithExclude(opts.Exclude...)}
			if filter != nil {
				streamOpts = append(streamOpts, filesystem.WithFilter(filter))
			}
			if i == first && startRel != "" {
				streamOpts = append(streamOpts, filesystem.WithStartAfter(startRel))
			}
			if opts.MaxFiles > 0 {
				streamOpts = append(streamOpts, filesystem.WithMaxPaths(remaining))
			}
			stream, err := filesystem.StreamSources(gCtx, p.fs, src.Dir, streamOpts...)
			if err != nil {
				return fmt.Errorf("unable to walk %s: %w", src.Dir, err)
			}
			for res := range stream {
				if res.Err != nil {
					return fmt.Errorf("unable to walk %s: %w", src.Dir, res.Err)
				}
				if res.ResumeToken != "" {
					resumeAfter = src.Key(res.ResumeToken)
					return nil
				}
				j := job{source: res.Source, path: src.Key(res.RelPath)}
				keys := p.plannedKeys(j.path)
				for _, k := range keys {
					if owner, ok := claimed[k]; ok && owner != j.path {
						j.conflict = fmt.Errorf("%w: %s would overwrite %s of %s", ErrKeyConflict, j.path, k, owner)
						break
					}
				}
				if j.conflict == nil {
					for _, k := range keys {
						claimed[k] = j.path
					}
				}
				lastPath = j.path
				remaining--
				select {
				case <-gCtx.Done():
					return gCtx.Err()
				case jobs <- j:
				}
			}
		}
		return nil
	})

	for range numWorkers {
		g.Go(func() error {
			for {
				select {
				case <-gCtx.Done():
					return gCtx.Err()
				case j, ok := <-jobs:
					if !ok {
						return nil
					}
					result := p.processFile(gCtx, j, opts)
					select {
					case <-gCtx.Done():
						return gCtx.Err()
					case results <- result:
					}
				}
			}
		})
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Wait()
		close(results)
	}()

	for r := range results {
		seen[r.Path] = struct{}{}
		p.collect(log, r)
		summary.add(r)
	}
	runErr := <-errChan
	if runErr == nil {
		runErr = ctx.Err()
	}
	summary.ResumeAfter = resumeAfter

	if opts.Prune {
		switch {
		case runErr != nil:
			log.Warn("run did not complete, skipping prune")
		case opts.Filter != "" || len(opts.Include) > 0 || len(opts.Exclude) > 0:
			log.Warn("sources were filtered, skipping prune")
		case opts.StartAfter != "" || opts.MaxFiles > 0:
			log.Warn("only part of the sources was walked, skipping prune")
		default:
			summary.Pruned = p.manifest.Prune(func(path string) bool {
				if _, ok := seen[path]; ok {
					return true
				}
				return !underAnySource(path, opts.Sources)
			})
			for _, path := range summary.Pruned {
				log.Info("pruned stale manifest entry", zap.String("path", path))
			}
		}
	}

	// Completed entries are kept even if the run was cancelled.
	if err := p.manifest.Save(context.WithoutCancel(ctx)); err != nil {
		return summary, errors.Join(runErr, err)
	}
	summary.Storage = p.manifest.Snapshot().Storage
	summary.Duration = time.Since(start)
	log.Info("run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("unsupported", summary.Unsupported),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))
	return summary, runErr
}

// collect is the only place the manifest is mutated during a run. A file whose variants partially
// failed is recorded with an empty hash so the next run processes it again. Files that failed
// completely are not recorded at all.
func (p *Processor) collect(log *zap.Logger, r *FileResult) {
	p.metrics.files.WithLabelValues(r.Outcome.String()).Inc()
	if r.Outcome == Processed {
		hash := r.Hash
		if len(r.Errors) > 0 {
			hash = ""
		}
		p.manifest.RecordEntry(r.Path, hash, r.Outputs, r.Size, r.Placeholder)
	}
	for _, err := range r.Errors {
		log.Warn("unable to process file", zap.String("path", r.Path), zap.Error(err))
		if p.hooks.OnError != nil {
			p.hooks.OnError(r.Path, err)
		}
	}
	if p.hooks.OnProgress != nil {
		p.hooks.OnProgress(r)
	}
}

func underAnySource(p string, sources []Source) bool {
	for _, s := range sources {
		if s.Prefix == "" || strings.HasPrefix(p, s.Prefix+"/") {
			return true
		}
	}
	return false
}

func (p *Processor) processFile(ctx context.Context, j job, opts Options) *FileResult {
	result := &FileResult{Path: j.path, Size: j.source.Info.Size()}
	if j.conflict != nil {
		result.Outcome = Failed
		result.Errors = append(result.Errors, j.conflict)
		return result
	}
	ext := config.NormalizeExt(path.Ext(j.path))
	rule, ok := p.rules.Resolve(ext)
	if !ok {
		result.Outcome = Unsupported
		return result
	}
	specs := rule.Variants(ext)
	if len(specs) == 0 {
		result.Outcome = Skipped
		return result
	}

	data, err := afero.ReadFile(p.fs, j.source.AbsPath)
	if err != nil {
		result.Outcome = Failed
		result.Errors = append(result.Errors, fmt.Errorf("unable to read %s: %w", j.source.AbsPath, err))
		return result
	}
	result.Size = int64(len(data))
	status, hash := fingerprint.Check(j.path, data, p.manifest)
	result.Hash = hash
	if status == fingerprint.Unchanged && p.cfg.SkipUnchanged && !opts.Force {
		result.Outcome = Unchanged
		return result
	}

	if rule.Passthrough {
		v := p.generator.Passthrough(j.path, data)
		if err := p.publish(ctx, v); err != nil {
			result.Errors = append(result.Errors, err)
		} else {
			result.Outputs = append(result.Outputs, v.Key)
			result.Bytes += int64(len(v.Data))
		}
		return p.finish(result)
	}

	src, err := variant.Decode(data)
	if err != nil {
		result.Outcome = Failed
		result.Errors = append(result.Errors, &variant.EncodingError{Key: j.path, Err: err})
		return result
	}

	type outcome struct {
		v   *variant.Variant
		err error
	}
	outcomes := make([]outcome, len(specs))
	vg, vCtx := errgroup.WithContext(ctx)
	vg.SetLimit(max(opts.VariantConcurrency, 1))
	for i, spec := range specs {
		vg.Go(func() error {
			v, err := p.generator.Generate(vCtx, j.path, src, spec.Width, spec.Format)
			if err == nil {
				err = p.publish(vCtx, v)
			}
			outcomes[i] = outcome{v: v, err: err}
			return nil
		})
	}
	if rule.Placeholder && p.cfg.EnablePlaceholders {
		vg.Go(func() error {
			ph, err := p.generator.Placeholder(vCtx, src)
			if err != nil {
				p.log.Warn("unable to render placeholder", zap.String("path", j.path), zap.Error(err))
				return nil
			}
			result.Placeholder = &manifest.Placeholder{
				Base64:      ph.Base64,
				Width:       ph.Width,
				Height:      ph.Height,
				AspectRatio: ph.AspectRatio,
			}
			return nil
		})
	}
	// Failed variants are collected in outcomes so one failure never cancels its siblings.
	_ = vg.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, o.err)
			continue
		}
		result.Outputs = append(result.Outputs, o.v.Key)
		result.Bytes += int64(len(o.v.Data))
	}
	return p.finish(result)
}

func (p *Processor) publish(ctx context.Context, v *variant.Variant) error {
	if err := p.publisher.Publish(ctx, v.Key, v.Data); err != nil {
		p.metrics.uploadFailures.Inc()
		return err
	}
	p.metrics.variants.WithLabelValues(v.Format).Inc()
	p.metrics.uploadedBytes.Add(float64(len(v.Data)))
	return nil
}

func (p *Processor) finish(result *FileResult) *FileResult {
	if len(result.Outputs) == 0 {
		result.Outcome = Failed
	} else {
		result.Outcome = Processed
	}
	return result
}
