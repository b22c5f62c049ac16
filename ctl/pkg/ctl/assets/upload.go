package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/portfolio-assets/assets-go/common/filesystem"
	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/publish"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/variant"
)

var ErrNoKey = errors.New("an object key is required")

type UploadCfg struct {
	// LocalPath is a single file or a directory that is uploaded recursively.
	LocalPath string
	// Key is the object key of a single file or the key prefix of a directory. An empty prefix
	// uploads a directory to the root of the bucket.
	Key string
	// NoOptimize uploads the files unchanged instead of scaling down large images.
	NoOptimize bool
}

type UploadResult struct {
	// Path is relative to UploadCfg.LocalPath, or the file name when a single file is uploaded.
	Path        string
	Key         string
	SourceBytes int64
	Bytes       int64
	Optimized   bool
	Err         error
}

type uploadJob struct {
	absPath string
	relPath string
	key     string
}

// Upload publishes local files as they are, without generating variants. Results are streamed per
// file, the caller must drain the results channel before calling wait.
func Upload(ctx context.Context, cfg UploadCfg) (<-chan *UploadResult, func() error, error) {
	log, _ := config.GetLogger()
	log = log.With(zap.String("component", "upload"))

	stat, err := appFs.Stat(cfg.LocalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to upload %s: %w", cfg.LocalPath, err)
	}
	prefix := strings.Trim(cfg.Key, "/")
	if !stat.IsDir() && prefix == "" {
		return nil, nil, ErrNoKey
	}
	procCfg, err := config.ProcessingConfig(appFs)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	generator := variant.NewGenerator(procCfg, log, generatorOpts...)
	publisher := publish.New(store, log)

	numWorkers := max(viper.GetInt(config.NumWorkersKey)-1, 1)
	jobs := make(chan uploadJob, numWorkers*4)
	results := make(chan *UploadResult, numWorkers*4)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		send := func(j uploadJob) error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case jobs <- j:
				return nil
			}
		}
		if !stat.IsDir() {
			return send(uploadJob{absPath: cfg.LocalPath, relPath: filepath.Base(cfg.LocalPath), key: prefix})
		}
		walk, err := filesystem.StreamSources(gCtx, appFs, cfg.LocalPath)
		if err != nil {
			return err
		}
		for res := range walk {
			if res.Err != nil {
				return res.Err
			}
			if err := send(uploadJob{absPath: res.AbsPath, relPath: res.RelPath, key: path.Join(prefix, res.RelPath)}); err != nil {
				return err
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
					result := uploadFile(gCtx, generator, publisher, j, cfg.NoOptimize)
					if result.Err != nil {
						log.Debug("upload failed", zap.String("path", j.relPath), zap.Error(result.Err))
					}
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
		defer closeStore()
		errChan <- g.Wait()
		close(results)
	}()

	return results, func() error {
		return <-errChan
	}, nil
}

func uploadFile(ctx context.Context, generator *variant.Generator, publisher *publish.Publisher, j uploadJob, noOptimize bool) *UploadResult {
	result := &UploadResult{Path: j.relPath, Key: j.key}
	data, err := afero.ReadFile(appFs, j.absPath)
	if err != nil {
		result.Err = err
		return result
	}
	result.SourceBytes = int64(len(data))

	v := generator.Passthrough(j.key, data)
	if !noOptimize {
		if v, err = generator.Optimize(ctx, j.key, data); err != nil {
			result.Err = err
			return result
		}
	}
	if result.Err = publisher.Publish(ctx, v.Key, v.Data); result.Err != nil {
		return result
	}
	result.Bytes = int64(len(v.Data))
	result.Optimized = v.Quality != 0
	return result
}

// ListObjects returns the objects whose key starts with prefix sorted by key. An empty prefix
// lists the whole bucket.
func ListObjects(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("unable to list the object store: %w", err)
	}
	slices.SortFunc(objects, func(a, b objstore.ObjectInfo) int {
		return strings.Compare(a.Key, b.Key)
	})
	return objects, nil
}
