package assets

import (
	"context"
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
	"github.com/portfolio-assets/assets-go/common/variantkey"
	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
)

var (
	originalExts = []string{"jpg", "jpeg", "png", "gif", "svg"}
	localExts    = []string{"jpg", "jpeg", "png", "gif", "svg", "webp", "avif"}
)

type DevImagesCfg struct {
	// Prefix is the key prefix the originals were published below, usually "images".
	Prefix string
	// LocalDir is the local source directory, usually public/images.
	LocalDir string
}

type DevImagesReport struct {
	// Remote and Local are paths relative to the prefix and the local directory.
	Remote []string
	Local  []string
	// Missing exist remotely but not locally, Extra only exist locally.
	Missing []string
	Extra   []string
}

type PullResult struct {
	Path  string
	Bytes int64
	Err   error
}

func extOf(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// isRemoteOriginal excludes the width suffixed variants published by sync. An original with a
// numeric suffix such as photo-2024.jpg is still an original.
func isRemoteOriginal(key string) bool {
	if parsed := variantkey.Parse(key); parsed.Sized && (parsed.Format == "webp" || parsed.Format == "avif") {
		return false
	}
	return slices.Contains(originalExts, extOf(key))
}

// CheckDevImages compares the originals in the object store with the local source directory.
func CheckDevImages(ctx context.Context, cfg DevImagesCfg) (*DevImagesReport, error) {
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return checkDevImages(ctx, store, cfg)
}

func checkDevImages(ctx context.Context, store objstore.Lister, cfg DevImagesCfg) (*DevImagesReport, error) {
	prefix := strings.Trim(cfg.Prefix, "/") + "/"
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("unable to list remote images: %w", err)
	}
	report := &DevImagesReport{}
	for _, obj := range objects {
		if isRemoteOriginal(obj.Key) {
			report.Remote = append(report.Remote, strings.TrimPrefix(obj.Key, prefix))
		}
	}
	slices.Sort(report.Remote)
	report.Remote = slices.Compact(report.Remote)

	if err := appFs.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create %s: %w", cfg.LocalDir, err)
	}
	walk, err := filesystem.StreamSources(ctx, appFs, cfg.LocalDir)
	if err != nil {
		return nil, err
	}
	for res := range walk {
		if res.Err != nil {
			return nil, res.Err
		}
		if slices.Contains(localExts, extOf(res.RelPath)) {
			report.Local = append(report.Local, res.RelPath)
		}
	}
	slices.Sort(report.Local)

	for _, r := range report.Remote {
		if _, found := slices.BinarySearch(report.Local, r); !found {
			report.Missing = append(report.Missing, r)
		}
	}
	for _, l := range report.Local {
		if _, found := slices.BinarySearch(report.Remote, l); !found {
			report.Extra = append(report.Extra, l)
		}
	}
	return report, nil
}

// PullDevImages downloads the originals that are missing locally. Results are streamed per file,
// the caller must drain the results channel before calling wait.
func PullDevImages(ctx context.Context, cfg DevImagesCfg) (*DevImagesReport, <-chan *PullResult, func() error, error) {
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	report, err := checkDevImages(ctx, store, cfg)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	results, wait := pullDevImages(ctx, store, cfg, report.Missing)
	return report, results, func() error {
		defer closeStore()
		return wait()
	}, nil
}

func pullDevImages(ctx context.Context, store objstore.Getter, cfg DevImagesCfg, missing []string) (<-chan *PullResult, func() error) {
	log, _ := config.GetLogger()
	log = log.With(zap.String("component", "dev-images"))

	numWorkers := max(viper.GetInt(config.NumWorkersKey)-1, 1)
	paths := make(chan string, numWorkers*4)
	results := make(chan *PullResult, numWorkers*4)
	prefix := strings.Trim(cfg.Prefix, "/")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(paths)
		for _, p := range missing {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case paths <- p:
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
				case p, ok := <-paths:
					if !ok {
						return nil
					}
					result := pullImage(gCtx, store, prefix+"/"+p, filepath.Join(cfg.LocalDir, filepath.FromSlash(p)))
					result.Path = p
					if result.Err != nil {
						log.Debug("download failed", zap.String("path", p), zap.Error(result.Err))
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
		errChan <- g.Wait()
		close(results)
	}()

	return results, func() error {
		return <-errChan
	}
}

func pullImage(ctx context.Context, store objstore.Getter, key string, dest string) *PullResult {
	obj, err := store.Get(ctx, key)
	if err != nil {
		return &PullResult{Err: err}
	}
	if err := appFs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &PullResult{Err: err}
	}
	tmp, err := afero.TempFile(appFs, filepath.Dir(dest), ".download-*")
	if err != nil {
		return &PullResult{Err: err}
	}
	_, err = tmp.Write(obj.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = appFs.Chmod(tmp.Name(), 0o644)
	}
	if err == nil {
		err = appFs.Rename(tmp.Name(), dest)
	}
	if err != nil {
		appFs.Remove(tmp.Name())
		return &PullResult{Err: fmt.Errorf("unable to write %s: %w", dest, err)}
	}
	return &PullResult{Bytes: int64(len(obj.Body))}
}
