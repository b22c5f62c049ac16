// Package filesystem enumerates source files lazily so enumeration can be decoupled from the
// (parallel) processing of each file.
//
// Entries are sorted with a trailing "/" appended to directory names, so for each directory the
// walk order is the lexicographical order of the full relative paths:
//
//	projects/atlas.jpg
//	projects/atlas/detail.jpg
//	projects/atlas_cover.png
//
// This makes the last emitted path a valid resume token for a later walk (see WithStartAfter).
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// Source is a regular file below a walked root. RelPath always uses forward slashes.
type Source struct {
	AbsPath string
	RelPath string
	Info    os.FileInfo
}

type StreamSourceResult struct {
	Source
	// ResumeToken is set on the final result when the walk stopped because maxPaths was reached.
	ResumeToken string
	Err         error
}

type streamConfig struct {
	include    []string
	exclude    []string
	startAfter string
	maxPaths   int
	chanSize   int
	filter     FileInfoFilter
}

type StreamOpt func(*streamConfig)

// WithInclude only emits files whose relative path matches at least one doublestar pattern.
func WithInclude(patterns ...string) StreamOpt {
	return func(cfg *streamConfig) {
		cfg.include = append(cfg.include, patterns...)
	}
}

// WithExclude skips files and directories whose relative path matches any doublestar pattern.
func WithExclude(patterns ...string) StreamOpt {
	return func(cfg *streamConfig) {
		cfg.exclude = append(cfg.exclude, patterns...)
	}
}

// WithStartAfter only emits relative paths lexicographically greater than startAfter.
func WithStartAfter(startAfter string) StreamOpt {
	return func(cfg *streamConfig) {
		cfg.startAfter = strings.Trim(filepath.ToSlash(startAfter), "/")
	}
}

// WithMaxPaths limits the number of emitted paths. Use -1 (the default) for all paths.
func WithMaxPaths(maxPaths int) StreamOpt {
	return func(cfg *streamConfig) {
		cfg.maxPaths = maxPaths
	}
}

func WithChanSize(size int) StreamOpt {
	return func(cfg *streamConfig) {
		cfg.chanSize = size
	}
}

func WithFilter(filter FileInfoFilter) StreamOpt {
	return func(cfg *streamConfig) {
		cfg.filter = filter
	}
}

// StreamSources walks root depth-first and sends every matching regular file on the returned
// channel. Any error terminates the walk and is sent as the last result. The channel is closed
// when the walk is complete or ctx is cancelled.
func StreamSources(ctx context.Context, fsys afero.Fs, root string, opts ...StreamOpt) (<-chan *StreamSourceResult, error) {
	cfg := &streamConfig{maxPaths: -1, chanSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxPaths != -1 && cfg.maxPaths <= 0 {
		return nil, fmt.Errorf("maxPaths must be greater than zero or -1")
	}
	for _, pattern := range append(append([]string{}, cfg.include...), cfg.exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid glob pattern %q", pattern)
		}
	}

	stat, err := fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("unable to walk %q: %w", root, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("unable to walk %q: not a directory", root)
	}

	walkChan := make(chan *StreamSourceResult, cfg.chanSize)
	go func() {
		defer close(walkChan)
		send := func(result *StreamSourceResult) bool {
			select {
			case <-ctx.Done():
				select {
				case walkChan <- &StreamSourceResult{Err: ctx.Err()}:
				default:
				}
				return false
			case walkChan <- result:
				return true
			}
		}

		maxPaths := cfg.maxPaths
		lastPath := ""
		var walkDir func(string) bool
		walkDir = func(directory string) bool {
			if err := ctx.Err(); err != nil {
				select {
				case walkChan <- &StreamSourceResult{Err: err}:
				default:
				}
				return false
			}

			entries, err := readDir(fsys, root, directory, cfg.startAfter)
			if err != nil {
				send(&StreamSourceResult{Err: fmt.Errorf("unable to read directory %q: %w", directory, err)})
				return false
			}

			for _, entry := range entries {
				rel := path.Join(directory, entry.Name())
				if excluded, err := matchAny(cfg.exclude, rel); err != nil {
					send(&StreamSourceResult{Err: err})
					return false
				} else if excluded {
					continue
				}

				if entry.IsDir() {
					if !walkDir(rel) {
						return false
					}
					continue
				} else if !entry.Mode().IsRegular() || rel <= cfg.startAfter {
					continue
				}

				if len(cfg.include) > 0 {
					if included, err := matchAny(cfg.include, rel); err != nil {
						send(&StreamSourceResult{Err: err})
						return false
					} else if !included {
						continue
					}
				}

				abs := filepath.Join(root, filepath.FromSlash(rel))
				if keep, err := ApplyFilter(rel, entry, cfg.filter); err != nil {
					send(&StreamSourceResult{Err: fmt.Errorf("unable to filter files: %w", err)})
					return false
				} else if !keep {
					continue
				}

				if maxPaths == 0 {
					send(&StreamSourceResult{ResumeToken: lastPath})
					return false
				}
				if !send(&StreamSourceResult{Source: Source{AbsPath: abs, RelPath: rel, Info: entry}}) {
					return false
				}
				lastPath = rel
				if maxPaths > 0 {
					maxPaths--
				}
			}
			return true
		}
		walkDir("")
	}()

	return walkChan, nil
}

func matchAny(patterns []string, rel string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, rel)
		if err != nil {
			return false, fmt.Errorf("failed to match path %q with pattern %q: %w", rel, pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// readDir returns the entries of directory (relative to root) sorted lexically, skipping entries
// that cannot contain paths after startAfter.
func readDir(fsys afero.Fs, root string, directory string, startAfter string) ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(fsys, filepath.Join(root, filepath.FromSlash(directory)))
	if err != nil {
		return nil, err
	}

	// Directories receive a trailing '/' so they sort distinctly from files with the same prefix.
	sortName := func(entry os.FileInfo) string {
		if entry.IsDir() {
			return entry.Name() + "/"
		}
		return entry.Name()
	}

	prefix := ""
	if directory != "" {
		prefix = directory + "/"
	}
	if startAfter != "" && (prefix == "" || strings.HasPrefix(startAfter, prefix)) {
		relative := strings.TrimPrefix(startAfter, prefix)
		filtered := entries[:0]
		for _, entry := range entries {
			name := sortName(entry)
			if name > relative || strings.HasPrefix(relative, name) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})
	return entries, nil
}
