package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/fingerprint"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/manifest"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/processor"
)

// Usage above these percentages is reported as a warning or as critical.
const (
	WarningPercentage  = 80
	CriticalPercentage = 90
)

type Level int

const (
	LevelHealthy Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

func LevelFor(percentage int) Level {
	switch {
	case percentage > CriticalPercentage:
		return LevelCritical
	case percentage > WarningPercentage:
		return LevelWarning
	default:
		return LevelHealthy
	}
}

type StatusCfg struct {
	// Offline reports the usage recorded by the last sync instead of listing the store.
	Offline bool
	// Sources are compared with the manifest if set, flagging files that changed since the last
	// sync.
	Sources []processor.Source
}

// SourceState describes a manifest entry compared with its local source file.
type SourceState string

const (
	SourceUnchanged SourceState = "unchanged"
	// SourceChanged files (and incomplete entries) are processed by the next sync.
	SourceChanged SourceState = "changed"
	SourceMissing SourceState = "missing"
	// SourceUnknown entries are not below any of the checked sources.
	SourceUnknown SourceState = "unknown"
)

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

type StatusEntry struct {
	Path        string    `json:"path"`
	Hash        string    `json:"hash"`
	Outputs     int       `json:"outputs"`
	Size        int64     `json:"size"`
	Updated     time.Time `json:"updated"`
	Placeholder bool      `json:"placeholder"`
	// Source is only set if sources were checked.
	Source SourceState `json:"source,omitempty"`
}

type Status struct {
	Storage manifest.StorageStatus `json:"storage"`
	Level   Level                  `json:"level"`
	// Live is true if the usage was computed by listing the store.
	Live bool `json:"live"`
	// ManifestFound is false if no sync has written a manifest yet.
	ManifestFound bool `json:"manifestFound"`
	Entries       int  `json:"entries"`
	Outputs       int  `json:"outputs"`
	Placeholders  int  `json:"placeholders"`
	// Incomplete counts entries with failed variants that will be retried by the next sync.
	Incomplete int `json:"incomplete"`
	// Changed and Missing are only counted if sources were checked.
	Changed int           `json:"changed"`
	Missing int           `json:"missing"`
	Files   []StatusEntry `json:"files,omitempty"`
}

// GetStatus reports the storage usage of the bucket and what the manifest records.
func GetStatus(ctx context.Context, cfg StatusCfg) (*Status, error) {
	log, _ := config.GetLogger()
	path := viper.GetString(config.ManifestKey)

	limit, err := config.StorageLimit()
	if err != nil {
		return nil, err
	}

	status := &Status{}
	found, err := afero.Exists(appFs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", manifest.ErrLoadingManifest, err)
	}
	m := manifest.Empty()
	if found {
		if m, err = manifest.FromDisk(appFs, path); err != nil {
			return nil, fmt.Errorf("%w: %w", manifest.ErrLoadingManifest, err)
		}
	}
	status.ManifestFound = found

	if cfg.Offline {
		status.Storage = manifest.NewStorageStatus(m.Storage.Used, limit)
	} else {
		store, closeStore, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		defer closeStore()
		mgr := manifest.NewManager(appFs, path, store, log, manifest.WithStorageLimit(limit))
		if status.Storage, err = mgr.StorageStatus(ctx); err != nil {
			return nil, fmt.Errorf("unable to list the object store: %w", err)
		}
		status.Live = true
	}
	status.Level = LevelFor(status.Storage.Percentage)

	for _, p := range m.Paths() {
		e := m.Processed[p]
		status.Entries++
		status.Outputs += len(e.Outputs)
		if e.Placeholder != nil {
			status.Placeholders++
		}
		if e.Hash == "" {
			status.Incomplete++
		}
		entry := StatusEntry{
			Path:        p,
			Hash:        e.Hash,
			Outputs:     len(e.Outputs),
			Size:        e.Size,
			Updated:     e.Updated,
			Placeholder: e.Placeholder != nil,
		}
		if len(cfg.Sources) != 0 {
			if entry.Source, err = sourceState(cfg.Sources, p, e.Hash); err != nil {
				return nil, err
			}
			switch entry.Source {
			case SourceChanged:
				status.Changed++
			case SourceMissing:
				status.Missing++
			}
		}
		status.Files = append(status.Files, entry)
	}
	return status, nil
}

func sourceState(sources []processor.Source, manifestPath string, hash string) (SourceState, error) {
	for _, src := range sources {
		rel := manifestPath
		if src.Prefix != "" {
			var ok bool
			if rel, ok = strings.CutPrefix(manifestPath, src.Prefix+"/"); !ok {
				continue
			}
		}
		sum, err := fingerprint.SumFile(appFs, filepath.Join(src.Dir, filepath.FromSlash(rel)))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return SourceMissing, nil
		case err != nil:
			return "", fmt.Errorf("unable to check source of %s: %w", manifestPath, err)
		case sum == hash:
			return SourceUnchanged, nil
		default:
			return SourceChanged, nil
		}
	}
	return SourceUnknown, nil
}
