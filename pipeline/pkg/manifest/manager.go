package manifest

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/common/objstore"
)

// Manager owns the manifest during a run. All mutations go through RecordEntry and Prune, reads
// are safe from any goroutine.
type Manager struct {
	fs     afero.Fs
	path   string
	lister objstore.Lister
	limit  int64
	now    func() time.Time
	log    *zap.Logger
	mu     sync.RWMutex
	m      Manifest
}

type managerConfig struct {
	limit int64
	now   func() time.Time
}

type ManagerOpt func(*managerConfig)

// WithStorageLimit sets the limit used to compute the storage percentage.
func WithStorageLimit(limit int64) ManagerOpt {
	return func(cfg *managerConfig) {
		if limit > 0 {
			cfg.limit = limit
		}
	}
}

// WithClock overrides the time source used for Entry.Updated.
func WithClock(now func() time.Time) ManagerOpt {
	return func(cfg *managerConfig) {
		cfg.now = now
	}
}

func NewManager(fsys afero.Fs, path string, lister objstore.Lister, log *zap.Logger, opts ...ManagerOpt) *Manager {
	cfg := &managerConfig{limit: DefaultStorageLimit, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Manager{
		fs:     fsys,
		path:   path,
		lister: lister,
		limit:  cfg.limit,
		now:    cfg.now,
		log:    log.With(zap.String("component", "manifest")),
		m:      Empty(),
	}
}

// Load reads the persisted manifest. The first run (no manifest yet) starts from an empty one.
func (mgr *Manager) Load() (Manifest, error) {
	m, err := FromDisk(mgr.fs, mgr.path)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrLoadingManifest, err)
	}
	mgr.mu.Lock()
	mgr.m = m
	mgr.mu.Unlock()
	mgr.log.Debug("loaded manifest", zap.String("path", mgr.path), zap.Int("entries", len(m.Processed)))
	return m.Clone(), nil
}

// Hash returns the hash recorded for path.
func (mgr *Manager) Hash(path string) (string, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	e, ok := mgr.m.Processed[path]
	return e.Hash, ok
}

func (mgr *Manager) Lookup(path string) (Entry, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	e, ok := mgr.m.Processed[path]
	if ok {
		e.Outputs = slices.Clone(e.Outputs)
	}
	return e, ok
}

// RecordEntry upserts the entry of a source file.
func (mgr *Manager) RecordEntry(path string, hash string, outputs []string, size int64, placeholder *Placeholder) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.m.Processed[path] = Entry{
		Hash:        hash,
		Outputs:     slices.Clone(outputs),
		Size:        size,
		Updated:     mgr.now().UTC(),
		Placeholder: placeholder,
	}
}

// Prune removes entries whose path is rejected by keep and returns the removed paths. Objects in
// the store are not touched.
func (mgr *Manager) Prune(keep func(path string) bool) []string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	var removed []string
	for path := range mgr.m.Processed {
		if !keep(path) {
			removed = append(removed, path)
			delete(mgr.m.Processed, path)
		}
	}
	slices.Sort(removed)
	return removed
}

// Snapshot returns a copy of the in-memory manifest.
func (mgr *Manager) Snapshot() Manifest {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.m.Clone()
}

// Save refreshes the storage status and persists the manifest atomically. If the store cannot be
// listed the previous storage status is kept.
func (mgr *Manager) Save(ctx context.Context) error {
	status, err := mgr.StorageStatus(ctx)
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if err != nil {
		mgr.log.Warn("unable to refresh storage status, keeping previous status", zap.Error(err))
	} else {
		mgr.m.Storage = status
	}
	if err := ToDisk(mgr.fs, mgr.m, mgr.path); err != nil {
		return fmt.Errorf("%w: %w", ErrSavingManifest, err)
	}
	mgr.log.Debug("saved manifest", zap.String("path", mgr.path), zap.Int("entries", len(mgr.m.Processed)))
	return nil
}

// StorageStatus lists the store and computes the current usage.
func (mgr *Manager) StorageStatus(ctx context.Context) (StorageStatus, error) {
	objects, err := mgr.lister.List(ctx, "")
	if err != nil {
		return StorageStatus{}, err
	}
	return NewStorageStatus(objstore.TotalSize(objects), mgr.limit), nil
}

func NewStorageStatus(used int64, limit int64) StorageStatus {
	status := StorageStatus{Used: used, Limit: limit}
	if limit > 0 {
		status.Percentage = int(math.Round(float64(used) / float64(limit) * 100))
	}
	return status
}
