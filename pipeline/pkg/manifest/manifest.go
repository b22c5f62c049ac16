// Package manifest records which variants were produced for each source file and from which
// content hash. The file is read by the status command and by the site build.
package manifest

import (
	"encoding/json"
	"errors"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"
)

// DefaultStorageLimit is the free tier storage limit of the bucket (10 GiB).
const DefaultStorageLimit int64 = 10 << 30

type Placeholder struct {
	Base64      string  `json:"base64"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspectRatio"`
}

type Entry struct {
	// Hash is empty if one or more variants failed so the next run processes the file again.
	Hash        string       `json:"hash"`
	Outputs     []string     `json:"outputs"`
	Size        int64        `json:"size"`
	Updated     time.Time    `json:"updated"`
	Placeholder *Placeholder `json:"placeholder,omitempty"`
}

type StorageStatus struct {
	Used       int64 `json:"used"`
	Limit      int64 `json:"limit"`
	Percentage int   `json:"percentage"`
}

type Manifest struct {
	Processed map[string]Entry `json:"processed"`
	Storage   StorageStatus    `json:"storage"`
}

func Empty() Manifest {
	return Manifest{
		Processed: map[string]Entry{},
		Storage:   StorageStatus{Limit: DefaultStorageLimit},
	}
}

// Clone returns a deep copy of m.
func (m Manifest) Clone() Manifest {
	c := Manifest{Processed: make(map[string]Entry, len(m.Processed)), Storage: m.Storage}
	for path, e := range m.Processed {
		e.Outputs = slices.Clone(e.Outputs)
		if e.Placeholder != nil {
			p := *e.Placeholder
			e.Placeholder = &p
		}
		c.Processed[path] = e
	}
	return c
}

// Paths returns the recorded source paths in lexical order.
func (m Manifest) Paths() []string {
	return slices.Sorted(maps.Keys(m.Processed))
}

// FromDisk reads a manifest. A missing file returns an empty manifest.
func FromDisk(fsys afero.Fs, path string) (Manifest, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty(), nil
		}
		return Manifest{}, err
	}
	m := Empty()
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	if m.Processed == nil {
		m.Processed = map[string]Entry{}
	}
	return m, nil
}

const fileMode = 0o644

// ToDisk writes the manifest to a temporary file next to path and renames it into place so
// readers never observe a partially written manifest.
func ToDisk(fsys afero.Fs, m Manifest, path string) (err error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fsys, dir, ".assets-manifest-*.json")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			fsys.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	// Temp files are created with 0600, the manifest is read by the site build.
	if err = fsys.Chmod(tmp.Name(), fileMode); err != nil {
		return err
	}
	return fsys.Rename(tmp.Name(), path)
}
