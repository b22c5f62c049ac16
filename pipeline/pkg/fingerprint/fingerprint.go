// Package fingerprint decides whether a source file changed since it was last processed.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

type Status int

const (
	Changed Status = iota
	Unchanged
)

func (s Status) String() string {
	if s == Unchanged {
		return "unchanged"
	}
	return "changed"
}

// Sum returns the hex encoded BLAKE3-256 digest of data.
func Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumFile hashes a file without loading it into memory at once.
func SumFile(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("unable to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashLookup returns the hash recorded for a source path during the last run.
type HashLookup interface {
	Hash(path string) (string, bool)
}

// Check compares the fingerprint of data with the hash recorded for path. It has no side effects.
func Check(path string, data []byte, recorded HashLookup) (Status, string) {
	hash := Sum(data)
	if prev, ok := recorded.Hash(path); ok && prev != "" && prev == hash {
		return Unchanged, hash
	}
	return Changed, hash
}
