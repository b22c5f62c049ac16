// Package objstore defines the object store contract shared by the batch processor (the only
// writer) and the edge server (read-only), along with S3/R2, Badger and in-memory backends.
package objstore

import (
	"context"
	"encoding/hex"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

var (
	ErrNotFound  = errors.New("object not found")
	ErrTransient = errors.New("transient object store failure")
)

type PutOptions struct {
	ContentType  string
	CacheControl string
}

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"contentType,omitempty"`
	CacheControl string    `json:"cacheControl,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// Object is always fully read from the store so callers never hand out partial bodies.
type Object struct {
	ObjectInfo
	Body []byte
}

type Putter interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
}

type Getter interface {
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
}

type Lister interface {
	// List returns every object whose key starts with prefix. An empty prefix lists the bucket.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

type Store interface {
	Putter
	Getter
	Lister
}

var contentTypes = map[string]string{
	".webp": "image/webp",
	".avif": "image/avif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
}

// ContentTypeFor derives the content type from the extension of a key.
func ContentTypeFor(key string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ETagFor computes a strong validator for backends that do not provide one.
func ETagFor(data []byte) string {
	sum := blake3.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// TotalSize sums the size of the listed objects.
func TotalSize(objects []ObjectInfo) int64 {
	var total int64
	for _, o := range objects {
		total += o.Size
	}
	return total
}
