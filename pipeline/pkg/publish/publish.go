// Package publish uploads variants to the object store.
package publish

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/common/objstore"
)

// CacheControl is set on every uploaded object. Keys change whenever content does, so objects can
// be cached forever.
const CacheControl = "public, max-age=31536000, immutable"

var ErrUpload = errors.New("upload failed")

// UploadError is returned when a single object could not be written. It matches ErrUpload and
// the underlying cause with errors.Is.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("unable to upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() []error {
	return []error{ErrUpload, e.Err}
}

type Publisher struct {
	store objstore.Putter
	log   *zap.Logger
}

func New(store objstore.Putter, log *zap.Logger) *Publisher {
	return &Publisher{
		store: store,
		log:   log.With(zap.String("component", "publish")),
	}
}

// Publish writes data to key. The content type is derived from the extension of key.
func (p *Publisher) Publish(ctx context.Context, key string, data []byte) error {
	err := p.store.Put(ctx, key, data, objstore.PutOptions{
		ContentType:  objstore.ContentTypeFor(key),
		CacheControl: CacheControl,
	})
	if err != nil {
		return &UploadError{Key: key, Err: err}
	}
	p.log.Debug("uploaded object", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}
