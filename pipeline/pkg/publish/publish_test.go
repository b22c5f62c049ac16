package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/common/objstore"
)

func TestPublish(t *testing.T) {
	store := objstore.NewMemStore()
	p := New(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "images/hero-800.avif", []byte("avif")))
	require.NoError(t, p.Publish(ctx, "documents/cv.pdf", []byte("pdf")))

	obj, err := store.Get(ctx, "images/hero-800.avif")
	require.NoError(t, err)
	assert.Equal(t, "image/avif", obj.ContentType)
	assert.Equal(t, "public, max-age=31536000, immutable", obj.CacheControl)

	obj, err = store.Get(ctx, "documents/cv.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", obj.ContentType)
}

func TestPublishFailure(t *testing.T) {
	store := objstore.NewMemStore()
	store.FailPut = func(key string) error {
		if key == "images/hero-800.avif" {
			return objstore.ErrTransient
		}
		return nil
	}
	p := New(store, zap.NewNop())
	ctx := context.Background()

	err := p.Publish(ctx, "images/hero-800.avif", []byte("avif"))
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, "images/hero-800.avif", uploadErr.Key)
	assert.ErrorIs(t, err, ErrUpload)
	assert.ErrorIs(t, err, objstore.ErrTransient)

	// Siblings are unaffected.
	assert.NoError(t, p.Publish(ctx, "images/hero-800.webp", []byte("webp")))
	assert.Equal(t, []string{"images/hero-800.webp"}, store.Keys())
}
