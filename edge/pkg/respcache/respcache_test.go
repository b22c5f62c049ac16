package respcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/edge/pkg/resolver"
)

func TestRequestKey(t *testing.T) {
	base := resolver.Hints{Accepted: []string{"avif", "webp"}, DPR: 1}
	key := RequestKey("images/hero.jpg", base, "v1")
	assert.Equal(t, "images/hero.jpg|a=avif,webp|s=false|tw=0|f=|c=v1", key)

	variations := []resolver.Hints{
		{Accepted: []string{"webp"}, DPR: 1},
		{Accepted: []string{"avif", "webp"}, DPR: 1, SaveData: true},
		{Accepted: []string{"avif", "webp"}, DPR: 2, ViewportWidth: 400},
		{Accepted: []string{"avif", "webp"}, DPR: 1, Width: 300},
		{Accepted: []string{"avif", "webp"}, DPR: 1, Format: "webp"},
	}
	seen := map[string]struct{}{key: {}}
	for _, h := range variations {
		k := RequestKey("images/hero.jpg", h, "v1")
		assert.NotContains(t, seen, k)
		seen[k] = struct{}{}
	}
	assert.NotContains(t, seen, RequestKey("images/hero.jpg", base, "v2"), "a new resolver configuration must not reuse entries")

	// Hints that do not change the resolution share the key.
	assert.Equal(t, key, RequestKey("images/hero.jpg", resolver.Hints{Accepted: []string{"avif", "webp"}, DPR: 1, Notes: []string{"q ignored"}}, "v1"))
	assert.Equal(t,
		RequestKey("images/hero.jpg", resolver.Hints{DPR: 2, ViewportWidth: 400}, "v1"),
		RequestKey("images/hero.jpg", resolver.Hints{DPR: 1, Width: 800}, "v1"))
}

func TestLRU(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Hour, 4)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Add(ctx, "a", &Entry{Key: "images/a.webp", Body: []byte("aa")})
	c.Add(ctx, "big", &Entry{Key: "images/big.webp", Body: []byte("too large")})
	e, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "images/a.webp", e.Key)
	_, ok = c.Get(ctx, "big")
	assert.False(t, ok)

	c.Add(ctx, "b", &Entry{Key: "b"})
	c.Add(ctx, "c", &Entry{Key: "c"})
	assert.Equal(t, 2, c.Len())
	// "a" was least recently used.
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestLRUExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 20*time.Millisecond, 0)
	c.Add(ctx, "a", &Entry{Key: "a"})
	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCodec(t *testing.T) {
	e := &Entry{Key: "images/hero-800.webp", ContentType: "image/webp", ETag: `"abc"`, Depth: 2, Body: []byte{0, 1, 2, 255}}
	data, err := encodeEntry(e)
	require.NoError(t, err)
	got, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = decodeEntry([]byte("garbage"))
	assert.Error(t, err)
	_, err = decodeEntry([]byte("{}"))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	c, closeFn, err := Open(ctx, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LRU{}, c)
	assert.NoError(t, closeFn())

	c, _, err = Open(ctx, Config{Size: 0}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)
	c.Add(ctx, "a", &Entry{Key: "a"})
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	_, _, err = Open(ctx, Config{RedisURL: "not a url"}, zap.NewNop())
	assert.Error(t, err)
	assert.Equal(t, "assets:edge:v1:images/a.jpg|a=|s=false|tw=0|f=|c=0a1b", redisKey(RequestKey("images/a.jpg", resolver.Hints{DPR: 1}, "0a1b")))
}
