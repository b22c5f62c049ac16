package variant

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/pipeline/pkg/config"
)

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	src, err := Decode(testJPEG(t, 160, 90))
	require.NoError(t, err)
	assert.Equal(t, 160, src.Width)
	assert.Equal(t, 90, src.Height)

	_, err = Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestQuality(t *testing.T) {
	g := NewGenerator(config.Default(), zap.NewNop())
	tests := []struct {
		format string
		width  int
		want   int
	}{
		{"webp", 400, 90},
		{"webp", 800, 85},
		{"webp", 1200, 80},
		{"webp", 1600, config.DefaultQuality},
		{"webp", 0, 80},
		{"jpg", 800, 85},
		{"avif", 400, 75},
		{"avif", 800, 65},
		{"avif", 1200, 55},
		{"avif", 0, 55},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Quality(tt.format, tt.width), "%s@%d", tt.format, tt.width)
	}
}

func TestGenerateResizesAndNeverUpscales(t *testing.T) {
	g := NewGenerator(config.Default(), zap.NewNop())
	src, err := Decode(testJPEG(t, 160, 90))
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name        string
		width       int
		format      string
		wantKey     string
		wantEncoded int
		wantType    string
	}{
		{"downscale webp", 80, "webp", "images/hero-80.webp", 80, "image/webp"},
		{"clamped webp", 400, "webp", "images/hero-400.webp", 160, "image/webp"},
		{"original webp", 0, "webp", "images/hero.webp", 160, "image/webp"},
		{"downscale jpeg", 40, "jpeg", "images/hero-40.jpg", 40, "image/jpeg"},
		{"clamped png", 1200, "png", "images/hero-1200.png", 160, "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := g.Generate(ctx, "images/hero.jpg", src, tt.width, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, v.Key)
			assert.Equal(t, tt.width, v.Width)
			assert.Equal(t, tt.wantEncoded, v.EncodedWidth)
			assert.Equal(t, tt.wantType, v.ContentType)

			cfg, _, err := image.DecodeConfig(bytes.NewReader(v.Data))
			require.NoError(t, err)
			assert.Equal(t, tt.wantEncoded, cfg.Width)
			assert.LessOrEqual(t, cfg.Width, src.Width)
			// Aspect ratio is preserved (within rounding).
			assert.InDelta(t, float64(src.Height)/float64(src.Width)*float64(cfg.Width), float64(cfg.Height), 1)
		})
	}
}

func TestGenerateAVIF(t *testing.T) {
	g := NewGenerator(config.Default(), zap.NewNop())
	src, err := Decode(testJPEG(t, 32, 18))
	require.NoError(t, err)
	v, err := g.Generate(context.Background(), "images/tiny.png", src, 400, "avif")
	require.NoError(t, err)
	assert.Equal(t, "images/tiny-400.avif", v.Key)
	assert.Equal(t, 75, v.Quality)
	assert.NotEmpty(t, v.Data)
}

func TestGenerateErrors(t *testing.T) {
	boom := errors.New("unsupported color profile")
	g := NewGenerator(config.Default(), zap.NewNop(), WithEncoder("avif", func(w io.Writer, img image.Image, p Params) error {
		return boom
	}))
	src, err := Decode(testJPEG(t, 32, 18))
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "images/hero.jpg", src, 800, "avif")
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "images/hero-800.avif", encErr.Key)
	assert.ErrorIs(t, err, ErrEncoding)
	assert.ErrorIs(t, err, boom)

	_, err = g.Generate(context.Background(), "images/hero.jpg", src, 800, "heic")
	assert.ErrorIs(t, err, ErrEncoding)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, "images/hero.jpg", src, 800, "webp")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.EncodeTimeout = 10 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	g := NewGenerator(cfg, zap.NewNop(), WithEncoder("webp", func(w io.Writer, img image.Image, p Params) error {
		<-release
		return nil
	}))
	src, err := Decode(testJPEG(t, 32, 18))
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "images/hero.jpg", src, 400, "webp")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestPassthrough(t *testing.T) {
	g := NewGenerator(config.Default(), zap.NewNop())
	data := []byte("<svg xmlns='http://www.w3.org/2000/svg'/>")
	for _, key := range []string{"images/logo.svg", "images/LOGO.SVG", "docs/CV.Pdf"} {
		t.Run(key, func(t *testing.T) {
			v := g.Passthrough(key, data)
			assert.Equal(t, key, v.Key)
			assert.Equal(t, data, v.Data)
		})
	}
	assert.Equal(t, "image/svg+xml", g.Passthrough("images/LOGO.SVG", data).ContentType)
	assert.Equal(t, "svg", g.Passthrough("images/LOGO.SVG", data).Format)
	assert.Equal(t, "application/pdf", g.Passthrough("docs/CV.Pdf", data).ContentType)
}

func TestOptimize(t *testing.T) {
	sized := func(w io.Writer, img image.Image, p Params) error {
		b := img.Bounds()
		_, err := fmt.Fprintf(w, "%dx%d:%d", b.Dx(), b.Dy(), p.Quality)
		return err
	}
	g := NewGenerator(config.Default(), zap.NewNop(), WithEncoder("jpg", sized), WithEncoder("png", sized))

	tests := []struct {
		name   string
		key    string
		data   []byte
		want   string
		width  int
		format string
	}{
		{"wide image is scaled to fit", "projects/wide.jpg", testJPEG(t, 2600, 1000), "2400x923:90", 2400, "jpg"},
		{"tall image is scaled to fit", "projects/tall.JPEG", testJPEG(t, 500, 3000), "400x2400:90", 400, "jpg"},
		{"small image is re-encoded", "profile/avatar.jpg", testJPEG(t, 120, 80), "120x80:90", 120, "jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := g.Optimize(context.Background(), tt.key, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.key, v.Key)
			assert.Equal(t, tt.want, string(v.Data))
			assert.Equal(t, tt.width, v.EncodedWidth)
			assert.Equal(t, tt.format, v.Format)
			assert.Equal(t, "image/jpeg", v.ContentType)
		})
	}

	t.Run("other files are unchanged", func(t *testing.T) {
		for _, key := range []string{"images/logo.svg", "images/anim.gif", "docs/cv.pdf", "images/hero.avif"} {
			v, err := g.Optimize(context.Background(), key, []byte("raw"))
			require.NoError(t, err)
			assert.Equal(t, []byte("raw"), v.Data, key)
		}
	})

	t.Run("larger output keeps the source", func(t *testing.T) {
		bloated := func(w io.Writer, _ image.Image, _ Params) error {
			_, err := w.Write(bytes.Repeat([]byte{0}, 1<<20))
			return err
		}
		g := NewGenerator(config.Default(), zap.NewNop(), WithEncoder("jpg", bloated))
		data := testJPEG(t, 120, 80)
		v, err := g.Optimize(context.Background(), "profile/avatar.jpg", data)
		require.NoError(t, err)
		assert.Equal(t, data, v.Data)
	})

	t.Run("corrupt image", func(t *testing.T) {
		_, err := g.Optimize(context.Background(), "profile/broken.png", []byte("not a png"))
		assert.ErrorIs(t, err, ErrEncoding)
	})
}

func TestPlaceholder(t *testing.T) {
	g := NewGenerator(config.Default(), zap.NewNop())
	src, err := Decode(testJPEG(t, 160, 90))
	require.NoError(t, err)

	p, err := g.Placeholder(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 160, p.Width)
	assert.Equal(t, 90, p.Height)
	assert.Equal(t, 1.778, p.AspectRatio)
	require.True(t, strings.HasPrefix(p.Base64, "data:image/webp;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(p.Base64, "data:image/webp;base64,"))
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 20, cfg.Width)
}
