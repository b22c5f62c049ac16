// Package variant renders resized and re-encoded variants of a source image.
package variant

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"math"
	"path"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/common/variantkey"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/config"
)

const (
	// originalQuality is used for variants that keep the intrinsic width.
	originalQuality  = 80
	placeholderWidth = 20
	placeholderBlur  = 2.0
	placeholderQual  = 60
	// Files uploaded without variants are scaled down to fit into this box.
	maxUploadDimension = 2400
	uploadQuality      = 90
)

var ErrEncoding = errors.New("encoding failed")

// EncodingError is returned when a single variant could not be rendered. It matches ErrEncoding
// and the underlying cause with errors.Is.
type EncodingError struct {
	Key string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("unable to encode %s: %v", e.Key, e.Err)
}

func (e *EncodingError) Unwrap() []error {
	return []error{ErrEncoding, e.Err}
}

// Decoded is a source image decoded once with its EXIF orientation applied. Metadata is not
// carried over into any variant.
type Decoded struct {
	Image  image.Image
	Width  int
	Height int
}

func Decode(data []byte) (*Decoded, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrEncoding)
	}
	return &Decoded{Image: img, Width: b.Dx(), Height: b.Dy()}, nil
}

type Variant struct {
	Key string
	// Width is the configured width used in the key, EncodedWidth the actual width which is smaller
	// when the source is narrower than the configured width.
	Width        int
	EncodedWidth int
	Format       string
	Quality      int
	ContentType  string
	Data         []byte
}

type Placeholder struct {
	Base64      string
	Width       int
	Height      int
	AspectRatio float64
}

type Generator struct {
	cfg      config.Processing
	encoders map[string]Encoder
	log      *zap.Logger
	warned   sync.Map
}

type GeneratorOpt func(*Generator)

// WithEncoder replaces the encoder used for format.
func WithEncoder(format string, enc Encoder) GeneratorOpt {
	return func(g *Generator) {
		g.encoders[config.NormalizeFormat(format)] = enc
	}
}

func NewGenerator(cfg config.Processing, log *zap.Logger, opts ...GeneratorOpt) *Generator {
	g := &Generator{
		cfg:      cfg,
		encoders: defaultEncoders(),
		log:      log.With(zap.String("component", "variant")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Quality returns the quality for a format and width. Smaller widths get a higher quality. AVIF
// reaches the same perceived quality at lower settings so it is offset from the configured value.
func (g *Generator) Quality(format string, width int) int {
	quality := originalQuality
	if width != variantkey.Original {
		var configured bool
		quality, configured = g.cfg.QualityFor(width)
		if !configured {
			if _, warned := g.warned.LoadOrStore(width, struct{}{}); !warned {
				g.log.Warn("no quality configured for width, using default", zap.Int("width", width), zap.Int("quality", quality))
			}
		}
	}
	if format != "avif" {
		return quality
	}
	offset := 25
	switch {
	case width == variantkey.Original:
	case width <= 400:
		offset = 15
	case width <= 800:
		offset = 20
	}
	return max(quality-offset, 1)
}

// Generate renders one variant of src. Widths larger than the source are clamped to the source
// width, images are never enlarged.
func (g *Generator) Generate(ctx context.Context, sourcePath string, src *Decoded, width int, format string) (*Variant, error) {
	format = config.NormalizeFormat(format)
	key := variantkey.Key(sourcePath, width, format)
	enc, ok := g.encoders[format]
	if !ok {
		return nil, &EncodingError{Key: key, Err: fmt.Errorf("unsupported format %q", format)}
	}

	img := src.Image
	if width != variantkey.Original && width < src.Width {
		img = imaging.Resize(src.Image, width, 0, imaging.Lanczos)
	}

	params := Params{Width: width, Quality: g.Quality(format, width)}
	data, err := g.encode(ctx, enc, img, params)
	if err != nil {
		return nil, &EncodingError{Key: key, Err: err}
	}
	return &Variant{
		Key:          key,
		Width:        width,
		EncodedWidth: img.Bounds().Dx(),
		Format:       format,
		Quality:      params.Quality,
		ContentType:  objstore.ContentTypeFor(key),
		Data:         data,
	}, nil
}

func (g *Generator) encode(ctx context.Context, enc Encoder, img image.Image, p Params) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run := func() ([]byte, error) {
		var buf bytes.Buffer
		if err := enc(&buf, img, p); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	if g.cfg.EncodeTimeout <= 0 {
		return run()
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.EncodeTimeout)
	defer cancel()
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := run()
		done <- result{data, err}
	}()
	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Passthrough returns the source bytes unchanged under the path of the source. The key keeps the
// case of the file name so requests for the original name resolve.
func (g *Generator) Passthrough(sourcePath string, data []byte) *Variant {
	return &Variant{
		Key:         sourcePath,
		Width:       variantkey.Original,
		Format:      strings.ToLower(strings.TrimPrefix(path.Ext(sourcePath), ".")),
		ContentType: objstore.ContentTypeFor(sourcePath),
		Data:        data,
	}
}

// Optimize prepares a single file that is uploaded to key as is, without variants. JPEG, PNG and
// WebP images are scaled down to fit into 2400x2400 and re-encoded in their own format. Other files
// and images that would not get smaller are returned unchanged.
func (g *Generator) Optimize(ctx context.Context, key string, data []byte) (*Variant, error) {
	format := config.NormalizeFormat(strings.TrimPrefix(path.Ext(key), "."))
	enc, ok := g.encoders[format]
	if !ok || format == "avif" {
		return g.Passthrough(key, data), nil
	}
	src, err := Decode(data)
	if err != nil {
		return nil, &EncodingError{Key: key, Err: err}
	}

	img := src.Image
	resized := src.Width > maxUploadDimension || src.Height > maxUploadDimension
	if resized {
		img = imaging.Fit(src.Image, maxUploadDimension, maxUploadDimension, imaging.Lanczos)
	}
	params := Params{Width: img.Bounds().Dx(), Quality: uploadQuality}
	out, err := g.encode(ctx, enc, img, params)
	if err != nil {
		return nil, &EncodingError{Key: key, Err: err}
	}
	if !resized && len(out) >= len(data) {
		return g.Passthrough(key, data), nil
	}
	return &Variant{
		Key:          key,
		Width:        variantkey.Original,
		EncodedWidth: params.Width,
		Format:       format,
		Quality:      params.Quality,
		ContentType:  objstore.ContentTypeFor(key),
		Data:         out,
	}, nil
}

// Placeholder renders a tiny blurred WebP preview as a data URI. Width and Height are the
// dimensions of the source so the page can reserve space before the full image loads.
func (g *Generator) Placeholder(ctx context.Context, src *Decoded) (*Placeholder, error) {
	thumb := imaging.Resize(src.Image, min(placeholderWidth, src.Width), 0, imaging.Lanczos)
	thumb = imaging.Blur(thumb, placeholderBlur)
	data, err := g.encode(ctx, g.encoders["webp"], thumb, Params{Width: placeholderWidth, Quality: placeholderQual})
	if err != nil {
		return nil, &EncodingError{Key: "placeholder", Err: err}
	}
	return &Placeholder{
		Base64:      "data:image/webp;base64," + base64.StdEncoding.EncodeToString(data),
		Width:       src.Width,
		Height:      src.Height,
		AspectRatio: math.Round(float64(src.Width)/float64(src.Height)*1000) / 1000,
	}, nil
}
