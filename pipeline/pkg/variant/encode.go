package variant

import (
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
)

const (
	webpMethod = 6
	avifSpeed  = 4
)

// Params are the encoder settings chosen for one variant.
type Params struct {
	Width   int
	Quality int
}

type Encoder func(w io.Writer, img image.Image, p Params) error

func encodeWebP(w io.Writer, img image.Image, p Params) error {
	return webp.Encode(w, img, webp.Options{Quality: p.Quality, Method: webpMethod})
}

// encodeAVIF uses 4:2:0 chroma subsampling for large widths and full chroma resolution for
// small ones, where color bleeding is more visible.
func encodeAVIF(w io.Writer, img image.Image, p Params) error {
	subsampling := image.YCbCrSubsampleRatio444
	if p.Width > 800 || p.Width == 0 {
		subsampling = image.YCbCrSubsampleRatio420
	}
	return avif.Encode(w, img, avif.Options{
		Quality:           p.Quality,
		QualityAlpha:      p.Quality,
		Speed:             avifSpeed,
		ChromaSubsampling: subsampling,
	})
}

func encodeJPEG(w io.Writer, img image.Image, p Params) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(p.Quality))
}

func encodePNG(w io.Writer, img image.Image, _ Params) error {
	return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
}

func defaultEncoders() map[string]Encoder {
	return map[string]Encoder{
		"webp": encodeWebP,
		"avif": encodeAVIF,
		"jpg":  encodeJPEG,
		"png":  encodePNG,
	}
}
