package variantkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		source string
		width  int
		format string
		want   string
	}{
		{"images/hero.jpg", 400, "webp", "images/hero-400.webp"},
		{"images/hero.jpg", 1200, "AVIF", "images/hero-1200.avif"},
		{"images/anim.gif", Original, "webp", "images/anim.webp"},
		{"documents/cv.pdf", Original, "pdf", "documents/cv.pdf"},
		{"images/nested/dir/a.b.png", 800, "webp", "images/nested/dir/a.b-800.webp"},
		{"images/noext", 800, "webp", "images/noext-800.webp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.source, tt.width, tt.format))
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		key  string
		want Parsed
	}{
		{"images/hero-800.webp", Parsed{Stem: "images/hero", Width: 800, Format: "webp", Sized: true}},
		{"images/hero-1200.AVIF", Parsed{Stem: "images/hero", Width: 1200, Format: "avif", Sized: true}},
		{"images/hero.jpg", Parsed{Stem: "images/hero", Format: "jpg"}},
		{"images/my-photo.png", Parsed{Stem: "images/my-photo", Format: "png"}},
		{"images/photo-2019.jpg", Parsed{Stem: "images/photo", Width: 2019, Format: "jpg", Sized: true}},
		{"images/zero-0.webp", Parsed{Stem: "images/zero-0", Format: "webp"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.key))
		})
	}
}

func TestParseInvertsKey(t *testing.T) {
	key := Key("images/a/b/hero.jpeg", 800, "webp")
	p := Parse(key)
	assert.Equal(t, key, FromStem(p.Stem, p.Width, p.Format))
}
