// Package variantkey derives object store keys for variants. Keys are a pure function of the
// source path, width and format so the edge server can guess candidates without a listing:
//
//	Key("images/hero.jpg", 800, "webp") == "images/hero-800.webp"
//	Key("images/hero.gif", Original, "webp") == "images/hero.webp"
package variantkey

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Original is the width used for variants that keep the intrinsic size of the source. Their keys
// carry no size suffix.
const Original = 0

var sizedRe = regexp.MustCompile(`^(.+)-([1-9][0-9]*)\.([A-Za-z0-9]+)$`)

// Stem returns the key without its extension.
func Stem(key string) string {
	return strings.TrimSuffix(key, path.Ext(key))
}

// Key builds the key of a variant from a source path.
func Key(sourcePath string, width int, format string) string {
	return FromStem(Stem(sourcePath), width, format)
}

// FromStem builds the key of a variant from an extension-less stem.
func FromStem(stem string, width int, format string) string {
	format = strings.ToLower(format)
	if width == Original {
		return stem + "." + format
	}
	return stem + "-" + strconv.Itoa(width) + "." + format
}

// Parsed is a key broken into its parts. Sized is false for keys without a size suffix, in which
// case Width is Original.
type Parsed struct {
	Stem   string
	Width  int
	Format string
	Sized  bool
}

// Parse splits key into stem, width and format. Whether a numeric suffix really is a size suffix
// (and not part of a file name like "photo-2019.jpg") can only be decided by the caller based on
// the configured widths.
func Parse(key string) Parsed {
	if m := sizedRe.FindStringSubmatch(key); m != nil {
		if width, err := strconv.Atoi(m[2]); err == nil {
			return Parsed{Stem: m[1], Width: width, Format: strings.ToLower(m[3]), Sized: true}
		}
	}
	return Parsed{
		Stem:   Stem(key),
		Width:  Original,
		Format: strings.ToLower(strings.TrimPrefix(path.Ext(key), ".")),
	}
}
