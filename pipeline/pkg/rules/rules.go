// Package rules decides, per file extension, which variants the processor generates.
package rules

import (
	"maps"
	"slices"
	"strings"

	"github.com/portfolio-assets/assets-go/common/variantkey"
	"github.com/portfolio-assets/assets-go/pipeline/pkg/config"
)

type Rule struct {
	// Formats are output formats in the order variants are generated. Passthrough rules ignore
	// Formats and keep the source format.
	Formats []string
	// Sizes are target widths, variantkey.Original keeps the intrinsic width.
	Sizes []int
	// Skip rules never produce variants, even if other fields are set.
	Skip bool
	// Passthrough rules upload the source bytes unchanged.
	Passthrough bool
	// Placeholder enables the inline preview for the extension (if placeholders are enabled).
	Placeholder bool
}

// Spec identifies one variant to generate. An empty Format on a passthrough rule means the source
// extension.
type Spec struct {
	Width  int
	Format string
}

// Variants expands the rule into the (width, format) pairs to generate. Formats are the outer
// loop so all widths of the preferred format are produced first.
func (r Rule) Variants(ext string) []Spec {
	if r.Skip {
		return nil
	}
	if r.Passthrough {
		return []Spec{{Width: variantkey.Original, Format: strings.TrimPrefix(config.NormalizeExt(ext), ".")}}
	}
	specs := make([]Spec, 0, len(r.Formats)*len(r.Sizes))
	for _, f := range r.Formats {
		for _, w := range r.Sizes {
			specs = append(specs, Spec{Width: w, Format: f})
		}
	}
	return specs
}

type Resolver struct {
	rules map[string]Rule
}

// NewResolver builds the rule table from the defaults and the overrides in cfg. Raster rules use
// the global sizes and formats of cfg.
func NewResolver(cfg config.Processing) *Resolver {
	rules := map[string]Rule{
		".gif":  {Formats: []string{"webp"}, Sizes: []int{variantkey.Original}},
		".svg":  {Sizes: []int{variantkey.Original}, Passthrough: true},
		".pdf":  {Sizes: []int{variantkey.Original}, Passthrough: true},
		".webp": {Skip: true},
		".avif": {Skip: true},
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff"} {
		rules[ext] = Rule{
			Formats:     slices.Clone(cfg.Formats),
			Sizes:       slices.Clone(cfg.Sizes),
			Placeholder: true,
		}
	}

	for ext, o := range cfg.Rules {
		ext = config.NormalizeExt(ext)
		rule, ok := rules[ext]
		if !ok {
			rule = Rule{Formats: slices.Clone(cfg.Formats), Sizes: slices.Clone(cfg.Sizes)}
		}
		if o.Formats != nil {
			rule.Formats = slices.Clone(o.Formats)
		}
		if o.Sizes != nil {
			rule.Sizes = slices.Clone(o.Sizes)
		}
		if o.Skip != nil {
			rule.Skip = *o.Skip
		}
		if o.Passthrough != nil {
			rule.Passthrough = *o.Passthrough
		}
		if o.Placeholder != nil {
			rule.Placeholder = *o.Placeholder
		}
		rules[ext] = rule
	}
	return &Resolver{rules: rules}
}

// Resolve returns the rule for ext (case-insensitive, with or without the leading dot). The second
// return value is false for unsupported extensions.
func (r *Resolver) Resolve(ext string) (Rule, bool) {
	rule, ok := r.rules[config.NormalizeExt(ext)]
	return rule, ok
}

// Extensions returns all extensions with a rule, sorted.
func (r *Resolver) Extensions() []string {
	return slices.Sorted(maps.Keys(r.rules))
}
