// Package config holds the processing configuration: which widths and formats are generated, the
// quality policy and per-extension rule overrides. It is loaded from a YAML file (assets.yaml by
// default) and can be adjusted using flags afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/portfolio-assets/assets-go/common/configmgr"
)

// DefaultQuality is used for widths missing from the quality map.
const DefaultQuality = 85

// OriginalSize is the YAML spelling of variantkey.Original in size lists.
const OriginalSize = "original"

// SupportedFormats lists the output formats the variant generator can encode.
var SupportedFormats = []string{"avif", "webp", "jpg", "png"}

// SizeList is a list of target widths where 0 means the intrinsic width of the source. In YAML the
// intrinsic width is written as "original".
type SizeList []int

func (s *SizeList) UnmarshalYAML(node *yaml.Node) error {
	var raw []any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	sizes := make(SizeList, 0, len(raw))
	for _, r := range raw {
		switch v := r.(type) {
		case int:
			sizes = append(sizes, v)
		case string:
			if strings.EqualFold(v, OriginalSize) {
				sizes = append(sizes, 0)
				continue
			}
			width, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid size %q (expected a width or %q)", v, OriginalSize)
			}
			sizes = append(sizes, width)
		default:
			return fmt.Errorf("invalid size %v (expected a width or %q)", r, OriginalSize)
		}
	}
	*s = sizes
	return nil
}

// RuleOverride replaces the fields it sets on the built-in rule for an extension, or defines a new
// rule for an unknown extension.
type RuleOverride struct {
	Formats     []string `yaml:"formats"`
	Sizes       SizeList `yaml:"sizes"`
	Skip        *bool    `yaml:"skip"`
	Passthrough *bool    `yaml:"passthrough"`
	Placeholder *bool    `yaml:"placeholder"`
}

type Processing struct {
	Sizes              SizeList                `yaml:"sizes"`
	Formats            []string                `yaml:"formats"`
	Quality            map[int]int             `yaml:"quality"`
	SkipUnchanged      bool                    `yaml:"skipUnchanged"`
	EnablePlaceholders bool                    `yaml:"enablePlaceholders"`
	Rules              map[string]RuleOverride `yaml:"rules"`
	// EncodeTimeout bounds a single encode operation. Zero disables the timeout.
	EncodeTimeout time.Duration `yaml:"encodeTimeout"`
}

func Default() Processing {
	return Processing{
		Sizes:              SizeList{400, 800, 1200},
		Formats:            []string{"webp", "avif"},
		Quality:            map[int]int{400: 90, 800: 85, 1200: 80},
		SkipUnchanged:      true,
		EnablePlaceholders: false,
		Rules:              map[string]RuleOverride{},
	}
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(fsys afero.Fs, path string) (Processing, error) {
	cfg := Default()
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("%w: unable to read %s: %w", configmgr.ErrConfiguration, path, err)
	}
	// Decoding into a non-nil map merges keys, a quality map in the file replaces the defaults.
	defaultQuality := cfg.Quality
	cfg.Quality = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: unable to parse %s: %w", configmgr.ErrConfiguration, path, err)
	}
	if cfg.Quality == nil {
		cfg.Quality = defaultQuality
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (p *Processing) normalize() {
	for i, f := range p.Formats {
		p.Formats[i] = NormalizeFormat(f)
	}
	if p.Quality == nil {
		p.Quality = map[int]int{}
	}
	rules := make(map[string]RuleOverride, len(p.Rules))
	for ext, o := range p.Rules {
		for i, f := range o.Formats {
			o.Formats[i] = NormalizeFormat(f)
		}
		rules[NormalizeExt(ext)] = o
	}
	p.Rules = rules
}

// Validate rejects configuration the processor cannot act on.
func (p Processing) Validate() error {
	var errs []error
	if len(p.Sizes) == 0 {
		errs = append(errs, errors.New("at least one size is required"))
	}
	if len(p.Formats) == 0 {
		errs = append(errs, errors.New("at least one format is required"))
	}
	errs = append(errs, validateSizes("sizes", p.Sizes)...)
	errs = append(errs, validateFormats("formats", p.Formats)...)
	for width, q := range p.Quality {
		if q < 0 || q > 100 {
			errs = append(errs, fmt.Errorf("quality for width %d must be between 0 and 100 (got %d)", width, q))
		}
	}
	for ext, o := range p.Rules {
		errs = append(errs, validateSizes("rules."+ext+".sizes", o.Sizes)...)
		errs = append(errs, validateFormats("rules."+ext+".formats", o.Formats)...)
	}
	if p.EncodeTimeout < 0 {
		errs = append(errs, errors.New("encodeTimeout must not be negative"))
	}
	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", configmgr.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

func validateSizes(field string, sizes SizeList) []error {
	var errs []error
	for _, s := range sizes {
		if s < 0 {
			errs = append(errs, fmt.Errorf("%s: width %d must be positive", field, s))
		}
	}
	return errs
}

func validateFormats(field string, formats []string) []error {
	var errs []error
	for _, f := range formats {
		if !slices.Contains(SupportedFormats, f) {
			errs = append(errs, fmt.Errorf("%s: unsupported format %q (supported: %s)", field, f, strings.Join(SupportedFormats, ", ")))
		}
	}
	return errs
}

// QualityFor returns the configured quality for width. The second return value is false when the
// default was used.
func (p Processing) QualityFor(width int) (int, bool) {
	if q, ok := p.Quality[width]; ok {
		return q, true
	}
	return DefaultQuality, false
}

// NormalizeExt lower cases ext and ensures it has a leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// NormalizeFormat lower cases format and maps "jpeg" onto "jpg".
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "jpeg" {
		return "jpg"
	}
	return format
}
