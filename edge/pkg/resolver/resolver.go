// Package resolver maps an image request to the best stored variant. Keys are guessed from the
// request path and the negotiation hints, the store is never listed. When the ideal variant is
// missing a bounded, deterministic fallback chain is tried:
//
//  1. the same width in the next preferred format,
//  2. the next smaller configured width in the requested format,
//  3. the next smaller width in the next preferred format (and so on down to the smallest width),
//  4. the unsized original under the known original extensions.
package resolver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/portfolio-assets/assets-go/common/configmgr"
	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/common/variantkey"
)

var (
	ErrNotFound = errors.New("image not found")
	ErrLookup   = errors.New("unable to look up image")
)

// originalExts are tried in this order for the unsized original.
var originalExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}

// rasterExts are the extensions of unsized requests that may be upgraded to a variant.
var rasterExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif", ".bmp", ".tif", ".tiff"}

type Config struct {
	// Widths are the widths the processor renders.
	Widths []int `mapstructure:"widths"`
	// Formats are the variant formats in preference order, most efficient first.
	Formats []string `mapstructure:"formats"`
	// DefaultWidth is used for unsized requests without any width hint.
	DefaultWidth int `mapstructure:"default-width"`
}

func DefaultConfig() Config {
	return Config{
		Widths:       []int{400, 800, 1200},
		Formats:      []string{"avif", "webp"},
		DefaultWidth: 800,
	}
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Widths) == 0 {
		errs = append(errs, errors.New("at least one width is required"))
	}
	for _, w := range c.Widths {
		if w <= 0 {
			errs = append(errs, fmt.Errorf("invalid width %d", w))
		}
	}
	if len(c.Formats) == 0 {
		errs = append(errs, errors.New("at least one format is required"))
	}
	if c.DefaultWidth <= 0 {
		errs = append(errs, fmt.Errorf("invalid default width %d", c.DefaultWidth))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: resolver: %w", configmgr.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Configurer is implemented by application configurations that carry a resolver configuration.
type Configurer interface {
	GetResolverConfig() Config
}

// Result is the object a request resolved to.
type Result struct {
	// Key is the key that was found, it differs from the requested key if a fallback was used.
	Key string
	// Depth is the position of Key in the candidate chain, 0 for the first candidate.
	Depth int
	// Object has no Body when returned by Stat.
	Object *objstore.Object
}

type Resolver struct {
	store objstore.Getter
	log   *zap.Logger
	mu    sync.RWMutex
	cfg   Config
	// version identifies cfg, see ConfigVersion.
	version string
}

func New(store objstore.Getter, cfg Config, log *zap.Logger) (*Resolver, error) {
	r := &Resolver{
		store: store,
		log:   log.With(zap.String("component", "resolver")),
	}
	if err := r.setConfig(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) setConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Widths = slices.Clone(cfg.Widths)
	slices.Sort(cfg.Widths)
	cfg.Widths = slices.Compact(cfg.Widths)
	cfg.Formats = slices.Clone(cfg.Formats)
	sum := blake3.Sum256(fmt.Appendf(nil, "%v|%v|%d", cfg.Widths, cfg.Formats, cfg.DefaultWidth))
	r.mu.Lock()
	r.cfg = cfg
	r.version = hex.EncodeToString(sum[:6])
	r.mu.Unlock()
	return nil
}

// ConfigVersion identifies the current widths, formats and default width. It changes whenever a
// reload changes how requests resolve and is equal on every instance running the same
// configuration, so it can be part of shared cache keys.
func (r *Resolver) ConfigVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// UpdateConfiguration swaps the widths and formats used to build candidate chains. It is called by
// the configuration manager on reload.
func (r *Resolver) UpdateConfiguration(newConfig any) error {
	configurer, ok := newConfig.(Configurer)
	if !ok {
		return fmt.Errorf("unable to get resolver configuration from the application configuration (most likely this indicates a bug): %T", newConfig)
	}
	cfg := configurer.GetResolverConfig()
	if err := r.setConfig(cfg); err != nil {
		return err
	}
	r.log.Info("updated resolver configuration", zap.Ints("widths", cfg.Widths), zap.Strings("formats", cfg.Formats))
	return nil
}

func (r *Resolver) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Plan returns the candidate keys for key in the order they are tried.
func (r *Resolver) Plan(key string, h Hints) []string {
	cfg := r.config()
	var candidates []string

	parsed := variantkey.Parse(key)
	if parsed.Sized && slices.Contains(cfg.Widths, parsed.Width) {
		format := parsed.Format
		if h.Format != "" {
			format = h.Format
		}
		width := parsed.Width
		if h.SaveData {
			width = stepDown(cfg.Widths, width)
		}
		// The client asked for this variant explicitly, every less preferred format is assumed to
		// be supported as well.
		formats := fallbackFormats(cfg.Formats, format, func(string) bool { return true })
		candidates = append(candidates, sized(parsed.Stem, cfg.Widths, width, formats)...)
		candidates = append(candidates, originals(parsed.Stem)...)
		return dedupe(candidates)
	}

	stem := variantkey.Stem(key)
	if !slices.Contains(rasterExts, strings.ToLower(path.Ext(key))) {
		return []string{key}
	}
	format := h.Format
	if format == "" {
		for _, f := range cfg.Formats {
			if h.Accepts(f) {
				format = f
				break
			}
		}
	}
	if format != "" {
		width := snap(cfg.Widths, h.TargetWidth(), cfg.DefaultWidth)
		if h.SaveData {
			width = stepDown(cfg.Widths, width)
		}
		formats := fallbackFormats(cfg.Formats, format, h.Accepts)
		candidates = append(candidates, sized(stem, cfg.Widths, width, formats)...)
	}
	candidates = append(candidates, key)
	candidates = append(candidates, originals(stem)...)
	return dedupe(candidates)
}

// Resolve fetches the first candidate of the chain that exists. Missing candidates and transient
// store failures move on to the next candidate. If no candidate exists the error is ErrNotFound,
// or ErrLookup if at least one lookup failed for another reason.
func (r *Resolver) Resolve(ctx context.Context, key string, h Hints) (*Result, error) {
	return r.walk(ctx, key, h, func(ctx context.Context, candidate string) (*objstore.Object, error) {
		return r.store.Get(ctx, candidate)
	})
}

// Stat is Resolve without reading the body, used to answer conditional requests.
func (r *Resolver) Stat(ctx context.Context, key string, h Hints) (*Result, error) {
	return r.walk(ctx, key, h, func(ctx context.Context, candidate string) (*objstore.Object, error) {
		info, err := r.store.Head(ctx, candidate)
		if err != nil {
			return nil, err
		}
		return &objstore.Object{ObjectInfo: *info}, nil
	})
}

func (r *Resolver) walk(ctx context.Context, key string, h Hints, fetch func(context.Context, string) (*objstore.Object, error)) (*Result, error) {
	var lastErr error
	for depth, candidate := range r.Plan(key, h) {
		obj, err := fetch(ctx, candidate)
		if err == nil {
			if depth > 0 {
				r.log.Debug("fallback used", zap.String("requested", key), zap.String("resolved", candidate), zap.Int("depth", depth))
			}
			return &Result{Key: candidate, Depth: depth, Object: obj}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, objstore.ErrNotFound) {
			continue
		}
		r.log.Warn("lookup failed, trying next candidate", zap.String("key", candidate), zap.Error(err))
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLookup, key, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// fallbackFormats returns start followed by the formats less preferred than start that pass ok.
// A start format outside the preference list has no fallback formats.
func fallbackFormats(preferred []string, start string, ok func(string) bool) []string {
	formats := []string{start}
	i := slices.Index(preferred, start)
	if i < 0 {
		return formats
	}
	for _, f := range preferred[i+1:] {
		if ok(f) {
			formats = append(formats, f)
		}
	}
	return formats
}

// sized returns the keys of every width <= start (descending) in every format.
func sized(stem string, widths []int, start int, formats []string) []string {
	var keys []string
	for i := len(widths) - 1; i >= 0; i-- {
		if widths[i] > start {
			continue
		}
		for _, f := range formats {
			keys = append(keys, variantkey.FromStem(stem, widths[i], f))
		}
	}
	return keys
}

func originals(stem string) []string {
	keys := make([]string, 0, len(originalExts))
	for _, ext := range originalExts {
		keys = append(keys, stem+ext)
	}
	return keys
}

// snap returns the smallest width >= target, the largest width if target exceeds every width. A
// zero target uses def.
func snap(widths []int, target int, def int) int {
	if target <= 0 {
		target = def
	}
	for _, w := range widths {
		if w >= target {
			return w
		}
	}
	return widths[len(widths)-1]
}

// stepDown returns the next smaller configured width, or width if it is the smallest.
func stepDown(widths []int, width int) int {
	prev := width
	for _, w := range widths {
		if w >= width {
			break
		}
		prev = w
	}
	return prev
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
