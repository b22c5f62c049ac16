package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-assets/assets-go/pipeline/pkg/config"
)

func boolPtr(b bool) *bool { return &b }

func TestResolveDefaults(t *testing.T) {
	r := NewResolver(config.Default())

	tests := []struct {
		ext      string
		want     []Spec
		ok       bool
		skip     bool
		passthru bool
	}{
		{ext: ".jpg", ok: true, want: []Spec{
			{400, "webp"}, {800, "webp"}, {1200, "webp"},
			{400, "avif"}, {800, "avif"}, {1200, "avif"},
		}},
		{ext: "JPEG", ok: true, want: []Spec{
			{400, "webp"}, {800, "webp"}, {1200, "webp"},
			{400, "avif"}, {800, "avif"}, {1200, "avif"},
		}},
		{ext: ".GIF", ok: true, want: []Spec{{0, "webp"}}},
		{ext: ".svg", ok: true, passthru: true, want: []Spec{{0, "svg"}}},
		{ext: "pdf", ok: true, passthru: true, want: []Spec{{0, "pdf"}}},
		{ext: ".webp", ok: true, skip: true},
		{ext: ".avif", ok: true, skip: true},
		{ext: ".txt"},
		{ext: ""},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			rule, ok := r.Resolve(tt.ext)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.skip, rule.Skip)
			assert.Equal(t, tt.passthru, rule.Passthrough)
			assert.Equal(t, tt.want, rule.Variants(tt.ext))
		})
	}
}

func TestSkipWinsOverPopulatedFields(t *testing.T) {
	cfg := config.Default()
	cfg.Rules = map[string]config.RuleOverride{
		".png": {Skip: boolPtr(true)},
	}
	rule, ok := NewResolver(cfg).Resolve(".png")
	require.True(t, ok)
	assert.NotEmpty(t, rule.Formats)
	assert.NotEmpty(t, rule.Sizes)
	assert.Empty(t, rule.Variants(".png"))
}

func TestOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Sizes = config.SizeList{320, 640}
	cfg.Formats = []string{"avif"}
	cfg.Rules = map[string]config.RuleOverride{
		"GIF":   {Sizes: config.SizeList{0, 640}},
		".heic": {Formats: []string{"webp"}},
		".webp": {Skip: boolPtr(false), Formats: []string{"avif"}, Sizes: config.SizeList{640}},
	}
	r := NewResolver(cfg)

	gif, ok := r.Resolve(".gif")
	require.True(t, ok)
	assert.Equal(t, []Spec{{0, "webp"}, {640, "webp"}}, gif.Variants(".gif"))

	heic, ok := r.Resolve(".HEIC")
	require.True(t, ok)
	assert.Equal(t, []Spec{{320, "webp"}, {640, "webp"}}, heic.Variants(".heic"))

	webp, ok := r.Resolve(".webp")
	require.True(t, ok)
	assert.Equal(t, []Spec{{640, "avif"}}, webp.Variants(".webp"))

	jpg, ok := r.Resolve(".jpg")
	require.True(t, ok)
	assert.Equal(t, []Spec{{320, "avif"}, {640, "avif"}}, jpg.Variants(".jpg"))
	assert.True(t, jpg.Placeholder)

	assert.Contains(t, r.Extensions(), ".heic")
}

func TestRasterRulesDoNotShareSlices(t *testing.T) {
	r := NewResolver(config.Default())
	jpg, _ := r.Resolve(".jpg")
	jpg.Formats[0] = "png"
	png, _ := r.Resolve(".png")
	assert.Equal(t, "webp", png.Formats[0])
}
