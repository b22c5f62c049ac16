package filesystem

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileFilter(t *testing.T) {
	fi := FileInfo{
		Path:  "projects/site/hero.jpg",
		Dir:   "projects/site",
		Name:  "hero.jpg",
		Stem:  "hero",
		Ext:   "jpg",
		Size:  123456,
		Mtime: time.Now().Add(-2 * time.Hour),
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"MatchName", `name == "hero.jpg"`, true},
		{"NoMatchName", `name == "other.jpg"`, false},
		{"MatchPath", `path == "projects/site/hero.jpg"`, true},
		{"MatchDir", `dir == "projects/site"`, true},
		{"MatchStem", `stem == "hero"`, true},
		{"MatchExt", `ext == "jpg"`, true},
		{"ExtIn", `ext in ["png", "jpg"]`, true},
		{"NoMatchSize", `size > 200000`, false},
		{"MtimeOlderThan1h", `mtime > 1h`, true},
		{"MtimeNewerThan30m", `mtime < 30m`, false},
		{"MtimeNewerThan1w", `mtime < 1w`, true},
		{"SizeUnitsKB", `size >= 120KB`, true},
		{"SizeUnitsMiB", `size < 1MiB`, true},
		{"SizeUnitsNoB", `size < 1Mi`, true},
		{"GlobName", `glob(name, "*.jpg")`, true},
		{"GlobPathDoublestar", `glob(path, "projects/**/*.jpg")`, true},
		{"NoGlobMatch", `glob(name, "foo*")`, false},
		{"RegexName", `regex(name, "^hero\\.(jpg|png)$")`, true},
		{"Combined", `ext == "jpg" and size > 100KB and not glob(dir, "drafts/**")`, true},
		{"ExplicitHelpers", `size > bytes("100KB") && mtime < ago("3h")`, true},
		{"Negation", `!(size == 123456)`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := CompileFilter(tt.expr)
			require.NoError(t, err, "CompileFilter(%q)", tt.expr)
			ok, err := filter(fi)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ok, "filter(%q)", tt.expr)
		})
	}
}

func TestCompileFilterInvalid(t *testing.T) {
	for _, expr := range []string{
		"not_a_valid_expr(",
		`size + 1`,
		`name`,
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := CompileFilter(expr)
			assert.Error(t, err)
		})
	}
}

func TestPreprocessDSL(t *testing.T) {
	cases := []struct {
		input    string
		contains string
	}{
		{`mtime > 1d`, `Mtime < ago("1d")`},
		{`mtime <= 2w`, `Mtime >= ago("2w")`},
		{`size >= 2MiB`, `Size >= bytes("2MiB")`},
		{`EXT == "png"`, `Ext == "png"`},
	}
	for _, tt := range cases {
		t.Run(tt.input, func(t *testing.T) {
			assert.Contains(t, preprocessDSL(tt.input), tt.contains)
		})
	}
}

func TestParseBytes(t *testing.T) {
	cases := map[string]int64{
		"1B":    1,
		"2KB":   2000,
		"2kB":   2000,
		"3MiB":  3 << 20,
		"1.5Gi": 3 << 29,
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := parseBytes(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
	_, err := parseBytes("B")
	assert.Error(t, err)
}

func TestParseExtendedDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"90s": 90 * time.Second,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"1M":  30 * 24 * time.Hour,
		"1y":  365 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := parseExtendedDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseExtendedDuration("xd")
	assert.Error(t, err)
}

func TestApplyFilter(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "public/images/work/Hero.JPG", make([]byte, 42), 0o640))
	info, err := fs.Stat("public/images/work/Hero.JPG")
	require.NoError(t, err)

	fi := ToFileInfo("work/Hero.JPG", info)
	assert.Equal(t, "jpg", fi.Ext)
	assert.Equal(t, "Hero", fi.Stem)
	assert.Equal(t, "work", fi.Dir)
	assert.Equal(t, int64(42), fi.Size)
	assert.Empty(t, ToFileInfo("Hero.JPG", info).Dir)

	keep, err := ApplyFilter("work/Hero.JPG", info, nil)
	require.NoError(t, err)
	assert.True(t, keep)

	filter, err := CompileFilter(`dir == "work" and size < 1KB`)
	require.NoError(t, err)
	keep, err = ApplyFilter("work/Hero.JPG", info, filter)
	require.NoError(t, err)
	assert.True(t, keep)
}
