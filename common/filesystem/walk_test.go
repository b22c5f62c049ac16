package filesystem

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, root string, files ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0o755))
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(root, f), []byte(f), 0o644))
	}
	return fs
}

func collect(t *testing.T, results <-chan *StreamSourceResult) (paths []string, resumeToken string) {
	t.Helper()
	for r := range results {
		require.NoError(t, r.Err)
		if r.ResumeToken != "" {
			resumeToken = r.ResumeToken
			continue
		}
		paths = append(paths, r.RelPath)
	}
	return paths, resumeToken
}

func TestStreamSourcesLexicographically(t *testing.T) {
	fs := newTestTree(t, "public/images",
		"projects/atlas.jpg",
		"projects/atlas/detail.jpg",
		"projects/atlas_cover.png",
		"work/hero",
		"work/hero.jpg",
		"work/hero_wide.png",
	)

	results, err := StreamSources(context.Background(), fs, "public/images")
	require.NoError(t, err)
	paths, token := collect(t, results)
	assert.Empty(t, token)
	assert.Equal(t, []string{
		"projects/atlas.jpg",
		"projects/atlas/detail.jpg", // The atlas directory is walked after atlas.jpg.
		"projects/atlas_cover.png",
		"work/hero", // A file without extension sorts before hero.jpg.
		"work/hero.jpg",
		"work/hero_wide.png",
	}, paths)
}

func TestStreamSourcesAbsolutePaths(t *testing.T) {
	fs := newTestTree(t, "public/images", "projects/hero.jpg")
	results, err := StreamSources(context.Background(), fs, "public/images")
	require.NoError(t, err)
	r := <-results
	require.NoError(t, r.Err)
	assert.Equal(t, "projects/hero.jpg", r.RelPath)
	assert.Equal(t, filepath.Join("public/images", "projects", "hero.jpg"), r.AbsPath)
	assert.Equal(t, int64(len("projects/hero.jpg")), r.Info.Size())
}

func TestStreamSourcesResume(t *testing.T) {
	fs := newTestTree(t, "src", "a.jpg", "b/c.jpg", "b/d.png", "e.gif", "f/g/h.svg")

	var all []string
	startAfter := ""
	for range 10 {
		results, err := StreamSources(context.Background(), fs, "src", WithStartAfter(startAfter), WithMaxPaths(2))
		require.NoError(t, err)
		paths, token := collect(t, results)
		all = append(all, paths...)
		if token == "" {
			break
		}
		startAfter = token
	}
	assert.Equal(t, []string{"a.jpg", "b/c.jpg", "b/d.png", "e.gif", "f/g/h.svg"}, all)
}

func TestStreamSourcesIncludeExcludeFilter(t *testing.T) {
	fs := newTestTree(t, "src", "a.jpg", "drafts/b.jpg", "c/d.png", "c/e.txt", "c/big.png")
	require.NoError(t, afero.WriteFile(fs, "src/c/big.png", make([]byte, 4096), 0o644))

	filter, err := CompileFilter(`size < 1KiB`)
	require.NoError(t, err)

	results, err := StreamSources(context.Background(), fs, "src",
		WithInclude("**/*.{jpg,png}"),
		WithExclude("drafts"),
		WithFilter(filter),
	)
	require.NoError(t, err)
	paths, _ := collect(t, results)
	assert.Equal(t, []string{"a.jpg", "c/d.png"}, paths)
}

func TestStreamSourcesErrors(t *testing.T) {
	fs := newTestTree(t, "src", "a.jpg")

	_, err := StreamSources(context.Background(), fs, "missing")
	assert.Error(t, err)

	_, err = StreamSources(context.Background(), fs, "src/a.jpg")
	assert.Error(t, err)

	_, err = StreamSources(context.Background(), fs, "src", WithMaxPaths(0))
	assert.Error(t, err)

	_, err = StreamSources(context.Background(), fs, "src", WithInclude("[a-"))
	assert.Error(t, err)
}

func TestStreamSourcesCancelled(t *testing.T) {
	files := make([]string, 0, 100)
	for i := range 100 {
		files = append(files, filepath.Join("dir", string(rune('a'+i%26))+string(rune('a'+i/26))+".jpg"))
	}
	fs := newTestTree(t, "src", files...)

	ctx, cancel := context.WithCancel(context.Background())
	results, err := StreamSources(ctx, fs, "src", WithChanSize(1))
	require.NoError(t, err)
	<-results
	cancel()

	received := 1
	for r := range results {
		if r.Err != nil {
			assert.ErrorIs(t, r.Err, context.Canceled)
			continue
		}
		received++
	}
	assert.Less(t, received, 100)
}
