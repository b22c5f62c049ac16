package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-assets/assets-go/common/configmgr"
	"github.com/portfolio-assets/assets-go/common/objstore"
	"github.com/portfolio-assets/assets-go/edge/pkg/resolver"
)

func flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("cfg-file", "", "")
	fs.String("store.type", "local", "")
	fs.String("store.local-path", "/tmp/store", "")
	fs.IntSlice("resolver.widths", []int{400, 800, 1200}, "")
	fs.StringSlice("resolver.formats", []string{"avif", "webp"}, "")
	fs.Int("resolver.default-width", 800, "")
	fs.Duration("cache.ttl", 0, "")
	return fs
}

func TestLoad(t *testing.T) {
	t.Setenv("ASSETS_EDGE_RESOLVER__FORMATS", "webp")
	t.Setenv("ASSETS_EDGE_CACHE__TTL", "90s")
	mgr, err := configmgr.New(flags(), "ASSETS_EDGE_", &AppConfig{})
	require.NoError(t, err)
	cfg := mgr.Get().(*AppConfig)
	assert.Equal(t, objstore.TypeLocal, cfg.Store.Type)
	assert.Equal(t, []int{400, 800, 1200}, cfg.GetResolverConfig().Widths)
	assert.Equal(t, []string{"webp"}, cfg.GetResolverConfig().Formats)
	assert.Equal(t, "1m30s", cfg.Cache.TTL.String())
}

func TestValidateConfig(t *testing.T) {
	cfg := &AppConfig{
		Store:    objstore.Config{Type: objstore.TypeR2, Bucket: "assets"},
		Resolver: resolver.DefaultConfig(),
	}
	err := cfg.ValidateConfig()
	assert.ErrorIs(t, err, configmgr.ErrConfiguration)
	assert.ErrorContains(t, err, "account-id")

	cfg.Store = objstore.Config{Type: objstore.TypeLocal, LocalPath: "/tmp/x"}
	assert.NoError(t, cfg.ValidateConfig())
	cfg.Resolver.Formats = nil
	assert.ErrorIs(t, cfg.ValidateConfig(), configmgr.ErrConfiguration)
}

func TestUpdateAllowed(t *testing.T) {
	current := &AppConfig{Store: objstore.Config{Type: objstore.TypeLocal, LocalPath: "/a"}, Resolver: resolver.DefaultConfig()}

	next := *current
	next.Resolver.Formats = []string{"webp"}
	assert.NoError(t, current.UpdateAllowed(&next))

	next = *current
	next.Store.LocalPath = "/b"
	assert.ErrorContains(t, current.UpdateAllowed(&next), "store configuration")

	next = *current
	next.Server.Address = ":1"
	assert.ErrorContains(t, current.UpdateAllowed(&next), "server configuration")
}
