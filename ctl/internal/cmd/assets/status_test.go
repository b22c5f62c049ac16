package assets

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/portfolio-assets/assets-go/ctl/pkg/config"
	"github.com/portfolio-assets/assets-go/ctl/pkg/ctl/assets"
)

func TestUsageBar(t *testing.T) {
	tests := []struct {
		percentage int
		filled     int
	}{
		{0, 0},
		{50, 15},
		{85, 26},
		{100, 30},
		{130, 30},
	}
	for _, tt := range tests {
		bar := usageBar(tt.percentage)
		assert.Equal(t, barLength, utf8.RuneCountInString(bar))
		assert.Equal(t, tt.filled, strings.Count(bar, "█"), "percentage %d", tt.percentage)
	}
}

func TestLevelMessage(t *testing.T) {
	t.Cleanup(viper.Reset)
	assert.Contains(t, levelMessage(assets.LevelCritical), "CRITICAL: Storage usage above 90%")
	assert.Contains(t, levelMessage(assets.LevelWarning), "WARNING: Storage usage above 80%")

	viper.Set(config.DisableEmojisKey, true)
	assert.Equal(t, "Storage usage healthy", levelMessage(assets.LevelHealthy))
}

func TestFormatBytes(t *testing.T) {
	t.Cleanup(viper.Reset)
	assert.True(t, strings.HasSuffix(formatBytes(1536), "KiB"), formatBytes(1536))
	viper.Set(config.RawKey, true)
	assert.Equal(t, "1536", formatBytes(1536))
}
