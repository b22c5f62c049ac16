package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestZapLevel(t *testing.T) {
	tests := []struct {
		level int8
		want  zapcore.Level
	}{
		{-1, zapcore.FatalLevel},
		{0, zapcore.FatalLevel},
		{1, zapcore.ErrorLevel},
		{2, zapcore.WarnLevel},
		{3, zapcore.InfoLevel},
		{4, zapcore.DebugLevel},
		{5, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Config{Level: tt.level}.ZapLevel(), "level %d", tt.level)
	}
}

func TestNewLogFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "edge.log")
	l, err := New(Config{Type: LogFile, File: file, Level: 3, MaxSize: 1, NumRotatedFiles: 1})
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNewInvalid(t *testing.T) {
	_, err := New(Config{Type: "syslog"})
	assert.Error(t, err)
	_, err = New(Config{Type: LogFile})
	assert.Error(t, err)
}
