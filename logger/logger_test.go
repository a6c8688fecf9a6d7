package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mohamedbeat/yeet/config"
)

func TestInitLogger(t *testing.T) {
	lg, err := InitLogger(config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	assert.False(t, lg.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, lg.Core().Enabled(zapcore.WarnLevel))
	assert.Same(t, lg, zap.L())
}

func TestInitLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yeet.log")
	lg, err := InitLogger(config.LogConfig{Level: "info", Format: "console", File: path})
	require.NoError(t, err)

	lg.Info("hello", zap.String("k", "v"))
	_ = lg.Sync()

	assert.FileExists(t, path)
}

func TestInitLogger_BadLevel(t *testing.T) {
	_, err := InitLogger(config.LogConfig{Level: "shout"})
	assert.Error(t, err)
}

func TestNewWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWriterLogger(&buf, zapcore.DebugLevel)
	lg.Debug("decision", zap.String("outcome", "redirected"))

	assert.Contains(t, buf.String(), "decision")
	assert.Contains(t, buf.String(), `"outcome": "redirected"`)
}

func TestHumanizeBytes(t *testing.T) {
	assert.Equal(t, "512 B", HumanizeBytes(512))
	assert.Equal(t, "1.0 KB", HumanizeBytes(1024))
	assert.Equal(t, "1.5 MB", HumanizeBytes(1536*1024))
}
