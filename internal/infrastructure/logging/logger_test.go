package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")
	l, err := New(Config{Level: "info", OutputPaths: []string{out}})
	require.NoError(t, err)

	l.Component("runner").Info("Build installed")
	l.Debug("hidden")
	require.NoError(t, l.SetLevel("debug"))
	l.Debug("visible")
	_ = l.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"runner"`)
	assert.Contains(t, string(data), `"message":"Build installed"`)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
	assert.Equal(t, zapcore.DebugLevel, l.Level())
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
	assert.Error(t, Nop().SetLevel("loud"))
}
