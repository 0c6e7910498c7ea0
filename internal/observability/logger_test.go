package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"applyflow/internal/config"
)

func TestConsoleLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "applyflow",
		Colors:      config.ColorConfig{Info: "green"},
	}, zapcore.AddSync(&buf))

	GetLogger().Named("pipeline").Info("Step started")
	GetLogger().Debug("trace")
	Sync()

	out := buf.String()
	assert.Contains(t, out, "Step started")
	assert.Contains(t, out, "applyflow.pipeline.")
	assert.Contains(t, out, colors["green"]+"INFO"+colorReset)
	assert.Contains(t, out, "DEBUG")
}

func TestLevelAndOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	var first, second bytes.Buffer
	Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&first))
	Initialize(config.LoggerConfig{Level: "debug", Format: "json"}, zapcore.AddSync(&second))

	GetLogger().Info("hidden")
	GetLogger().Warn("shown")
	Sync()

	assert.NotContains(t, first.String(), "hidden")
	assert.Contains(t, first.String(), `"level":"WARN"`)
	assert.Empty(t, second.String())
}

func TestFileSink(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	path := filepath.Join(t.TempDir(), "applyflow.log")
	var console bytes.Buffer
	Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&console))
	GetLogger().Info("to both")
	Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"to both"`)
	assert.Contains(t, console.String(), "to both")
}

func TestFallbackLogger(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
}
