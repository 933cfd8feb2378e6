package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "trader.log")
	errFile := filepath.Join(dir, "errors.log")
	l, err := New(Config{Level: "info", Outputs: []string{"file"}, OutputFile: out, ErrorFile: errFile})
	require.NoError(t, err)

	l.Info("hello")
	l.LogError(errors.New("boom"))
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"hello"`)

	raw, err = os.ReadFile(errFile)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hello")
	assert.Contains(t, string(raw), "boom")
}

func TestSetLevel(t *testing.T) {
	l, err := New(Config{Level: "info", Outputs: []string{"file"}, OutputFile: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l.Level())

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, l.Level())
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, l.SetLevel("nope"))
}

func TestEventHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core)).With(zap.String("component", "test"))

	l.LogOrder("order_submitted", "cid-1", zap.String("symbol", "AAPL"))
	l.LogMessage("message_dropped", zap.String("reason", "empty"))
	l.LogError(errors.New("bad"), zap.String("action", "cancel"))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "order_event", entries[0].Message)
	assert.Equal(t, "cid-1", entries[0].ContextMap()["client_order_id"])
	assert.Equal(t, "test", entries[0].ContextMap()["component"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "message_dropped", entries[1].ContextMap()["event"])
	assert.True(t, strings.Contains(entries[2].ContextMap()["error"].(string), "bad"))
}
