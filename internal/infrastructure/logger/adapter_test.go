package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"session-1", "session-1"},
		{"a b/c", "a_b_c"},
		{"", "session"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitize(tt.in))
	}
	assert.Len(t, sanitize(string(make([]byte, 100))), 60)
}

func TestNewLoggerAdapter_InvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"

	_, err := NewLoggerAdapter(cfg)
	assert.Error(t, err)
}

func TestLoggerAdapter_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.Name = "test run"
	cfg.Level = "debug"

	log, err := NewLoggerAdapter(cfg)
	require.NoError(t, err)

	log.WithField("sessionId", "s1").Info("Session opened", "surface", "ui")
	log.WithFields(map[string]any{"component": "executor"}).Debug("Command received", "id", "c1")
	require.NoError(t, log.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*_test_run.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "Session opened", entries[0]["message"])
	assert.Equal(t, "s1", entries[0]["sessionId"])
	assert.Equal(t, "ui", entries[0]["surface"])
	assert.Equal(t, "executor", entries[1]["component"])
	assert.Equal(t, "c1", entries[1]["id"])
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Info("ignored", "k", "v")
	assert.NoError(t, log.Close())
}

func TestNewFromCore(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := NewFromCore(core).WithField("component", "session")
	log.Info("dropped")
	log.Warn("kept", "k", "v")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "session", entry.ContextMap()["component"])
	assert.Equal(t, "v", entry.ContextMap()["k"])
}
