package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"loud":    zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, levelFromString(in), "level %q", in)
	}
}

func TestNew_ProductionJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Out: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	Audit(log).Info("badge achieved", zap.String("achievement", "Edits"), zap.Int("badge_level", 2))
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "badge achieved", entry["msg"])
	assert.Equal(t, "audit", entry["logger"])
	assert.Equal(t, "Edits", entry["achievement"])
	assert.EqualValues(t, 2, entry["badge_level"])
	assert.Contains(t, entry, "ts")
}

func TestNew_Development(t *testing.T) {
	log, err := New(Config{Level: "debug", Dev: true})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}
