package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetOutput(buf)
	SetFormatter(&logrus.JSONFormatter{})
	SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		SetOutput(logrus.StandardLogger().Out)
		SetFormatter(&logrus.TextFormatter{})
		SetLevel(logrus.InfoLevel)
	})
	return buf
}

func TestNamedLogger(t *testing.T) {
	buf := capture(t)

	Named("reader").With("epoch", 3).Warn("cursor closed", "reason", "eof")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "reader", entry["component"])
	assert.Equal(t, float64(3), entry["epoch"])
	assert.Equal(t, "eof", entry["reason"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "cursor closed", entry["msg"])
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(logrus.InfoLevel)

	Debug("hidden", "k", "v")
	assert.Zero(t, buf.Len())

	Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestOddKeysAndValues(t *testing.T) {
	fields := toFields([]any{"a", 1, 2, "b", "dangling"})
	assert.Equal(t, logrus.Fields{"a": 1}, fields)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("nonsense"))
}
