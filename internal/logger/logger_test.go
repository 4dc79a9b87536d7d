package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredLine(t *testing.T) {
	var term, structured bytes.Buffer
	l, err := NewLogger(Options{Service: "test", Terminal: &term, Structured: &structured, Level: "debug"})
	require.NoError(t, err)

	structured.Reset()
	l.Warn("webhook", "event evt_1 ignored")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(structured.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "WEBHOOK", entry["category"])
	assert.Equal(t, "event evt_1 ignored", entry["message"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "logger_test.go", entry["file"])
	assert.Contains(t, term.String(), "event evt_1 ignored")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var term, structured bytes.Buffer
	l, err := NewLogger(Options{Terminal: &term, Structured: &structured, Level: "warn"})
	require.NoError(t, err)

	l.Info("ORDER", "hidden")
	l.Error("ORDER", "shown")

	assert.NotContains(t, structured.String(), "hidden")
	assert.Equal(t, 1, strings.Count(structured.String(), "shown"))
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	l.Error("ORDER", "nothing happens")
	l.Close()
}
