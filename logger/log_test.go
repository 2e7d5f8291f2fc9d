package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(WithWriter(&buf))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	log.InfoContext(ctx, "computed", NewField("study", "sma_c_20"), NewField("rows", 3))
	log.Debug("hidden")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "computed", entries[0]["message"])
	assert.Equal(t, "sma_c_20", entries[0]["study"])
	assert.Equal(t, float64(3), entries[0]["rows"])
	assert.Equal(t, "req-1", entries[0]["request_id"])
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(WithWriter(&buf), WithLoggingLevel(ErrorLevel))

	log.Warn("dropped")
	log.SetLevel(DebugLevel)
	log.WithFields(NewField("component", "test")).Debug("kept")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["message"])
	assert.Equal(t, "test", entries[0]["component"])
}

func TestLoggerErrorUsesErrorStack(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(WithWriter(&buf))

	log.Error(errors.Wrap(errors.New("boom"), "compute"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "compute: boom", entries[0]["message"])
	assert.Contains(t, entries[0]["stacktrace"], "TestLoggerErrorUsesErrorStack")
}

func TestRequestIDMissing(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
	assert.Len(t, appendRequestID(context.Background(), nil), 0)
}
