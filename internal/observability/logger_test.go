package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "finsight-test"})

	logger.Debug().Msg("hidden")
	logger.WithRun("task-1", "run-1").Warn().Err(errors.New("boom")).Str("stage", "CLASSIFYING").Msg("degraded")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "finsight-test", entry["service"])
	assert.Equal(t, "task-1", entry["task_id"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "CLASSIFYING", entry["stage"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_ChildFieldsAndConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf})

	logger.WithOperation("worker").With().Int("consumer", 3).Logger().WithTask("abc").Debug().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "abc", entry["task_id"])
	assert.Equal(t, "worker", entry["operation"])
	assert.EqualValues(t, 3, entry["consumer"])
	assert.NotContains(t, entry, "service", "empty service name is omitted")

	buf.Reset()
	NewLogger(LogConfig{Format: "console", Output: &buf}).Info().Str("stage", "CACHING").Msg("stored")
	assert.Contains(t, buf.String(), "stored")
	assert.Contains(t, buf.String(), "CACHING")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "info", parseLevel("nonsense").String())
	assert.Equal(t, "trace", parseLevel("trace").String())
	assert.Equal(t, "error", parseLevel(" ERROR ").String())
	assert.Equal(t, "info", parseLevel("").String())
}
