package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/logging"
)

func TestJSONHandlerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithHandler(logging.NewJSONHandler(&buf))
	logger.Info("task claimed", "id", 42, "worker", "w1")

	out := buf.String()
	require.Contains(t, out, `"msg":"task claimed"`)
	require.Contains(t, out, `"id":"42"`)
	require.Contains(t, out, `"worker":"w1"`)
	require.True(t, strings.HasSuffix(out, "}\n"))
}

func TestChildLoggerCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithHandler(logging.NewJSONHandler(&buf))
	child := logger.New("component", "coordinator")
	child.Warn("lease expired", "task_id", 7)

	out := buf.String()
	require.Contains(t, out, `"component":"coordinator"`)
	require.Contains(t, out, `"task_id":"7"`)
	require.Contains(t, out, `"lvl":"WARN"`)
}
