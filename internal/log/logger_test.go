package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer) *Logger {
	return New(Config{
		Level:   slog.LevelDebug,
		Handler: slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestComponentIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf).With(FieldRequestID, "req_1").WithComponent(ComponentSession)
	logger.Info("hello")

	raw := buf.String()
	assert.Equal(t, 1, strings.Count(raw, `"component"`))
	got := lines(t, &buf)[0]
	assert.Equal(t, ComponentSession, got[FieldComponent])
	assert.Equal(t, "req_1", got[FieldRequestID])
	assert.Equal(t, ComponentSession, logger.Component())
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "unknown", FromContext(context.Background()).Component())

	logger := New(DefaultConfig())
	ctx := NewContext(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestLogHTTPEndLevelFollowsStatus(t *testing.T) {
	cases := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{503, "ERROR"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		sl := NewStructuredLogger(jsonLogger(&buf))
		sl.LogHTTPEnd(context.Background(), httptest.NewRequest("GET", "/api/record", nil), tc.status, 12, "203.0.113.1")

		got := lines(t, &buf)[0]
		assert.Equal(t, tc.level, got["level"])
		assert.Equal(t, ComponentHTTP, got[FieldComponent])
		assert.Equal(t, float64(tc.status), got[FieldStatusCode])
	}
}

func TestLogErrorAddsOperation(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(jsonLogger(&buf))
	sl.LogError(context.Background(), "export failed", errors.New("quota"), ComponentSheets, OpExport,
		NewFields().WithRecord("u1", 2026))

	got := lines(t, &buf)[0]
	assert.Equal(t, "quota", got[FieldError])
	assert.Equal(t, OpExport, got[FieldOperation])
	assert.Equal(t, ComponentSheets, got[FieldComponent])
	assert.Equal(t, float64(2026), got[FieldYear])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
