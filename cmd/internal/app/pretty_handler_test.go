package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	require.Equal(t, "INFO plain ERR", stripANSI(in))
}

func TestPrettyHandler_RequestLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, true))
	log.With("request_id", "abc").WithGroup("http").Warn("http.request",
		"method", "post",
		"path", "/auth/login",
		"status", 429,
		"duration_ms", int64(12),
		"reason", "too many",
	)

	line := stripANSI(buf.String())
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Contains(t, line, "lvl=[WARN] msg=http.request")
	require.Contains(t, line, "request_id=abc")
	require.Contains(t, line, "http.method=POST")
	require.Contains(t, line, "http.status=429")
	require.Contains(t, line, `http.reason="too many"`)
	require.Contains(t, buf.String(), ansiYellow+"[WARN]")
}

func TestPrettyHandler_Level(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	require.False(t, h.Enabled(t.Context(), slog.LevelInfo))
	require.True(t, h.Enabled(t.Context(), slog.LevelError))
}

func TestColorizeStatusCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, "200", colorizeStatusCode(200, false))
	require.Equal(t, ansiRed+"503"+ansiReset, colorizeStatusCode(503, true))
	require.Equal(t, "1500ms", stripANSI(colorizeDurationMS(1500, true)))
}
