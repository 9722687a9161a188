package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect"},
		{status: 403, wantLevel: slog.LevelWarn, wantResult: "client_error"},
		{status: 429, wantLevel: slog.LevelWarn, wantResult: "client_error"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		require.Equal(t, tc.wantLevel, level, "status=%d", tc.status)
		require.Equal(t, tc.wantResult, result, "status=%d", tc.status)
	}
}

func TestWithRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	require.Equal(t, seen, rr.Header().Get(RequestIDHeader))

	inbound := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, inbound)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, inbound, seen)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "not a uuid\r\nx: y")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotEqual(t, "not a uuid\r\nx: y", seen)
}

func TestWithRequestLogging_LevelFollowsStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	h := WithRequestID(WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}), log))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	out := buf.String()
	require.Contains(t, out, `"level":"WARN"`)
	require.Contains(t, out, `"status":429`)
	require.Contains(t, out, `"result":"client_error"`)
	require.Contains(t, out, `"request_id":"`)
}

func TestWithSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestWithOriginProtection(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h, err := WithOriginProtection(ok, []string{"https://console.example.com"}, discardLogger())
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		site   string
		origin string
		want   int
	}{
		{name: "same origin post", method: http.MethodPost, site: "same-origin", want: http.StatusNoContent},
		{name: "cross site post", method: http.MethodPost, site: "cross-site", origin: "https://evil.example.com", want: http.StatusForbidden},
		{name: "cross site get", method: http.MethodGet, site: "cross-site", origin: "https://evil.example.com", want: http.StatusNoContent},
		{name: "trusted origin post", method: http.MethodPost, site: "cross-site", origin: "https://console.example.com", want: http.StatusNoContent},
		{name: "non browser post", method: http.MethodPost, want: http.StatusNoContent},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/auth/logout", nil)
		if tc.site != "" {
			req.Header.Set("Sec-Fetch-Site", tc.site)
		}
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, tc.want, rr.Code, tc.name)
	}
}

func TestWithOriginProtection_DenyEnvelope(t *testing.T) {
	t.Parallel()

	h, err := WithOriginProtection(http.NotFoundHandler(), nil, discardLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/heartbeat", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "cross_origin", body.Error.Code)
}

func TestWithOriginProtection_BadOrigin(t *testing.T) {
	t.Parallel()

	_, err := WithOriginProtection(http.NotFoundHandler(), []string{"not an origin/path"}, discardLogger())
	require.Error(t, err)
}
