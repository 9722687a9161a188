package authapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize_CookieGuardrails(t *testing.T) {
	t.Parallel()

	cfg := Config{CookieSameSite: "none", CookieSecure: false}.Normalize()
	require.True(t, cfg.CookieSecure, "SameSite=None requires Secure")
	require.Equal(t, "gk_session", cfg.CookieName)
	require.Equal(t, "/", cfg.CookiePath)
	require.Equal(t, int64(64<<10), cfg.MaxBodyBytes)
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.CookieName = "a;b"
	require.Error(t, bad.Validate())
}

func TestParseSameSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: " Lax ", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteStrictMode},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, parseSameSite(tc.in), tc.in)
	}
}
