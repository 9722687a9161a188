package authapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool  `env:"TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"AUTH_MAX_BODY_BYTES" envDefault:"65536"`

	// HeartbeatInterval is advertised to clients at login.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`

	CookieName     string `env:"COOKIE_NAME" envDefault:"gk_session"`
	CookiePath     string `env:"COOKIE_PATH" envDefault:"/"`
	CookieDomain   string `env:"COOKIE_DOMAIN"`
	CookieSecure   bool   `env:"COOKIE_SECURE" envDefault:"true"`
	CookieSameSite string `env:"COOKIE_SAMESITE" envDefault:"strict"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      64 << 10,
		HeartbeatInterval: 30 * time.Second,
		CookieName:        "gk_session",
		CookiePath:        "/",
		CookieSecure:      true,
		CookieSameSite:    "strict",
	}
}

// Normalize applies guardrails and fills blanks with defaults.
// SameSite=None is only honored together with Secure.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	c.CookieName = strings.TrimSpace(c.CookieName)
	if c.CookieName == "" {
		c.CookieName = def.CookieName
	}
	if strings.TrimSpace(c.CookiePath) == "" {
		c.CookiePath = def.CookiePath
	}
	if parseSameSite(c.CookieSameSite) == http.SameSiteNoneMode {
		c.CookieSecure = true
	}
	return c
}

// Validate checks invariants.
func (c Config) Validate() error {
	if strings.ContainsAny(c.CookieName, " ;=,") {
		return fmt.Errorf("authapi: invalid cookie name %q", c.CookieName)
	}
	return nil
}

func (c Config) sameSite() http.SameSite { return parseSameSite(c.CookieSameSite) }

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}
