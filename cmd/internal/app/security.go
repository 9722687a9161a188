package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sectoken "gatekeeper/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy. Hard failures
// return an error; weaker but workable settings are logged as warnings.
func ValidateSecurityConfig(cfg Config, log *slog.Logger) error {
	key := cfg.CSRF.HMACKey
	if cfg.RequireCSRFHMAC && key == "" {
		return errors.New("security policy: GK_REQUIRE_CSRF_HMAC=true but GK_CSRF_HMAC_KEY is missing")
	}
	if key != "" {
		h, err := sectoken.NewHasher(key)
		if err != nil {
			return fmt.Errorf("security policy: GK_CSRF_HMAC_KEY: %w", err)
		}
		if !h.Keyed() {
			return errors.New("security policy: csrf hasher is not in HMAC mode")
		}
	}

	if cfg.Token.SecretKeyHex == "" {
		log.Warn("security.token.ephemeral_key", "hint", "set GK_TOKEN_SECRET_KEY_HEX to keep access tokens valid across restarts")
	}
	if !cfg.Auth.CookieSecure {
		log.Warn("security.cookie.insecure", "hint", "GK_COOKIE_SECURE=false sends the session cookie over plain HTTP")
	}
	if cfg.Auth.TrustProxy {
		log.Warn("security.trust_proxy", "hint", "client IPs for rate limiting come from X-Forwarded-For")
	}
	if strings.TrimSpace(cfg.AdminUsers) == "" {
		log.Warn("security.identity.empty", "hint", "GK_ADMIN_USERS is empty; every login will fail")
	}
	return nil
}
