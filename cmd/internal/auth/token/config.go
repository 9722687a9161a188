package token

import (
	"fmt"
	"strings"
	"time"
)

// Config controls access token issuance.
type Config struct {
	Issuer string `env:"ISSUER" envDefault:"gatekeeper"`

	// TTL is the natural lifetime of an access token.
	TTL time.Duration `env:"TTL" envDefault:"1h"`

	// ClockSkew is tolerated between issuer and verifier.
	ClockSkew time.Duration `env:"CLOCK_SKEW" envDefault:"30s"`

	// SecretKeyHex is an Ed25519 v4 secret key. Empty generates an ephemeral key.
	SecretKeyHex string `env:"SECRET_KEY_HEX"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:    "gatekeeper",
		TTL:       time.Hour,
		ClockSkew: 30 * time.Second,
	}
}

// Validate checks invariants.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	if c.ClockSkew < 0 || c.ClockSkew >= c.TTL {
		return fmt.Errorf("%w: clock skew must be within [0..ttl)", ErrConfig)
	}
	return nil
}
