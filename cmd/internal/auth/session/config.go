package session

import (
	"fmt"
	"time"
)

// Config controls session expiry policy.
type Config struct {
	// InactivityTimeout is how long a session may go without a heartbeat.
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"5m"`

	// MaxLifetime caps a session regardless of activity. Zero disables the cap.
	MaxLifetime time.Duration `env:"MAX_LIFETIME" envDefault:"12h"`

	// SingleActive revokes a user's other Active sessions when a new one is created.
	SingleActive bool `env:"SINGLE_ACTIVE" envDefault:"true"`

	// IDBytes is the number of random bytes in a session id.
	IDBytes int `env:"ID_BYTES" envDefault:"32"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout: 5 * time.Minute,
		MaxLifetime:       12 * time.Hour,
		SingleActive:      true,
		IDBytes:           32,
	}
}

// Validate checks invariants.
func (c Config) Validate() error {
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("%w: inactivity timeout must be positive", ErrConfig)
	}
	if c.MaxLifetime < 0 {
		return fmt.Errorf("%w: max lifetime must not be negative", ErrConfig)
	}
	if c.MaxLifetime > 0 && c.MaxLifetime < c.InactivityTimeout {
		return fmt.Errorf("%w: max lifetime shorter than inactivity timeout", ErrConfig)
	}
	if c.IDBytes < 16 || c.IDBytes > 64 {
		return fmt.Errorf("%w: id bytes must be within [16..64]", ErrConfig)
	}
	return nil
}
