package csrf

import "fmt"

// Config controls token transport and health thresholds.
type Config struct {
	// Header carries the token on mutating requests.
	Header string `env:"HEADER" envDefault:"X-CSRF-Token"`

	// MaxFailureRate above which HealthStatus reports unhealthy.
	MaxFailureRate float64 `env:"MAX_FAILURE_RATE" envDefault:"0.25"`

	// MinSamples is the number of validations before the failure rate counts.
	MinSamples int `env:"MIN_SAMPLES" envDefault:"20"`

	// TokenBytes is the entropy per token.
	TokenBytes int `env:"TOKEN_BYTES" envDefault:"32"`

	// HMACKey switches stored digests to HMAC-SHA256. Optional.
	HMACKey string `env:"HMAC_KEY"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Header:         "X-CSRF-Token",
		MaxFailureRate: 0.25,
		MinSamples:     20,
		TokenBytes:     32,
	}
}

// Validate checks invariants.
func (c Config) Validate() error {
	if c.Header == "" {
		return fmt.Errorf("%w: header is required", ErrConfig)
	}
	if c.MaxFailureRate < 0 || c.MaxFailureRate > 1 {
		return fmt.Errorf("%w: max failure rate must be within [0..1]", ErrConfig)
	}
	if c.MinSamples < 0 {
		return fmt.Errorf("%w: min samples must not be negative", ErrConfig)
	}
	if c.TokenBytes < 16 || c.TokenBytes > 64 {
		return fmt.Errorf("%w: token bytes must be within [16..64]", ErrConfig)
	}
	return nil
}
