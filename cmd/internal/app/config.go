package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	authapi "gatekeeper/cmd/internal/auth/api"
	"gatekeeper/cmd/internal/auth/csrf"
	"gatekeeper/cmd/internal/auth/ratelimit"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/auth/token"
	"gatekeeper/cmd/internal/realtime"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every variable the server reads.
const EnvPrefix = "GK_"

// RateConfig holds the per-action budgets of the fixed-window limiter.
type RateConfig struct {
	AuthMax         int           `env:"AUTH_MAX" envDefault:"10"`
	AuthWindow      time.Duration `env:"AUTH_WINDOW" envDefault:"1m"`
	GeneralMax      int           `env:"GENERAL_MAX" envDefault:"300"`
	GeneralWindow   time.Duration `env:"GENERAL_WINDOW" envDefault:"1m"`
	HeartbeatMax    int           `env:"HEARTBEAT_MAX" envDefault:"30"`
	HeartbeatWindow time.Duration `env:"HEARTBEAT_WINDOW" envDefault:"1m"`
}

// Limits maps each action to its budget.
func (c RateConfig) Limits() map[string]ratelimit.Limit {
	return map[string]ratelimit.Limit{
		ratelimit.ActionAuthentication: {MaxRequests: c.AuthMax, Window: c.AuthWindow},
		ratelimit.ActionGeneral:        {MaxRequests: c.GeneralMax, Window: c.GeneralWindow},
		ratelimit.ActionHeartbeat:      {MaxRequests: c.HeartbeatMax, Window: c.HeartbeatWindow},
	}
}

// Config contains all runtime configuration loaded from GK_* environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	// SweepInterval drives the background cleanup of sessions, tokens and buckets.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	// TrustedOrigins may send cross-origin mutating requests.
	TrustedOrigins []string `env:"TRUSTED_ORIGINS" envSeparator:","`

	// AdminUsers is the identity directory: "user:role:argon2hash;...".
	AdminUsers string `env:"ADMIN_USERS"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// DatabaseURL enables the Postgres audit sink. Empty logs audit events only.
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`

	// ReadinessRequireDB makes /readyz fail unless Postgres is configured and reachable.
	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB" envDefault:"false"`

	// RequireCSRFHMAC refuses to start unless CSRF digests are keyed.
	RequireCSRFHMAC bool `env:"REQUIRE_CSRF_HMAC" envDefault:"false"`

	Session session.Config  `envPrefix:"SESSION_"`
	Rate    RateConfig      `envPrefix:"RATE_"`
	CSRF    csrf.Config     `envPrefix:"CSRF_"`
	Token   token.Config    `envPrefix:"TOKEN_"`
	WS      realtime.Config `envPrefix:"WS_"`
	Auth    authapi.Config
}

// LoadConfig parses the environment and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Auth = cfg.Auth.Normalize()
	cfg.WS = cfg.WS.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on settings the stores would reject or that contradict
// each other.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log format %q: want json or pretty", c.LogFormat))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	} else if c.Auth.HeartbeatInterval >= c.Session.InactivityTimeout {
		errs = append(errs, fmt.Errorf("heartbeat interval %s must be shorter than inactivity timeout %s",
			c.Auth.HeartbeatInterval, c.Session.InactivityTimeout))
	}
	for action, l := range c.Rate.Limits() {
		if err := l.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rate %s: %w", action, err))
		}
	}
	if err := c.CSRF.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Token.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		errs = append(errs, errors.New("db connection bounds are invalid"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
