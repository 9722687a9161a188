package realtime

import (
	"net"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Max bytes per inbound frame. Clients only ever send heartbeats.
const maxFrameBytes = 4 << 10

const (
	minSendQueue     = 4
	maxPingFailures  = 3
	closeGracePeriod = time.Second
)

// Config tunes the session event stream.
type Config struct {
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	ReadIdleTimeout time.Duration `env:"READ_IDLE_TIMEOUT" envDefault:"2m"`
	PingInterval    time.Duration `env:"PING_INTERVAL" envDefault:"25s"`
	PingTimeout     time.Duration `env:"PING_TIMEOUT" envDefault:"5s"`
	SendQueue       int           `env:"SEND_QUEUE" envDefault:"16"`

	// Inbound frames per second per connection, with a burst allowance.
	RatePerSecond float64 `env:"RATE_PER_SECOND" envDefault:"1"`
	RateBurst     int     `env:"RATE_BURST" envDefault:"5"`

	// AllowedOrigins authorizes cross-origin browsers. Same-host is always allowed.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    5 * time.Second,
		ReadIdleTimeout: 2 * time.Minute,
		PingInterval:    25 * time.Second,
		PingTimeout:     5 * time.Second,
		SendQueue:       16,
		RatePerSecond:   1,
		RateBurst:       5,
	}
}

// Normalize fills non-positive values with defaults.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.SendQueue < minSendQueue {
		c.SendQueue = minSendQueue
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = def.RatePerSecond
	}
	if c.RateBurst <= 0 {
		c.RateBurst = def.RateBurst
	}
	return c
}

// originPatterns turns allowed origins into the host patterns websocket.Accept
// matches against.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}
