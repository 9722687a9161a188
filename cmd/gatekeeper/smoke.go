package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gatekeeper/cmd/internal/console/authority"
	"gatekeeper/cmd/internal/realtime/protocol"

	"github.com/coder/websocket"
)

// SmokeCmd is a CI-friendly end-to-end check of a running server:
//   - login
//   - realtime handshake and subprotocol selection
//   - heartbeat frame and ack
//   - logout pushed back as a termination frame
type SmokeCmd struct {
	URL      string        `help:"Server base URL." default:"http://127.0.0.1:8080" env:"GK_SMOKE_URL"`
	User     string        `help:"Username." required:"" env:"GK_SMOKE_USER"`
	Password string        `help:"Password." required:"" env:"GK_SMOKE_PASSWORD"`
	Origin   string        `help:"Origin header for the websocket handshake (browser-like)."`
	Timeout  time.Duration `help:"Per-step timeout." default:"7s"`
	Verbose  bool          `short:"v" help:"Verbose output."`
}

func (c *SmokeCmd) Run(ctx context.Context) error {
	if err := validateOrigin(c.Origin); err != nil {
		return fmt.Errorf("invalid --origin: %w", err)
	}
	client, err := authority.New(authority.Config{BaseURL: c.URL, MaxTries: 1}, nil)
	if err != nil {
		return err
	}

	step, cancel := context.WithTimeout(ctx, c.Timeout)
	sess, err := client.Login(step, c.User, c.Password)
	cancel()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.logf("logged in: user=%s role=%s", sess.UserID, sess.Role)

	step, cancel = context.WithTimeout(ctx, c.Timeout)
	conn, err := client.DialSession(step, c.Origin)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = conn.CloseNow() }()

	ready, err := c.readUntil(ctx, conn, protocol.TypeReady)
	if err != nil {
		return err
	}
	var rp protocol.ReadyPayload
	if err := ready.Decode(&rp); err != nil {
		return fmt.Errorf("ready payload: %w", err)
	}
	if rp.HeartbeatInterval <= 0 {
		return errors.New("ready: missing heartbeat interval")
	}
	c.logf("ready: heartbeat_interval=%dms", rp.HeartbeatInterval)

	hb, err := protocol.New(protocol.TypeHeartbeat, nil, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := c.write(ctx, conn, hb); err != nil {
		return err
	}
	ack, err := c.readUntil(ctx, conn, protocol.TypeAck)
	if err != nil {
		return err
	}
	var ap protocol.AckPayload
	if err := ack.Decode(&ap); err != nil || ap.LastSeenAt.IsZero() {
		return fmt.Errorf("ack payload: missing lastSeenAt (%v)", err)
	}
	c.logf("ack: last_seen_at=%s", ap.LastSeenAt.Format(time.RFC3339Nano))

	step, cancel = context.WithTimeout(ctx, c.Timeout)
	err = client.Terminate(step, "logout")
	cancel()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	term, err := c.readUntil(ctx, conn, protocol.TypeTerminated)
	if err != nil {
		return err
	}
	var tp protocol.TerminatedPayload
	if err := term.Decode(&tp); err != nil {
		return fmt.Errorf("terminated payload: %w", err)
	}
	if tp.Reason != "logout" {
		return fmt.Errorf("terminated reason: got=%q want=%q", tp.Reason, "logout")
	}

	fmt.Printf("OK: user=%s heartbeat_interval=%dms reason=%s\n", sess.UserID, rp.HeartbeatInterval, tp.Reason)
	return nil
}

func (c *SmokeCmd) readUntil(parent context.Context, conn *websocket.Conn, want string) (protocol.Envelope, error) {
	ctx, cancel := context.WithTimeout(parent, c.Timeout)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("waiting for %s: %w", want, err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return protocol.Envelope{}, fmt.Errorf("bad json: %w", err)
		}
		if err := env.Validate(); err != nil {
			return protocol.Envelope{}, fmt.Errorf("bad envelope: %w", err)
		}
		if env.Type == want {
			return env, nil
		}
		if env.Type == protocol.TypeError {
			var ep protocol.ErrorPayload
			_ = env.Decode(&ep)
			return protocol.Envelope{}, fmt.Errorf("server error while waiting for %s: %s", want, ep.Code)
		}
		c.logf("skip: %s", env.Type)
	}
}

func (c *SmokeCmd) write(parent context.Context, conn *websocket.Conn, env protocol.Envelope) error {
	ctx, cancel := context.WithTimeout(parent, c.Timeout)
	defer cancel()
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (c *SmokeCmd) logf(format string, args ...any) {
	if c.Verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}
