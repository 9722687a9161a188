package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gatekeeper/cmd/internal/realtime/protocol"

	"github.com/coder/websocket"
)

// ErrWatchClosed is returned by Watch when the server closed the channel
// without saying the session ended.
var ErrWatchClosed = errors.New("realtime channel closed")

// DialSession opens the realtime channel with the client's session cookie.
// origin, when set, is sent as the Origin header the way a browser would.
func (c *Client) DialSession(ctx context.Context, origin string) (*websocket.Conn, error) {
	if _, ok := c.Session(); !ok {
		return nil, ErrNotLoggedIn
	}
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/ws/session"
	conn, res, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:   c.http,
		HTTPHeader:   h,
		Subprotocols: []string{protocol.Subprotocol},
	})
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial session: %w", ErrNotLoggedIn)
		}
		return nil, fmt.Errorf("dial session: %w", err)
	}
	if conn.Subprotocol() != protocol.Subprotocol {
		_ = conn.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return nil, fmt.Errorf("dial session: server did not negotiate %s", protocol.Subprotocol)
	}
	return conn, nil
}

// Events receives realtime notifications. Nil fields are skipped.
type Events struct {
	Ready      func(heartbeatInterval time.Duration)
	Terminated func(reason string)
}

// Watch opens the realtime session channel and blocks until the session is
// terminated, the channel drops or ctx ends. Terminated runs once with the
// server's reason before Watch returns nil.
func (c *Client) Watch(ctx context.Context, ev Events) error {
	terminated := func(reason string) {
		if ev.Terminated != nil {
			ev.Terminated(reason)
		}
	}
	if _, ok := c.Session(); !ok {
		return ErrNotLoggedIn
	}
	conn, err := c.DialSession(ctx, "")
	if err != nil {
		return err
	}
	defer func() { _ = conn.CloseNow() }()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusCode(protocol.CloseSessionEnded) {
				terminated("")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrWatchClosed, err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Validate() != nil {
			c.log.Debug("console.watch.frame.invalid")
			continue
		}
		switch env.Type {
		case protocol.TypeReady:
			var p protocol.ReadyPayload
			_ = env.Decode(&p)
			every := time.Duration(p.HeartbeatInterval) * time.Millisecond
			c.log.Debug("console.watch.ready", "heartbeat_interval", every)
			if ev.Ready != nil {
				ev.Ready(every)
			}
		case protocol.TypeTerminated:
			var p protocol.TerminatedPayload
			_ = env.Decode(&p)
			terminated(p.Reason)
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case protocol.TypeError:
			var p protocol.ErrorPayload
			_ = env.Decode(&p)
			c.log.Warn("console.watch.error", "code", p.Code)
		}
	}
}
