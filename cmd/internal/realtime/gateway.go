package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/realtime/protocol"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// StatusSessionEnded closes a stream whose session left the Active state.
const StatusSessionEnded = websocket.StatusCode(protocol.CloseSessionEnded)

var errBadFrame = errors.New("bad frame")

// Authenticator resolves the session behind an upgrade request.
type Authenticator func(r *http.Request) (session.Session, error)

// Sessions is the subset of session.Store the gateway drives.
type Sessions interface {
	Get(id string) (session.Session, error)
	Heartbeat(id string) (session.Session, error)
}

// Deps wires the gateway to the session layer.
type Deps struct {
	Hub          *Hub
	Sessions     Sessions
	Authenticate Authenticator

	// Deny writes the rejection for a failed authentication. Optional.
	Deny func(w http.ResponseWriter, err error)

	// HeartbeatInterval is advertised in the ready frame.
	HeartbeatInterval time.Duration
}

// Gateway serves GET /ws/session: an authenticated stream that pushes
// session.terminated and accepts heartbeat frames.
type Gateway struct {
	log  *slog.Logger
	cfg  Config
	deps Deps

	patterns []string
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, cfg Config, deps Deps) (*Gateway, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Hub == nil || deps.Sessions == nil || deps.Authenticate == nil {
		return nil, errors.New("realtime: missing dependency")
	}
	if deps.Deny == nil {
		deps.Deny = func(w http.ResponseWriter, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
	cfg = cfg.Normalize()
	return &Gateway{
		log:      log,
		cfg:      cfg,
		deps:     deps,
		patterns: originPatterns(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP upgrades the request and runs the stream until either side ends it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, err := g.deps.Authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		g.deps.Deny(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{protocol.Subprotocol},
		OriginPatterns: g.patterns,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err, "origin", r.Header.Get("Origin"))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != protocol.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", protocol.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.serve(r.Context(), conn, sess)
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, sess session.Session) {
	client := NewClient(sess.ID, sess.UserID, g.cfg.SendQueue)
	g.deps.Hub.Subscribe(client)
	defer g.deps.Hub.Unsubscribe(client)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.log.Info("ws.open", "session", sess.ShortID(), "user_id", sess.UserID)

	// The session may have ended between authentication and Subscribe.
	if current, err := g.deps.Sessions.Get(sess.ID); err != nil {
		g.pushTerminated(client, terminalReason(current, err))
	} else {
		g.push(client, protocol.TypeReady, protocol.ReadyPayload{
			Session:           sess.ShortID(),
			HeartbeatInterval: g.deps.HeartbeatInterval.Milliseconds(),
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Flush a final frame queued just before shutdown.
				select {
				case f := <-client.send:
					if f.final {
						_ = writeEnvelope(ctx, conn, f.env, g.cfg.WriteTimeout)
						shutdown(StatusSessionEnded, "session ended")
						return
					}
				default:
				}
				shutdown(websocket.StatusGoingAway, "closing")
				return
			case f := <-client.send:
				if err := writeEnvelope(ctx, conn, f.env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session", sess.ShortID(), "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
				if f.final {
					shutdown(StatusSessionEnded, "session ended")
					return
				}
			}
		}
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)

		t := time.NewTicker(g.cfg.PingInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, g.cfg.PingTimeout)
				err := conn.Ping(pingCtx)
				pingCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session", sess.ShortID(), "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "ping failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), g.cfg.RateBurst)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadFrame:
				g.pushError(client, "bad_frame", "invalid frame")
				continue readLoop
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session", sess.ShortID(), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !limiter.Allow() {
			g.log.Info("ws.rate_limited", "session", sess.ShortID())
			g.pushError(client, "rate_limited", "too many frames")
			continue readLoop
		}

		if err := env.Validate(); err != nil {
			g.pushError(client, "bad_envelope", "invalid envelope")
			continue readLoop
		}

		switch env.Type {
		case protocol.TypeHeartbeat:
			updated, err := g.deps.Sessions.Heartbeat(sess.ID)
			if err != nil {
				g.pushTerminated(client, terminalReason(updated, err))
				continue readLoop
			}
			g.push(client, protocol.TypeAck, protocol.AckPayload{LastSeenAt: updated.LastSeenAt})
		default:
			g.pushError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	<-writerDone
	select {
	case <-pingDone:
	case <-time.After(closeGracePeriod):
	}
	g.log.Info("ws.close", "session", sess.ShortID())
}

func (g *Gateway) push(c *Client, typ string, payload any) {
	env, err := protocol.New(typ, payload, g.deps.Hub.now())
	if err != nil {
		g.log.Error("ws.encode.fail", "type", typ, "err", err)
		return
	}
	_ = c.enqueue(frame{env: env})
}

func (g *Gateway) pushError(c *Client, code, msg string) {
	g.push(c, protocol.TypeError, protocol.ErrorPayload{Code: code, Message: msg})
}

func (g *Gateway) pushTerminated(c *Client, reason string) {
	env, err := protocol.New(protocol.TypeTerminated, protocol.TerminatedPayload{Reason: reason}, g.deps.Hub.now())
	if err != nil {
		c.Close()
		return
	}
	if !c.enqueue(frame{env: env, final: true}) {
		c.Close()
	}
}

// terminalReason names why a session is no longer usable.
func terminalReason(s session.Session, err error) string {
	if s.Reason != "" {
		return s.Reason
	}
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return session.ReasonExpired
	case errors.Is(err, session.ErrSessionRevoked):
		return "revoked"
	default:
		return "not_found"
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (protocol.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if mt != websocket.MessageText {
		return protocol.Envelope{}, fmt.Errorf("%w: unsupported message type %v", errBadFrame, mt)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env protocol.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrBadFrame
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadFrame):
		return readErrBadFrame
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
