package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/realtime/protocol"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

const testCookie = "gk_session"

type gatewayFixture struct {
	store *session.Store
	hub   *Hub
	srv   *httptest.Server
}

func newGatewayFixture(t *testing.T, cfg Config) *gatewayFixture {
	t.Helper()

	store, err := session.NewStore(session.DefaultConfig())
	require.NoError(t, err)

	hub := NewHub(nil, nil)
	store.OnTerminate(hub.SessionEnded)

	gw, err := NewGateway(nil, cfg, Deps{
		Hub:      hub,
		Sessions: store,
		Authenticate: func(r *http.Request) (session.Session, error) {
			c, err := r.Cookie(testCookie)
			if err != nil {
				return session.Session{}, errors.New("no cookie")
			}
			return store.Get(c.Value)
		},
		HeartbeatInterval: 30 * time.Second,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &gatewayFixture{store: store, hub: hub, srv: srv}
}

func (f *gatewayFixture) dial(t *testing.T, sessionID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := http.Header{}
	if sessionID != "" {
		h.Set("Cookie", testCookie+"="+sessionID)
	}
	return websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http"), &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
		HTTPHeader:   h,
	})
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()
	env, err := protocol.New(typ, nil, time.Now())
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	f := newGatewayFixture(t, DefaultConfig())

	conn, resp, err := f.dial(t, "")
	if conn != nil {
		_ = conn.CloseNow()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_ReadyAndHeartbeat(t *testing.T) {
	f := newGatewayFixture(t, DefaultConfig())
	sess, err := f.store.Create("alice", session.RoleEditor)
	require.NoError(t, err)

	conn, _, err := f.dial(t, sess.ID)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	ready := readFrame(t, conn)
	require.Equal(t, protocol.TypeReady, ready.Type)
	var rp protocol.ReadyPayload
	require.NoError(t, ready.Decode(&rp))
	require.Equal(t, sess.ShortID(), rp.Session)
	require.EqualValues(t, 30000, rp.HeartbeatInterval)

	sendFrame(t, conn, protocol.TypeHeartbeat)
	ack := readFrame(t, conn)
	require.Equal(t, protocol.TypeAck, ack.Type)
}

func TestGateway_PushesTermination(t *testing.T) {
	f := newGatewayFixture(t, DefaultConfig())
	sess, err := f.store.Create("alice", session.RoleEditor)
	require.NoError(t, err)

	conn, _, err := f.dial(t, sess.ID)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	require.Equal(t, protocol.TypeReady, readFrame(t, conn).Type)
	require.Eventually(t, func() bool { return f.hub.Subscribers(sess.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.store.Terminate(sess.ID, session.ReasonLogout))

	ended := readFrame(t, conn)
	require.Equal(t, protocol.TypeTerminated, ended.Type)
	var p protocol.TerminatedPayload
	require.NoError(t, ended.Decode(&p))
	require.Equal(t, session.ReasonLogout, p.Reason)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	require.Equal(t, StatusSessionEnded, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_RateLimitsFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RatePerSecond = 0.001
	cfg.RateBurst = 1
	f := newGatewayFixture(t, cfg)
	sess, err := f.store.Create("alice", session.RoleEditor)
	require.NoError(t, err)

	conn, _, err := f.dial(t, sess.ID)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()
	require.Equal(t, protocol.TypeReady, readFrame(t, conn).Type)

	sendFrame(t, conn, protocol.TypeHeartbeat)
	require.Equal(t, protocol.TypeAck, readFrame(t, conn).Type)

	sendFrame(t, conn, protocol.TypeHeartbeat)
	env := readFrame(t, conn)
	require.Equal(t, protocol.TypeError, env.Type)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	require.Equal(t, "rate_limited", p.Code)
}

func TestGateway_UnsupportedFrame(t *testing.T) {
	f := newGatewayFixture(t, DefaultConfig())
	sess, err := f.store.Create("alice", session.RoleEditor)
	require.NoError(t, err)

	conn, _, err := f.dial(t, sess.ID)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()
	require.Equal(t, protocol.TypeReady, readFrame(t, conn).Type)

	sendFrame(t, conn, protocol.TypeAck)
	env := readFrame(t, conn)
	require.Equal(t, protocol.TypeError, env.Type)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	require.Equal(t, "unsupported", p.Code)
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"https://app.example.com", "http://LOCALHOST:3000", "", "app.example.com:443"})
	require.Equal(t, []string{"app.example.com", "localhost"}, got)
}

func TestTerminalReason(t *testing.T) {
	t.Parallel()

	require.Equal(t, "superseded", terminalReason(session.Session{Reason: "superseded"}, session.ErrSessionRevoked))
	require.Equal(t, session.ReasonExpired, terminalReason(session.Session{}, session.ErrSessionExpired))
	require.Equal(t, "not_found", terminalReason(session.Session{}, session.ErrNotFound))
}
