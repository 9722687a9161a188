package realtime

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/clock"
	"gatekeeper/cmd/internal/realtime/protocol"
)

// Hub tracks live subscribers per session id.
type Hub struct {
	log *slog.Logger
	clk clock.Clock

	mu   sync.RWMutex
	subs map[string]map[*Client]struct{}
}

// NewHub constructs a Hub. A nil logger discards.
func NewHub(log *slog.Logger, clk clock.Clock) *Hub {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		log:  log,
		clk:  clock.OrReal(clk),
		subs: make(map[string]map[*Client]struct{}),
	}
}

// Subscribe registers c under its session id.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[c.SessionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.subs[c.SessionID] = set
	}
	set[c] = struct{}{}
}

// Unsubscribe removes c. Safe to call more than once.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[c.SessionID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, c.SessionID)
	}
}

// Subscribers returns the number of live subscribers of a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Len returns the number of sessions with at least one subscriber.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// SessionEnded pushes a final session.terminated frame to every subscriber of
// s. It is meant to be registered with session.Store.OnTerminate.
func (h *Hub) SessionEnded(s session.Session) {
	env, err := protocol.New(protocol.TypeTerminated, protocol.TerminatedPayload{Reason: s.Reason}, h.clk.Now())
	if err != nil {
		h.log.Error("ws.terminate.encode.fail", "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.subs[s.ID]))
	for c := range h.subs[s.ID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame{env: env, final: true}) {
			// Queue full or already closing: drop the connection without the notice.
			c.Close()
		}
	}
	if len(targets) > 0 {
		h.log.Info("ws.session.terminated", "session", s.ShortID(), "reason", s.Reason, "subscribers", len(targets))
	}
}

func (h *Hub) now() time.Time { return h.clk.Now() }
