// Package audit records security-relevant auth events.
//
// Recording is best effort: a failing sink is logged and never fails the
// request that produced the event.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Actions.
const (
	ActionLoginSuccess     = "auth.login.success"
	ActionLoginFailed      = "auth.login.failed"
	ActionLoginRateLimited = "auth.login.rate_limited"
	ActionRateLimited      = "auth.rate_limited"
	ActionLogout           = "auth.logout"
	ActionSessionEnded     = "auth.session.ended"
	ActionCSRFFailed       = "auth.csrf.failed"
	ActionTokenIssued      = "auth.token.issued"
	ActionAdminRevoke      = "admin.session.revoke"
	ActionAdminTokenRevoke = "admin.token.revoke"
)

// Event is one audit record.
type Event struct {
	Action    string
	At        time.Time
	UserID    string
	SessionID string
	IP        string
	UserAgent string
	Meta      map[string]any
}

// Sink persists events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Recorder fans events out to sinks and swallows their errors.
type Recorder struct {
	log   *slog.Logger
	sinks []Sink
}

// NewRecorder builds a Recorder. Nil sinks are skipped.
func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{log: log}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record stamps ev and hands it to every sink.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil {
		return
	}
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, s := range r.sinks {
		if err := s.Record(ctx, ev); err != nil {
			r.log.Error("audit.record.fail", "err", err, "action", ev.Action)
		}
	}
}

// SlogSink writes events to a logger at info level.
type SlogSink struct {
	Log *slog.Logger
}

// Record implements Sink.
func (s SlogSink) Record(ctx context.Context, ev Event) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"action", ev.Action}
	if ev.UserID != "" {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	if ev.SessionID != "" {
		attrs = append(attrs, "session", shortID(ev.SessionID))
	}
	if ev.IP != "" {
		attrs = append(attrs, "ip", ev.IP)
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, k, v)
	}
	log.InfoContext(ctx, "audit", attrs...)
	return nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
