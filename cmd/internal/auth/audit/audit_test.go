package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type memSink struct {
	events []Event
	err    error
}

func (m *memSink) Record(_ context.Context, ev Event) error {
	m.events = append(m.events, ev)
	return m.err
}

func TestRecorder_FansOutAndSwallowsErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	good := &memSink{}
	bad := &memSink{err: errors.New("db down")}
	r := NewRecorder(log, bad, nil, good)

	r.Record(context.Background(), Event{Action: " " + ActionLogout + " ", UserID: "alice"})

	require.Len(t, good.events, 1)
	require.Len(t, bad.events, 1)
	require.Equal(t, ActionLogout, good.events[0].Action)
	require.False(t, good.events[0].At.IsZero())
	require.Contains(t, buf.String(), "audit.record.fail")
}

func TestRecorder_DropsEmptyAction(t *testing.T) {
	t.Parallel()

	s := &memSink{}
	NewRecorder(nil, s).Record(context.Background(), Event{Action: "  "})
	require.Empty(t, s.events)

	var nilRecorder *Recorder
	nilRecorder.Record(context.Background(), Event{Action: ActionLogout})
}

func TestSlogSink_ShortensSessionID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := SlogSink{Log: slog.New(slog.NewJSONHandler(&buf, nil))}

	err := sink.Record(context.Background(), Event{
		Action:    ActionLoginSuccess,
		UserID:    "alice",
		SessionID: "abcdefghijklmnopqrstuvwxyz",
		IP:        "1.2.3.4",
		Meta:      map[string]any{"role": "admin"},
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, `"session":"abcdefgh"`)
	require.NotContains(t, out, "abcdefghijklmnop")
	require.Contains(t, out, `"role":"admin"`)
}
