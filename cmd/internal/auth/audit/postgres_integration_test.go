package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// Enabled when GK_DATABASE_URL is set.

func TestPostgresSink_Record(t *testing.T) {
	dbURL := os.Getenv("GK_DATABASE_URL")
	if dbURL == "" {
		t.Skip("GK_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}

	sink := NewPostgresSink(pool)
	require.NoError(t, sink.EnsureSchema(ctx))

	user := "it-" + ulid.Make().String()
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM gatekeeper.audit_log WHERE user_id = $1`, user)
	})

	r := NewRecorder(nil, sink)
	r.Record(ctx, Event{
		Action:    ActionLoginSuccess,
		UserID:    user,
		SessionID: "0123456789abcdef",
		IP:        "10.0.0.1",
		UserAgent: "gatekeeper-test/1.0",
		Meta:      map[string]any{"role": "admin"},
	})

	var (
		action, sid, role string
	)
	err = pool.QueryRow(ctx, `
		SELECT action, session_id, meta->>'role'
		FROM gatekeeper.audit_log WHERE user_id = $1
	`, user).Scan(&action, &sid, &role)
	require.NoError(t, err)
	require.Equal(t, ActionLoginSuccess, action)
	require.Equal(t, "01234567", sid)
	require.Equal(t, "admin", role)
}
