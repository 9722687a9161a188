package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gatekeeper/cmd/internal/app"
	"gatekeeper/cmd/internal/console"
	"gatekeeper/cmd/internal/console/authority"
	"gatekeeper/cmd/internal/console/heartbeat"
	"gatekeeper/cmd/internal/console/tabs"
	"gatekeeper/cmd/security/password"

	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery staple"

func cheapArgon(t *testing.T) {
	t.Helper()
	t.Setenv("GK_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("GK_ARGON2_ITERATIONS", "1")
	t.Setenv("GK_ARGON2_PARALLELISM", "1")
}

func TestHashPassword_Entry(t *testing.T) {
	cheapArgon(t)

	var out bytes.Buffer
	cmd := &HashPasswordCmd{User: " Root ", Role: "admin"}
	require.NoError(t, cmd.run(strings.NewReader(testPassword+"\n"), &out))

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "root:admin:$argon2id$"), line)

	cfg, err := password.FromEnv()
	require.NoError(t, err)
	ok, err := cfg.Verify(strings.TrimPrefix(line, "root:admin:"), testPassword)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHashPassword_RejectsWeakAndEmpty(t *testing.T) {
	cheapArgon(t)

	cmd := &HashPasswordCmd{}
	require.Error(t, cmd.run(strings.NewReader("password\n"), io.Discard))
	require.Error(t, cmd.run(strings.NewReader(""), io.Discard))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GK_TEST_DOTENV=loaded\n"), 0o600))

	t.Setenv("GK_ENV_FILE", path)
	t.Setenv("GK_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("GK_TEST_DOTENV"))
	require.NoError(t, loadDotEnv())
	require.Equal(t, "loaded", os.Getenv("GK_TEST_DOTENV"))

	t.Setenv("GK_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, loadDotEnv())
}

func TestValidateOrigin(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateOrigin(""))
	require.NoError(t, validateOrigin("https://panel.example.com"))
	require.Error(t, validateOrigin("ws://panel.example.com"))
	require.Error(t, validateOrigin("https://"))
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	cheapArgon(t)
	pw, err := password.FromEnv()
	require.NoError(t, err)
	hash, err := pw.Hash(testPassword)
	require.NoError(t, err)
	t.Setenv("GK_ADMIN_USERS", "root:admin:"+hash)
	t.Setenv("GK_COOKIE_SECURE", "false")

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestSmoke_AgainstServer(t *testing.T) {
	srv := startServer(t)
	cmd := &SmokeCmd{URL: srv.URL, User: "root", Password: testPassword, Timeout: 5 * time.Second}
	require.NoError(t, cmd.Run(context.Background()))
}

func consoleTab(t *testing.T, client *authority.Client, sess authority.Session, store tabs.Storage, tabID string) *console.Agent {
	t.Helper()
	m, err := heartbeat.NewMonitor(heartbeat.Config{
		MaxInactivity:     sess.InactivityTimeout,
		HeartbeatInterval: sess.HeartbeatInterval,
	}, client)
	require.NoError(t, err)
	co, err := tabs.NewCoordinator(sess.ID, sess.HeartbeatInterval, store, tabs.WithTabID(tabID))
	require.NoError(t, err)
	a, err := console.NewAgent(co, m, nil)
	require.NoError(t, err)
	return a
}

func TestConsole_SharedSessionFileMakesTabs(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	file := filepath.Join(t.TempDir(), "session.json")
	noPrompt := func() (string, error) { return "", errors.New("unexpected password prompt") }

	first := &ConsoleCmd{URL: srv.URL, User: "root", Password: testPassword, SessionFile: file}
	clientA, err := authority.New(authority.Config{BaseURL: srv.URL}, log)
	require.NoError(t, err)
	sessA, err := first.establish(ctx, clientA, log, noPrompt)
	require.NoError(t, err)
	require.FileExists(t, file)

	// No password: the second console must join rather than log in again.
	second := &ConsoleCmd{URL: srv.URL, User: "root", SessionFile: file}
	clientB, err := authority.New(authority.Config{BaseURL: srv.URL}, log)
	require.NoError(t, err)
	sessB, err := second.establish(ctx, clientB, log, noPrompt)
	require.NoError(t, err)
	require.Equal(t, sessA.ID, sessB.ID)

	store := tabs.NewMemoryStorage()
	a := consoleTab(t, clientA, sessA, store, "01AAAAAAAAAAAAAAAAAAAAAAAA")
	b := consoleTab(t, clientB, sessB, store, "01BBBBBBBBBBBBBBBBBBBBBBBB")
	for range 2 {
		require.NoError(t, a.Tick(ctx))
		require.NoError(t, b.Tick(ctx))
	}
	require.Equal(t, tabs.StateOwner, a.Status().Tab)
	require.Equal(t, tabs.StateConflict, b.Status().Tab)
	require.Equal(t, 1, a.Status().Peers)

	// Both tabs still hold the one live session.
	require.NoError(t, clientA.Heartbeat(ctx))
	require.NoError(t, clientB.Heartbeat(ctx))
}

func TestConsole_StaleSessionFileLogsIn(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	file := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, authority.SaveCredentials(file, authority.Credentials{
		BaseURL:   srv.URL,
		Cookies:   []authority.SavedCookie{{Name: "gk_session", Value: "gone"}},
		CSRFToken: "gone",
	}))

	prompted := false
	cmd := &ConsoleCmd{URL: srv.URL, User: "root", SessionFile: file}
	client, err := authority.New(authority.Config{BaseURL: srv.URL}, log)
	require.NoError(t, err)
	sess, err := cmd.establish(ctx, client, log, func() (string, error) {
		prompted = true
		return testPassword, nil
	})
	require.NoError(t, err)
	require.True(t, prompted)

	cr, err := authority.LoadCredentials(file)
	require.NoError(t, err)
	require.NotEqual(t, "gone", cr.CSRFToken)
	require.NotEmpty(t, sess.ID)
}
