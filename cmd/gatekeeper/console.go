package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gatekeeper/cmd/internal/app"
	"gatekeeper/cmd/internal/clock"
	"gatekeeper/cmd/internal/console"
	"gatekeeper/cmd/internal/console/authority"
	"gatekeeper/cmd/internal/console/heartbeat"
	"gatekeeper/cmd/internal/console/tabs"
)

// ConsoleCmd is a terminal stand-in for a browser tab. Every stdin line counts
// as keyboard activity; "status" prints the tab state and "close" closes the tab.
// Consoles given the same session file join one session, and with a shared
// GK_REDIS_URL they also see each other as its tabs.
type ConsoleCmd struct {
	URL         string `help:"Server base URL." default:"http://127.0.0.1:8080" env:"GK_CONSOLE_URL"`
	User        string `help:"Username to log in as." required:"" env:"GK_CONSOLE_USER"`
	Password    string `help:"Password. Read from the first stdin line when empty." env:"GK_CONSOLE_PASSWORD"`
	SessionFile string `help:"Join the session stored in this file, or store a new one there." type:"path" env:"GK_CONSOLE_SESSION_FILE"`
	RedisURL    string `help:"Share tab records through Redis instead of process memory." env:"GK_REDIS_URL"`
	LogLevel    string `help:"Log level." default:"info" env:"GK_LOG_LEVEL"`
}

func (c *ConsoleCmd) Run(parent context.Context) error {
	log := app.NewLogger(c.LogLevel, "pretty")
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	in := bufio.NewScanner(os.Stdin)
	client, err := authority.New(authority.Config{BaseURL: c.URL}, log)
	if err != nil {
		return err
	}
	sess, err := c.establish(ctx, client, log, func() (string, error) {
		fmt.Print("password: ")
		return readLine(in)
	})
	if err != nil {
		return err
	}

	storage, closeStorage, err := c.openStorage(ctx, sess)
	if err != nil {
		return err
	}
	defer closeStorage()

	out := os.Stdout
	monitor, err := heartbeat.NewMonitor(heartbeat.Config{
		MaxInactivity:     sess.InactivityTimeout,
		HeartbeatInterval: sess.HeartbeatInterval,
	}, client,
		heartbeat.WithLogger(log),
		heartbeat.OnLogout(func(reason string) {
			fmt.Fprintf(out, "logged out: %s\n", reason)
			cancel()
		}),
	)
	if err != nil {
		return err
	}
	coord, err := tabs.NewCoordinator(sess.ID, sess.HeartbeatInterval, storage,
		tabs.WithLogger(log),
		tabs.OnChange(func(_, to tabs.State) {
			if to == tabs.StateConflict {
				fmt.Fprintln(out, "this session is open in another tab; type \"close\" to close this one")
			}
		}),
	)
	if err != nil {
		return err
	}
	agent, err := console.NewAgent(coord, monitor, log)
	if err != nil {
		return err
	}

	go func() {
		err := client.Watch(ctx, authority.Events{
			Terminated: func(reason string) {
				agent.SessionEnded(context.WithoutCancel(ctx), reason)
				cancel()
			},
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("console.watch.fail", "err", err)
		}
	}()
	go readCommands(in, agent, out, cancel)

	// First tick right away so ownership is known before the first interval.
	if err := agent.Tick(ctx); err != nil && !errors.Is(err, console.ErrStopped) {
		log.Warn("console.tick.fail", "err", err)
	}
	runErr := agent.Run(ctx, clock.Real{}.NewTicker(sess.HeartbeatInterval))

	closeCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := agent.Close(closeCtx); err != nil {
		log.Warn("console.close.fail", "err", err)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// establish joins the session in SessionFile when it is still valid and logs in
// otherwise. A fresh session is written back to SessionFile.
func (c *ConsoleCmd) establish(ctx context.Context, client *authority.Client, log *slog.Logger, prompt func() (string, error)) (authority.Session, error) {
	if c.SessionFile != "" {
		cr, err := authority.LoadCredentials(c.SessionFile)
		switch {
		case err == nil:
			sess, err := client.Resume(ctx, cr)
			if err == nil {
				log.Info("console.session.joined", "user_id", sess.UserID, "role", sess.Role)
				return sess, nil
			}
			if !errors.Is(err, authority.ErrStaleCredentials) {
				return authority.Session{}, err
			}
			log.Info("console.session.stale", "file", c.SessionFile)
		case !errors.Is(err, fs.ErrNotExist):
			return authority.Session{}, err
		}
	}

	pw := c.Password
	if pw == "" {
		line, err := prompt()
		if err != nil {
			return authority.Session{}, err
		}
		pw = line
	}
	sess, err := client.Login(ctx, c.User, pw)
	if err != nil {
		return authority.Session{}, err
	}
	log.Info("console.login.ok", "user_id", sess.UserID, "role", sess.Role)

	if c.SessionFile != "" {
		cr, err := client.Credentials()
		if err != nil {
			return authority.Session{}, err
		}
		if err := authority.SaveCredentials(c.SessionFile, cr); err != nil {
			return authority.Session{}, fmt.Errorf("write session file: %w", err)
		}
	}
	return sess, nil
}

func (c *ConsoleCmd) openStorage(ctx context.Context, sess authority.Session) (tabs.Storage, func(), error) {
	if c.RedisURL == "" {
		return tabs.NewMemoryStorage(), func() {}, nil
	}
	rdb, err := tabs.OpenRedis(ctx, c.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	store, err := tabs.NewRedisStorage(rdb, sess.InactivityTimeout)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return store, func() { _ = rdb.Close() }, nil
}

func readCommands(in *bufio.Scanner, agent *console.Agent, out io.Writer, stop context.CancelFunc) {
	for in.Scan() {
		agent.Activity(heartbeat.SignalKeyboard)
		switch strings.TrimSpace(in.Text()) {
		case "close":
			stop()
			return
		case "status":
			printStatus(out, agent.Status())
		}
	}
	// EOF on stdin is the terminal going away.
	stop()
}

func printStatus(out io.Writer, st console.Status) {
	_, _ = fmt.Fprintf(out, "tab=%s state=%s session=%s idle=%s peers=%d\n",
		st.TabID, st.Tab, sessionState(st), st.Idle.Round(time.Second), st.Peers)
}

func sessionState(st console.Status) string {
	if st.Session == heartbeat.StateActive {
		return "active"
	}
	return "logged_out(" + st.Reason + ")"
}
