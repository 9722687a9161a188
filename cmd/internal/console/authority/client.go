package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"gatekeeper/cmd/internal/console/heartbeat"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultCSRFHeader = "X-CSRF-Token"
	maxErrorBody      = 4 << 10
	requestTimeout    = 10 * time.Second
)

// Session is what the console knows about its server session.
type Session struct {
	ID                string
	UserID            string
	Role              string
	InactivityTimeout time.Duration
	HeartbeatInterval time.Duration
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	CSRFHeader string

	// MaxTries bounds heartbeat attempts on transient failures.
	MaxTries uint
	// MaxElapsed bounds the total time spent retrying one heartbeat.
	MaxElapsed time.Duration
	// RetryInterval is the first backoff delay. Zero uses the library default.
	RetryInterval time.Duration
}

// Client talks to one gatekeeper server on behalf of one console.
type Client struct {
	base       string
	csrfHeader string
	maxTries   uint
	maxElapsed time.Duration
	retryDelay time.Duration
	http       *http.Client
	log        *slog.Logger

	mu      sync.RWMutex
	csrf    string
	session Session
}

// New returns a Client with an empty cookie jar.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("authority: base url must be http(s), got %q", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		base:       base,
		csrfHeader: cfg.CSRFHeader,
		maxTries:   cfg.MaxTries,
		maxElapsed: cfg.MaxElapsed,
		retryDelay: cfg.RetryInterval,
		// No client timeout: the websocket dial shares this client and a
		// timeout would cut long-lived connections. Requests carry their own.
		http: &http.Client{Jar: jar},
		log:  log,
	}
	if c.csrfHeader == "" {
		c.csrfHeader = defaultCSRFHeader
	}
	if c.maxTries == 0 {
		c.maxTries = 4
	}
	if c.maxElapsed <= 0 {
		c.maxElapsed = 20 * time.Second
	}
	return c, nil
}

// Session returns the session established by Login.
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.session.ID != ""
}

type sessionBody struct {
	SessionID           string `json:"session_id"`
	UserID              string `json:"user_id"`
	Role                string `json:"role"`
	InactivityTimeoutMS int64  `json:"inactivity_timeout_ms"`
	HeartbeatIntervalMS int64  `json:"heartbeat_interval_ms"`
}

func (b sessionBody) session() Session {
	return Session{
		ID:                b.SessionID,
		UserID:            b.UserID,
		Role:              b.Role,
		InactivityTimeout: time.Duration(b.InactivityTimeoutMS) * time.Millisecond,
		HeartbeatInterval: time.Duration(b.HeartbeatIntervalMS) * time.Millisecond,
	}
}

// Login authenticates and keeps the session cookie and CSRF token.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	var out struct {
		Session   sessionBody `json:"session"`
		CSRFToken string      `json:"csrf_token"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, false, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if out.Session.SessionID == "" || out.CSRFToken == "" {
		return Session{}, errors.New("authority: incomplete login response")
	}

	s := out.Session.session()
	c.mu.Lock()
	c.session = s
	c.csrf = out.CSRFToken
	c.mu.Unlock()
	return s, nil
}

// Heartbeat extends the session. Transient failures (network, 5xx, 429) are
// retried with exponential backoff. A rejected session maps to
// heartbeat.ErrSessionEnded and is not retried.
func (c *Client) Heartbeat(ctx context.Context) error {
	if _, ok := c.Session(); !ok {
		return ErrNotLoggedIn
	}
	op := func() (struct{}, error) {
		err := c.do(ctx, http.MethodPost, "/auth/heartbeat", nil, true, nil)
		return struct{}{}, classify(err)
	}
	b := backoff.NewExponentialBackOff()
	if c.retryDelay > 0 {
		b.InitialInterval = c.retryDelay
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(c.maxElapsed),
	)
	return err
}

// Terminate ends the session server-side with reason and forgets it locally.
// A session the server already dropped counts as success.
func (c *Client) Terminate(ctx context.Context, reason string) error {
	if _, ok := c.Session(); !ok {
		return ErrNotLoggedIn
	}
	err := c.do(ctx, http.MethodPost, "/auth/logout", map[string]string{"reason": reason}, true, nil)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.sessionGone()) {
		return err
	}
	c.mu.Lock()
	c.session = Session{}
	c.csrf = ""
	c.mu.Unlock()
	return nil
}

// classify turns a response error into a backoff decision.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.sessionGone():
		return backoff.Permanent(fmt.Errorf("%w: %s", heartbeat.ErrSessionEnded, apiErr.Code))
	case apiErr.Status == http.StatusTooManyRequests && apiErr.RetryAfter > 0:
		return backoff.RetryAfter(apiErr.RetryAfter)
	case apiErr.Status == http.StatusTooManyRequests, apiErr.Status >= 500:
		return err
	default:
		return backoff.Permanent(err)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, withCSRF bool, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withCSRF {
		c.mu.RLock()
		tok := c.csrf
		c.mu.RUnlock()
		req.Header.Set(c.csrfHeader, tok)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func decodeError(res *http.Response) error {
	apiErr := &APIError{Status: res.StatusCode}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxErrorBody)).Decode(&env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	if v := res.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			apiErr.RetryAfter = secs
		}
	}
	return apiErr
}
