package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// Credentials is what another tab needs to join this session. Browser tabs
// share the cookie and the page's CSRF token through the profile; consoles
// share them through a file.
type Credentials struct {
	BaseURL   string        `json:"base_url"`
	Cookies   []SavedCookie `json:"cookies"`
	CSRFToken string        `json:"csrf_token"`
}

// SavedCookie is one cookie of the jar.
type SavedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Credentials exports the session cookie and CSRF token.
func (c *Client) Credentials() (Credentials, error) {
	if _, ok := c.Session(); !ok {
		return Credentials{}, ErrNotLoggedIn
	}
	u, err := url.Parse(c.base + "/")
	if err != nil {
		return Credentials{}, err
	}
	out := Credentials{BaseURL: c.base}
	for _, ck := range c.http.Jar.Cookies(u) {
		out.Cookies = append(out.Cookies, SavedCookie{Name: ck.Name, Value: ck.Value})
	}
	c.mu.RLock()
	out.CSRFToken = c.csrf
	c.mu.RUnlock()
	return out, nil
}

// Resume joins the session described by cr instead of logging in, so both
// clients act as tabs of one session. The server must still accept it.
func (c *Client) Resume(ctx context.Context, cr Credentials) (Session, error) {
	if cr.BaseURL != c.base {
		return Session{}, fmt.Errorf("authority: credentials are for %q, not %q", cr.BaseURL, c.base)
	}
	if len(cr.Cookies) == 0 || cr.CSRFToken == "" {
		return Session{}, ErrStaleCredentials
	}
	u, err := url.Parse(c.base + "/")
	if err != nil {
		return Session{}, err
	}
	cookies := make([]*http.Cookie, 0, len(cr.Cookies))
	for _, ck := range cr.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	c.http.Jar.SetCookies(u, cookies)

	var body sessionBody
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, false, &body); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.sessionGone() {
			return Session{}, fmt.Errorf("%w: %s", ErrStaleCredentials, apiErr.Code)
		}
		return Session{}, err
	}
	s := body.session()
	c.mu.Lock()
	c.session = s
	c.csrf = cr.CSRFToken
	c.mu.Unlock()
	return s, nil
}

// SaveCredentials writes cr to path, readable by the owner only.
func SaveCredentials(path string, cr Credentials) error {
	b, err := json.Marshal(cr)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gatekeeper-session-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadCredentials reads a file written by SaveCredentials.
func LoadCredentials(path string) (Credentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	var cr Credentials
	if err := json.Unmarshal(b, &cr); err != nil {
		return Credentials{}, fmt.Errorf("session file %s: %w", path, err)
	}
	return cr, nil
}
