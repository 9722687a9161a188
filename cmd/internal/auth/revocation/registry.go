package revocation

import (
	"strings"
	"sync"
	"time"

	"gatekeeper/cmd/internal/clock"
)

type tracked struct {
	tokenID string
	expiry  time.Time
}

// Registry is a thread-safe set of revoked token ids with natural expiry.
type Registry struct {
	clk clock.Clock

	mu      sync.RWMutex
	revoked map[string]time.Time
	// session id -> tokens issued for it and not yet revoked
	bySession map[string][]tracked
}

// New returns an empty Registry. A nil clock means wall time.
func New(clk clock.Clock) *Registry {
	return &Registry{
		clk:       clock.OrReal(clk),
		revoked:   make(map[string]time.Time),
		bySession: make(map[string][]tracked),
	}
}

// Revoke marks tokenID revoked until naturalExpiry. Revoking an id twice keeps
// the later expiry.
func (r *Registry) Revoke(tokenID string, naturalExpiry time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return ErrInvalidTokenID
	}

	r.mu.Lock()
	r.revokeLocked(tokenID, naturalExpiry)
	r.mu.Unlock()
	return nil
}

func (r *Registry) revokeLocked(tokenID string, exp time.Time) {
	if cur, ok := r.revoked[tokenID]; ok && !exp.After(cur) {
		return
	}
	r.revoked[tokenID] = exp
}

// IsRevoked reports whether tokenID is revoked and its natural expiry is still
// in the future. An entry at or past its expiry reads as not revoked even
// before PruneExpired removes it.
func (r *Registry) IsRevoked(tokenID string) bool {
	now := r.clk.Now()

	r.mu.RLock()
	exp, ok := r.revoked[tokenID]
	r.mu.RUnlock()

	return ok && now.Before(exp)
}

// Count returns the number of retained entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.revoked)
}

// PruneExpired drops entries whose natural expiry has passed, along with
// tracked tokens that have expired unrevoked. Returns the number of revoked
// entries removed.
func (r *Registry) PruneExpired() int {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, exp := range r.revoked {
		if !now.Before(exp) {
			delete(r.revoked, id)
			n++
		}
	}
	for sid, toks := range r.bySession {
		kept := toks[:0]
		for _, t := range toks {
			if now.Before(t.expiry) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(r.bySession, sid)
			continue
		}
		r.bySession[sid] = kept
	}
	return n
}

// Track records that tokenID was issued for sessionID.
func (r *Registry) Track(sessionID, tokenID string, expiry time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return ErrInvalidTokenID
	}

	r.mu.Lock()
	r.bySession[sessionID] = append(r.bySession[sessionID], tracked{tokenID: tokenID, expiry: expiry})
	r.mu.Unlock()
	return nil
}

// RevokeSession revokes every token tracked for sessionID and forgets the
// session. Returns how many tokens were revoked.
func (r *Registry) RevokeSession(sessionID string) int {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	toks := r.bySession[sessionID]
	delete(r.bySession, sessionID)

	n := 0
	for _, t := range toks {
		if !now.Before(t.expiry) {
			continue
		}
		r.revokeLocked(t.tokenID, t.expiry)
		n++
	}
	return n
}
