package app

import (
	"context"
	"log/slog"

	"gatekeeper/cmd/internal/auth/ratelimit"
	"gatekeeper/cmd/internal/auth/revocation"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/clock"
)

// SweepResult counts what one pass evicted.
type SweepResult struct {
	Sessions int
	Tokens   int
	Buckets  int
}

// sweeper periodically evicts expired sessions, lapsed revocations and closed
// rate-limit windows. Every step is idempotent and safe alongside traffic.
type sweeper struct {
	log      *slog.Logger
	sessions *session.Store
	revoked  *revocation.Registry
	limiter  *ratelimit.Store

	// Optional.
	onSweep func(SweepResult)
}

func (s *sweeper) sweepOnce() SweepResult {
	r := SweepResult{
		Sessions: s.sessions.CleanupExpired(),
		Tokens:   s.revoked.PruneExpired(),
		Buckets:  s.limiter.Prune(),
	}
	if s.onSweep != nil {
		s.onSweep(r)
	}
	if r != (SweepResult{}) {
		s.log.Info("sweep.done", "sessions", r.Sessions, "tokens", r.Tokens, "buckets", r.Buckets)
	} else {
		s.log.Debug("sweep.idle")
	}
	return r
}

// run sweeps on every tick until ctx ends. It owns t and stops it.
func (s *sweeper) run(ctx context.Context, t clock.Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.sweepOnce()
		}
	}
}
