package audit

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresSink writes events to gatekeeper.audit_log.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink wraps pool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// EnsureSchema creates the audit table if missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("audit: nil pool")
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Record implements Sink. The session id is stored as a short prefix only.
func (s *PostgresSink) Record(ctx context.Context, ev Event) error {
	if s == nil || s.pool == nil {
		return nil
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			v := string(b)
			metaVal = &v
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO gatekeeper.audit_log (
			action, created_at, user_id, session_id, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, ev.Action, ev.At, nilIfEmpty(ev.UserID), nilIfEmpty(shortID(ev.SessionID)), ipOrNil(ev.IP), nilIfEmpty(ev.UserAgent), metaVal)
	return err
}

func nilIfEmpty(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func ipOrNil(s string) any {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil
	}
	return ip.String()
}
