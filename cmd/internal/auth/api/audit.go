package authapi

import (
	"net/http"
	"strings"

	"gatekeeper/cmd/internal/auth/audit"
)

func (h *Handler) record(r *http.Request, action string, p Principal, meta map[string]any) {
	ev := audit.Event{
		Action:    action,
		At:        h.clk.Now(),
		UserID:    p.Session.UserID,
		SessionID: p.Session.ID,
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      meta,
	}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		ev.IP = ip.String()
	}
	h.audit.Record(r.Context(), ev)
}
