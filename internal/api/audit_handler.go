package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/audit"
)

// AuditLister pages the persisted audit log.
type AuditLister interface {
	List(ctx context.Context, q audit.Query) ([]audit.Event, string, error)
}

type auditHandler struct {
	store AuditLister
}

func newAuditHandler(store AuditLister) *auditHandler {
	return &auditHandler{store: store}
}

// ListEvents handles GET /api/v1/admin/audit-events.
func (h *auditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := audit.Query{
		TenantID: q.Get("tenant_id"),
		Actor:    q.Get("actor"),
		Action:   q.Get("action"),
		Cursor:   q.Get("cursor"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeError(w, r, apperr.Validation("limit must be between 1 and 200"))
			return
		}
		query.Limit = n
	}

	events, next, err := h.store.List(r.Context(), query)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidCursor) {
			writeError(w, r, apperr.Validation("invalid cursor"))
			return
		}
		writeError(w, r, apperr.Unavailable(err))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":      events,
		"next_cursor": next,
	})
}
