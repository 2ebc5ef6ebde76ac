package api

import (
	"context"
	"net/http"

	"github.com/alecgard/warden/internal/authz"
	"github.com/go-chi/chi/v5"
)

// Unlocker clears an account lock on behalf of a caller.
type Unlocker interface {
	Unlock(ctx context.Context, caller authz.Principal, userID string) error
}

type usersHandler struct {
	unlocker Unlocker
}

func newUsersHandler(u Unlocker) *usersHandler {
	return &usersHandler{unlocker: u}
}

// Unlock handles POST /api/v1/admin/users/{id}/unlock.
func (h *usersHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.unlocker.Unlock(r.Context(), p, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "unlocked": true})
}
