package api

import (
	"context"
	"net/http"

	"github.com/alecgard/warden/internal/authz"
	"github.com/alecgard/warden/internal/role"
	"github.com/go-chi/chi/v5"
)

// RoleService is the role engine surface the HTTP layer drives.
type RoleService interface {
	GetAvailableRoles(ctx context.Context, serviceID string) ([]role.Role, error)
	GetUserRoles(ctx context.Context, caller authz.Principal, userID string) ([]role.Assignment, error)
	AssignRole(ctx context.Context, caller authz.Principal, in role.AssignInput) (*role.Assignment, error)
	CreateIfNotExists(ctx context.Context, caller authz.Principal, in role.AssignInput) (*role.Assignment, bool, error)
	RemoveRole(ctx context.Context, caller authz.Principal, assignmentID string) error
}

// rolesHandler groups role catalog and assignment HTTP handlers.
type rolesHandler struct {
	roles RoleService
}

func newRolesHandler(roles RoleService) *rolesHandler {
	return &rolesHandler{roles: roles}
}

// ListRoles handles GET /api/v1/roles?service_id=.
func (h *rolesHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.GetAvailableRoles(r.Context(), r.URL.Query().Get("service_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// GetUserRoles handles GET /api/v1/users/{id}/roles.
func (h *rolesHandler) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.PrincipalFromContext(r.Context())
	assignments, err := h.roles.GetUserRoles(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

type assignRequest struct {
	ServiceID string `json:"service_id"`
	RoleName  string `json:"role_name"`
	TenantID  string `json:"tenant_id"`
}

func (h *rolesHandler) readAssign(r *http.Request) (role.AssignInput, error) {
	var req assignRequest
	if err := readJSON(r, &req); err != nil {
		return role.AssignInput{}, err
	}
	return role.AssignInput{
		UserID:    chi.URLParam(r, "id"),
		ServiceID: req.ServiceID,
		RoleName:  req.RoleName,
		TenantID:  req.TenantID,
	}, nil
}

// AssignRole handles POST /api/v1/users/{id}/roles.
func (h *rolesHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	in, err := h.readAssign(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := authz.PrincipalFromContext(r.Context())

	a, err := h.roles.AssignRole(r.Context(), p, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// EnsureRole handles PUT /api/v1/users/{id}/roles: 201 when the assignment
// was created, 200 with the existing one otherwise.
func (h *rolesHandler) EnsureRole(w http.ResponseWriter, r *http.Request) {
	in, err := h.readAssign(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := authz.PrincipalFromContext(r.Context())

	a, created, err := h.roles.CreateIfNotExists(r.Context(), p, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, a)
}

// RemoveRole handles DELETE /api/v1/role-assignments/{id}.
func (h *rolesHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.PrincipalFromContext(r.Context())
	if err := h.roles.RemoveRole(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
