package api

import (
	"net/http"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/auth"
	"github.com/alecgard/warden/internal/authz"
)

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	engine *auth.Engine
}

func newAuthHandler(engine *auth.Engine) *authHandler {
	return &authHandler{engine: engine}
}

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, false)
}

// AdminLogin handles POST /api/v1/admin/auth/login. Only members of the
// privileged tenant get tokens from it.
func (h *authHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, true)
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request, admin bool) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.engine.Login(r.Context(), auth.LoginRequest{
		LoginID:  req.LoginID,
		Password: req.Password,
		IP:       clientIP(r),
		Admin:    admin,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, apperr.Validation("refresh_token is required"))
		return
	}

	res, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Logout handles POST /api/v1/auth/logout. The refresh token in the body
// must belong to the bearer.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
		AllDevices   bool   `json:"all_devices"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, apperr.Validation("refresh_token is required"))
		return
	}
	p, _ := authz.PrincipalFromContext(r.Context())

	err := h.engine.Logout(r.Context(), auth.LogoutRequest{
		RefreshToken: req.RefreshToken,
		AllDevices:   req.AllDevices,
		UserID:       p.UserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type verifyResponse struct {
	Valid      bool     `json:"valid"`
	UserID     string   `json:"user_id"`
	TenantID   string   `json:"tenant_id"`
	Tenants    []string `json:"tenants"`
	Roles      []string `json:"roles"`
	Privileged bool     `json:"privileged"`
	ExpiresAt  int64    `json:"expires_at"`
}

// Verify handles GET /api/v1/auth/verify. The bearer middleware has
// already validated the token; this reports what it carries.
func (h *authHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	p, ok := authz.PrincipalFromContext(r.Context())
	if claims == nil || !ok {
		writeError(w, r, apperr.ErrInvalidToken)
		return
	}

	resp := verifyResponse{
		Valid:      true,
		UserID:     p.UserID,
		TenantID:   p.TenantID,
		Tenants:    p.Tenants,
		Roles:      p.RoleNames(),
		Privileged: p.Privileged,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SwitchTenant handles POST /api/v1/auth/switch-tenant.
func (h *authHandler) SwitchTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := authz.PrincipalFromContext(r.Context())

	res, err := h.engine.SwitchTenant(r.Context(), p.UserID, req.TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
