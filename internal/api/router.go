package api

import (
	"context"
	"net/http"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/auth"
	"github.com/alecgard/warden/internal/authz"
	"github.com/alecgard/warden/internal/metrics"
	"github.com/alecgard/warden/internal/token"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router. DB, Metrics and
// AuditLog are optional; the routes they back are omitted or degraded
// when unset.
type RouterDeps struct {
	Auth           *auth.Engine
	Roles          RoleService
	Guard          *authz.Guard
	AuditLog       AuditLister
	Codec          *token.Codec
	DB             Pinger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(auditContext)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, apperr.Envelope{Error: apperr.Detail{
			Code:    "NOT_FOUND",
			Message: "no route for " + r.Method + " " + r.URL.Path,
		}})
	})

	r.Get("/health", healthHandler(deps.DB))
	r.Get("/.well-known/warden.json", WellKnownHandler)
	r.Get("/.well-known/jwks.json", JWKSHandler(deps.Codec))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Exposition())
		r.Get("/metrics/summary", deps.Metrics.Handler())
	}

	if deps.Auth == nil {
		return r
	}

	authH := newAuthHandler(deps.Auth)
	bearer := auth.BearerMiddleware(deps.Auth)

	// Public authentication routes.
	r.Post("/api/v1/auth/login", authH.Login)
	r.Post("/api/v1/admin/auth/login", authH.AdminLogin)
	r.Post("/api/v1/auth/refresh", authH.Refresh)

	// Bearer-authenticated routes.
	r.Group(func(br chi.Router) {
		br.Use(bearer)

		br.Post("/api/v1/auth/logout", authH.Logout)
		br.Get("/api/v1/auth/verify", authH.Verify)
		br.Post("/api/v1/auth/switch-tenant", authH.SwitchTenant)

		if deps.Roles != nil && deps.Guard != nil {
			roles := newRolesHandler(deps.Roles)
			read := authz.RequirePermission(deps.Guard, "roles.read")
			assign := authz.RequirePermission(deps.Guard, "roles.assign")

			br.With(read).Get("/api/v1/roles", roles.ListRoles)
			br.With(read).Get("/api/v1/users/{id}/roles", roles.GetUserRoles)
			br.With(assign).Post("/api/v1/users/{id}/roles", roles.AssignRole)
			br.With(assign).Put("/api/v1/users/{id}/roles", roles.EnsureRole)
			br.With(assign).Delete("/api/v1/role-assignments/{id}", roles.RemoveRole)
		}

		// Privileged administration.
		if deps.Guard != nil {
			users := newUsersHandler(deps.Auth)
			br.With(authz.RequirePrivileged, authz.RequirePermission(deps.Guard, "users.unlock")).
				Post("/api/v1/admin/users/{id}/unlock", users.Unlock)

			if deps.AuditLog != nil {
				events := newAuditHandler(deps.AuditLog)
				br.With(authz.RequirePrivileged, authz.RequirePermission(deps.Guard, "audit.read")).
					Get("/api/v1/admin/audit-events", events.ListEvents)
			}
		}
	})

	return r
}

// healthHandler reports liveness and, when db is set, database
// reachability.
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		if err := db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "degraded",
				"database": "unreachable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}
