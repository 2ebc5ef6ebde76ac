package api

import (
	"net/http"

	"github.com/alecgard/warden/internal/token"
)

// wellKnownManifest is the static JSON manifest for /.well-known/warden.json.
const wellKnownManifest = `{
  "name": "Warden",
  "description": "Authentication and role-based authorization service",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization",
    "jwks_uri": "/.well-known/jwks.json"
  },
  "endpoints": {
    "login": "/api/v1/auth/login",
    "admin_login": "/api/v1/admin/auth/login",
    "refresh": "/api/v1/auth/refresh",
    "logout": "/api/v1/auth/logout",
    "verify": "/api/v1/auth/verify",
    "switch_tenant": "/api/v1/auth/switch-tenant",
    "roles": "/api/v1/roles",
    "user_roles": "/api/v1/users/{id}/roles"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static Warden well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}

// JWKSHandler publishes the public verification keys of codec. HMAC
// deployments publish an empty set.
func JWKSHandler(codec *token.Codec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := token.EmptyJWKS()
		if codec != nil {
			keys = codec.PublicJWKS()
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, http.StatusOK, keys)
	}
}
