package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/authz"
	"github.com/alecgard/warden/internal/token"
)

type contextKey int

const claimsContextKey contextKey = iota

// ContextWithClaims returns a new context carrying verified access claims.
func ContextWithClaims(ctx context.Context, c *token.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, c)
}

// ClaimsFromContext extracts the claims from the context, or nil if not
// present.
func ClaimsFromContext(ctx context.Context) *token.AccessClaims {
	c, _ := ctx.Value(claimsContextKey).(*token.AccessClaims)
	return c
}

// BearerMiddleware returns middleware that verifies the access token in the
// Authorization header. On success the claims and the derived principal
// are injected into the request context.
func BearerMiddleware(e *Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractBearerToken(r)
			if raw == "" {
				writeError(w, apperr.New(apperr.CodeInvalidToken, "missing or malformed authorization header"))
				return
			}

			claims, err := e.Verify(r.Context(), raw)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := ContextWithClaims(r.Context(), claims)
			ctx = authz.ContextWithPrincipal(ctx, authz.PrincipalFromClaims(claims, e.PrivilegedTenantID()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractBearerToken returns the token of a "Bearer" Authorization header.
func ExtractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeError(w http.ResponseWriter, err error) {
	apperr.WriteHTTP(w, err)
}
