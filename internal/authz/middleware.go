package authz

import (
	"log/slog"
	"net/http"

	"github.com/alecgard/warden/internal/apperr"
)

// RequirePermission returns middleware that rejects requests whose
// principal lacks perm. It must run after the bearer middleware that puts
// the principal into the request context.
func RequirePermission(g *Guard, perm string, opts ...CheckOption) func(http.Handler) http.Handler {
	MustParse(perm)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, apperr.ErrInvalidToken)
				return
			}
			if err := g.Require(r.Context(), p, perm, opts...); err != nil {
				if apperr.Fatal(err) {
					slog.Error("permission check failed", "permission", perm, "user_id", p.UserID, "error", err)
				}
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePrivileged rejects principals outside the privileged tenant.
func RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, apperr.ErrInvalidToken)
			return
		}
		if !p.Privileged {
			writeError(w, apperr.ErrNotPrivilegedTenant)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, err error) {
	apperr.WriteHTTP(w, err)
}
