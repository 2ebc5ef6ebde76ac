package authz

import (
	"context"

	"github.com/alecgard/warden/internal/token"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID   string
	TenantID string
	Tenants  []string
	// TenantRoles are the role names of the membership in TenantID.
	TenantRoles []string
	Roles       []token.RoleClaim
	Privileged  bool
}

// PrincipalFromClaims builds a Principal from verified access claims. The
// caller is privileged when it holds a membership in privilegedTenantID.
func PrincipalFromClaims(c *token.AccessClaims, privilegedTenantID string) Principal {
	p := Principal{
		UserID:   c.Subject,
		TenantID: c.TenantID,
		Tenants:  make([]string, 0, len(c.Tenants)),
		Roles:    c.Roles,
	}
	for _, t := range c.Tenants {
		p.Tenants = append(p.Tenants, t.ID)
		if t.ID == c.TenantID {
			p.TenantRoles = t.Roles
		}
		if privilegedTenantID != "" && t.ID == privilegedTenantID {
			p.Privileged = true
		}
	}
	return p
}

// MemberOf reports whether the principal belongs to tenantID.
func (p Principal) MemberOf(tenantID string) bool {
	for _, t := range p.Tenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

// RoleNames returns the tenant-scoped role names followed by the service
// role names, without duplicates.
func (p Principal) RoleNames() []string {
	seen := make(map[string]bool, len(p.TenantRoles)+len(p.Roles))
	out := make([]string, 0, len(p.TenantRoles)+len(p.Roles))
	for _, r := range p.TenantRoles {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range p.Roles {
		if !seen[r.RoleName] {
			seen[r.RoleName] = true
			out = append(out, r.RoleName)
		}
	}
	return out
}

type contextKey int

const principalKey contextKey = iota

// ContextWithPrincipal returns a new context carrying p.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the principal from ctx.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
