package authz

import (
	"context"
	"log/slog"

	"github.com/alecgard/warden/internal/apperr"
)

// DefaultAdminRoles bypass permission checks unless a check opts out.
var DefaultAdminRoles = []string{"admin", "super_admin", "system_admin"}

// PermissionSource resolves the permissions a user holds in a tenant.
type PermissionSource interface {
	Permissions(ctx context.Context, userID, tenantID string) ([]string, error)
}

// CacheRecorder receives cache hit/miss observations.
type CacheRecorder interface {
	RecordPermissionCache(hit bool)
}

// Guard evaluates permission and tenant-scope checks for a Principal.
type Guard struct {
	source             PermissionSource
	cache              Cache
	adminRoles         map[string]bool
	privilegedTenantID string
	metrics            CacheRecorder
}

// Option configures a Guard.
type Option func(*Guard)

// WithCache sets the permission cache. The default is NoopCache.
func WithCache(c Cache) Option {
	return func(g *Guard) {
		if c != nil {
			g.cache = c
		}
	}
}

// WithAdminRoles replaces the admin override allow-list.
func WithAdminRoles(roles ...string) Option {
	return func(g *Guard) {
		g.adminRoles = make(map[string]bool, len(roles))
		for _, r := range roles {
			g.adminRoles[r] = true
		}
	}
}

// WithPrivilegedTenant sets the tenant whose members act across tenants.
func WithPrivilegedTenant(id string) Option {
	return func(g *Guard) { g.privilegedTenantID = id }
}

// NewGuard creates a Guard resolving permissions from source.
func NewGuard(source PermissionSource, opts ...Option) *Guard {
	g := &Guard{source: source, cache: NoopCache{}}
	WithAdminRoles(DefaultAdminRoles...)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetMetrics attaches a recorder for cache observations.
func (g *Guard) SetMetrics(m CacheRecorder) { g.metrics = m }

// Cache returns the guard's permission cache.
func (g *Guard) Cache() Cache { return g.cache }

// PrivilegedTenantID returns the configured privileged tenant.
func (g *Guard) PrivilegedTenantID() string { return g.privilegedTenantID }

type checkOptions struct {
	noAdminOverride bool
}

// CheckOption adjusts a single check.
type CheckOption func(*checkOptions)

// WithoutAdminOverride makes admin roles subject to the check.
func WithoutAdminOverride() CheckOption {
	return func(o *checkOptions) { o.noAdminOverride = true }
}

// IsAdmin reports whether p holds a role on the admin allow-list.
func (g *Guard) IsAdmin(p Principal) bool {
	for _, r := range p.RoleNames() {
		if g.adminRoles[r] {
			return true
		}
	}
	return false
}

// Require fails with INSUFFICIENT_PERMISSIONS unless p holds perm.
func (g *Guard) Require(ctx context.Context, p Principal, perm string, opts ...CheckOption) error {
	return g.check(ctx, p, []string{perm}, true, opts)
}

// RequireAny succeeds if p holds at least one of perms.
func (g *Guard) RequireAny(ctx context.Context, p Principal, perms []string, opts ...CheckOption) error {
	return g.check(ctx, p, perms, false, opts)
}

// RequireAll succeeds only if p holds every one of perms.
func (g *Guard) RequireAll(ctx context.Context, p Principal, perms []string, opts ...CheckOption) error {
	return g.check(ctx, p, perms, true, opts)
}

func (g *Guard) check(ctx context.Context, p Principal, perms []string, all bool, opts []CheckOption) error {
	var o checkOptions
	for _, opt := range opts {
		opt(&o)
	}
	if p.UserID == "" {
		return apperr.ErrInsufficientPermissions
	}

	required, err := ParseAll(perms)
	if err != nil || len(required) == 0 {
		return apperr.Internal(err)
	}

	if !o.noAdminOverride && g.IsAdmin(p) {
		return nil
	}

	granted, err := g.Granted(ctx, p)
	if err != nil {
		return err
	}

	for _, req := range required {
		ok := AnyGrants(granted, req)
		if ok && !all {
			return nil
		}
		if !ok && all {
			return apperr.ErrInsufficientPermissions
		}
	}
	if all {
		return nil
	}
	return apperr.ErrInsufficientPermissions
}

// Granted returns the permissions p holds in its active tenant, consulting
// the cache first.
func (g *Guard) Granted(ctx context.Context, p Principal) ([]Permission, error) {
	if perms, ok := g.cache.Get(ctx, p.UserID, p.TenantID); ok {
		g.recordCache(true)
		granted, _ := ParseAll(perms)
		return granted, nil
	}
	g.recordCache(false)

	if g.source == nil {
		return nil, nil
	}
	perms, err := g.source.Permissions(ctx, p.UserID, p.TenantID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	g.cache.Set(ctx, p.UserID, p.TenantID, perms)

	granted, err := ParseAll(perms)
	if err != nil {
		slog.Warn("ignoring invalid granted permission", "user_id", p.UserID, "error", err)
	}
	return granted, nil
}

// CanAccessTenant enforces tenant isolation for p.
func (g *Guard) CanAccessTenant(p Principal, tenantID string) error {
	return CanAccessTenant(p, tenantID)
}

// CanAccessTenant reports INSUFFICIENT_PERMISSIONS unless tenantID is p's
// active tenant or p belongs to the privileged tenant.
func CanAccessTenant(p Principal, tenantID string) error {
	if p.Privileged {
		return nil
	}
	if tenantID != "" && p.TenantID == tenantID {
		return nil
	}
	return apperr.ErrInsufficientPermissions
}

// Invalidate drops the cached permissions for (userID, tenantID).
func (g *Guard) Invalidate(ctx context.Context, userID, tenantID string) {
	g.cache.Invalidate(ctx, userID, tenantID)
}

func (g *Guard) recordCache(hit bool) {
	if g.metrics != nil {
		g.metrics.RecordPermissionCache(hit)
	}
}
