package role

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/audit"
	"github.com/alecgard/warden/internal/authz"
	"github.com/alecgard/warden/internal/pgerr"
	"github.com/alecgard/warden/internal/user"
	"github.com/google/uuid"
)

// AssignmentStore is the persistence the Engine needs.
type AssignmentStore interface {
	FindRoleAssignment(ctx context.Context, userID, serviceID, roleName string) (*Assignment, error)
	GetRoleAssignment(ctx context.Context, id string) (*Assignment, error)
	ListRoleAssignments(ctx context.Context, userID string) ([]Assignment, error)
	CreateRoleAssignment(ctx context.Context, a Assignment) (*Assignment, error)
	DeleteRoleAssignment(ctx context.Context, id string) error
	ListRoleCatalog(ctx context.Context, serviceID string) ([]Role, error)
}

// UserLookup resolves assignment targets.
type UserLookup interface {
	FindUserByID(ctx context.Context, id string) (*user.User, error)
}

// Invalidator drops cached permissions after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, userID, tenantID string)
}

// Mutation metric labels.
const (
	MutationAssign = "assign"
	MutationRemove = "remove"
)

// MutationRecorder observes successful role mutations, labelled
// MutationAssign or MutationRemove.
type MutationRecorder interface {
	RecordRoleMutation(action string)
}

// Engine manages role assignments against the catalog and enforces tenant
// isolation on every caller-facing operation.
type Engine struct {
	store   AssignmentStore
	users   UserLookup
	audit   audit.Recorder
	cache   Invalidator
	metrics MutationRecorder
	now     func() time.Time
}

// NewEngine creates an Engine. rec and cache may be nil.
func NewEngine(store AssignmentStore, users UserLookup, rec audit.Recorder, cache Invalidator) *Engine {
	if rec == nil {
		rec = audit.Discard{}
	}
	return &Engine{store: store, users: users, audit: rec, cache: cache, now: time.Now}
}

// SetMetrics attaches a mutation observer.
func (e *Engine) SetMetrics(m MutationRecorder) { e.metrics = m }

// SetInvalidator replaces the permission cache invalidator.
func (e *Engine) SetInvalidator(c Invalidator) { e.cache = c }

// GetAvailableRoles returns the catalog, optionally filtered by service.
func (e *Engine) GetAvailableRoles(ctx context.Context, serviceID string) ([]Role, error) {
	roles, err := e.store.ListRoleCatalog(ctx, strings.TrimSpace(serviceID))
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

// ValidateRole reports whether (serviceID, roleName) is in the catalog.
func (e *Engine) ValidateRole(ctx context.Context, serviceID, roleName string) (bool, error) {
	if serviceID == "" || roleName == "" {
		return false, nil
	}
	roles, err := e.store.ListRoleCatalog(ctx, serviceID)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	for _, r := range roles {
		if r.ServiceID == serviceID && r.RoleName == roleName {
			return true, nil
		}
	}
	return false, nil
}

// visibleUser loads userID as seen by caller. Non-privileged callers get
// INSUFFICIENT_PERMISSIONS both for users outside their active tenant and
// for users that do not exist, so existence is not disclosed across
// tenants.
func (e *Engine) visibleUser(ctx context.Context, caller authz.Principal, userID string) (*user.User, error) {
	u, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgerr.ErrNotFound) {
			if caller.Privileged {
				return nil, apperr.ErrUserNotFound
			}
			return nil, apperr.ErrInsufficientPermissions
		}
		return nil, apperr.Unavailable(err)
	}
	if !caller.Privileged && !u.MemberOf(caller.TenantID) {
		return nil, apperr.ErrInsufficientPermissions
	}
	return u, nil
}

// GetUserRoles returns the user's assignments, most recent first.
// Non-privileged callers only see assignments in their active tenant.
func (e *Engine) GetUserRoles(ctx context.Context, caller authz.Principal, userID string) ([]Assignment, error) {
	if _, err := e.visibleUser(ctx, caller, userID); err != nil {
		return nil, err
	}
	all, err := e.store.ListRoleAssignments(ctx, userID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	out := make([]Assignment, 0, len(all))
	for _, a := range all {
		if caller.Privileged || a.TenantID == caller.TenantID {
			out = append(out, a)
		}
	}
	SortByRecency(out)
	return out, nil
}

// ListAssignments returns every assignment of userID without tenant
// scoping, most recent first. It backs token claims and is not exposed to
// callers directly.
func (e *Engine) ListAssignments(ctx context.Context, userID string) ([]Assignment, error) {
	all, err := e.store.ListRoleAssignments(ctx, userID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	SortByRecency(all)
	return all, nil
}

// AssignRole creates an assignment. An existing (user, service, role)
// assignment fails with DUPLICATE_ASSIGNMENT.
func (e *Engine) AssignRole(ctx context.Context, caller authz.Principal, in AssignInput) (*Assignment, error) {
	a, _, err := e.assign(ctx, caller, in, false)
	return a, err
}

// CreateIfNotExists creates the assignment or returns the existing one
// unchanged. created reports whether a new row was written.
func (e *Engine) CreateIfNotExists(ctx context.Context, caller authz.Principal, in AssignInput) (a *Assignment, created bool, err error) {
	return e.assign(ctx, caller, in, true)
}

func (e *Engine) assign(ctx context.Context, caller authz.Principal, in AssignInput, idempotent bool) (*Assignment, bool, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	in.RoleName = strings.TrimSpace(in.RoleName)
	if in.TenantID == "" {
		in.TenantID = caller.TenantID
	}
	if in.UserID == "" || in.ServiceID == "" || in.RoleName == "" {
		return nil, false, apperr.Validation("user_id, service_id and role_name are required")
	}

	if err := authz.CanAccessTenant(caller, in.TenantID); err != nil {
		return nil, false, err
	}
	u, err := e.visibleUser(ctx, caller, in.UserID)
	if err != nil {
		return nil, false, err
	}
	if !u.MemberOf(in.TenantID) {
		return nil, false, apperr.ErrTenantMismatch
	}
	ok, err := e.ValidateRole(ctx, in.ServiceID, in.RoleName)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, apperr.ErrInvalidRole
	}

	created, err := e.store.CreateRoleAssignment(ctx, Assignment{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		ServiceID:  in.ServiceID,
		RoleName:   in.RoleName,
		TenantID:   in.TenantID,
		AssignedAt: e.now().UTC(),
		AssignedBy: caller.UserID,
	})
	if err != nil {
		if !errors.Is(err, pgerr.ErrDuplicate) {
			return nil, false, apperr.Unavailable(err)
		}
		if !idempotent {
			return nil, false, apperr.ErrDuplicateAssignment
		}
		existing, err := e.store.FindRoleAssignment(ctx, in.UserID, in.ServiceID, in.RoleName)
		if err != nil {
			return nil, false, apperr.Unavailable(err)
		}
		if err := authz.CanAccessTenant(caller, existing.TenantID); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	e.mutated(ctx, caller, audit.ActionRoleAssign, created)
	return created, true, nil
}

// RemoveRole deletes an assignment the caller may administer.
func (e *Engine) RemoveRole(ctx context.Context, caller authz.Principal, assignmentID string) error {
	a, err := e.store.GetRoleAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, pgerr.ErrNotFound) {
			if caller.Privileged {
				return apperr.ErrAssignmentNotFound
			}
			return apperr.ErrInsufficientPermissions
		}
		return apperr.Unavailable(err)
	}
	if err := authz.CanAccessTenant(caller, a.TenantID); err != nil {
		return err
	}

	if err := e.store.DeleteRoleAssignment(ctx, a.ID); err != nil {
		if errors.Is(err, pgerr.ErrNotFound) {
			return apperr.ErrAssignmentNotFound
		}
		return apperr.Unavailable(err)
	}

	e.mutated(ctx, caller, audit.ActionRoleRemove, a)
	return nil
}

// Permissions returns the union of catalog permissions granted by the
// user's assignments in tenantID, sorted.
func (e *Engine) Permissions(ctx context.Context, userID, tenantID string) ([]string, error) {
	assignments, err := e.store.ListRoleAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	held := make(map[[2]string]bool)
	for _, a := range assignments {
		if a.TenantID == tenantID {
			held[[2]string{a.ServiceID, a.RoleName}] = true
		}
	}
	if len(held) == 0 {
		return []string{}, nil
	}

	catalog, err := e.store.ListRoleCatalog(ctx, "")
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, r := range catalog {
		if !held[[2]string{r.ServiceID, r.RoleName}] {
			continue
		}
		for _, p := range r.Permissions {
			set[p] = true
		}
	}
	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms, nil
}

func (e *Engine) mutated(ctx context.Context, caller authz.Principal, action string, a *Assignment) {
	e.audit.Record(ctx, audit.Enrich(ctx, audit.Event{
		Timestamp:  e.now().UTC(),
		Actor:      caller.UserID,
		Action:     action,
		TargetType: "role_assignment",
		TargetID:   a.ID,
		TenantID:   a.TenantID,
		Detail: map[string]string{
			"user_id":    a.UserID,
			"service_id": a.ServiceID,
			"role_name":  a.RoleName,
		},
	}))
	if e.cache != nil {
		e.cache.Invalidate(ctx, a.UserID, a.TenantID)
	}
	if e.metrics != nil {
		e.metrics.RecordRoleMutation(mutationLabel(action))
	}
}

func mutationLabel(action string) string {
	if action == audit.ActionRoleRemove {
		return MutationRemove
	}
	return MutationAssign
}
