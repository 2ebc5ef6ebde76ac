package role

import (
	"sort"
	"time"
)

// Role is a catalog entry: an assignable role of a downstream service and
// the permissions it grants.
type Role struct {
	ServiceID   string   `json:"service_id"`
	RoleName    string   `json:"role_name"`
	Label       string   `json:"label"`
	Permissions []string `json:"permissions"`
}

// Assignment ties a user to a (service, role) pair within a tenant.
// Assignments are created and deleted, never updated.
type Assignment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ServiceID  string    `json:"service_id"`
	RoleName   string    `json:"role_name"`
	TenantID   string    `json:"tenant_id"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy string    `json:"assigned_by"`
}

// AssignInput describes a requested assignment. An empty TenantID means the
// caller's active tenant.
type AssignInput struct {
	UserID    string `json:"user_id"`
	ServiceID string `json:"service_id"`
	RoleName  string `json:"role_name"`
	TenantID  string `json:"tenant_id,omitempty"`
}

// SortByRecency orders assignments most recently assigned first, breaking
// ties by ascending id.
func SortByRecency(as []Assignment) {
	sort.SliceStable(as, func(i, j int) bool {
		if !as[i].AssignedAt.Equal(as[j].AssignedAt) {
			return as[i].AssignedAt.After(as[j].AssignedAt)
		}
		return as[i].ID < as[j].ID
	})
}

// ForToken selects the assignments embedded in a token for tenantID: the
// limit most recent ones in recency order. The input is not modified.
func ForToken(as []Assignment, tenantID string, limit int) []Assignment {
	out := make([]Assignment, 0, len(as))
	for _, a := range as {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	SortByRecency(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
