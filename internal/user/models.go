package user

import "time"

// Tenant is an isolation boundary. Exactly one tenant is configured as
// privileged; its members may act across all tenants.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantMembership is a user's membership in a tenant with the role names
// scoped to that tenant.
type TenantMembership struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// User represents a registered account.
type User struct {
	ID           string             `json:"id"`
	LoginID      string             `json:"login_id"`
	Name         string             `json:"name"`
	PasswordHash string             `json:"-"`
	Active       bool               `json:"active"`
	LockedUntil  *time.Time         `json:"locked_until,omitempty"`
	Memberships  []TenantMembership `json:"memberships"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Membership returns the user's membership in tenantID, if any.
func (u *User) Membership(tenantID string) (TenantMembership, bool) {
	for _, m := range u.Memberships {
		if m.TenantID == tenantID {
			return m, true
		}
	}
	return TenantMembership{}, false
}

// MemberOf reports whether the user belongs to tenantID.
func (u *User) MemberOf(tenantID string) bool {
	_, ok := u.Membership(tenantID)
	return ok
}

// TenantIDs returns the ids of every tenant the user belongs to, in
// membership order.
func (u *User) TenantIDs() []string {
	ids := make([]string, len(u.Memberships))
	for i, m := range u.Memberships {
		ids[i] = m.TenantID
	}
	return ids
}

// CreateUserInput holds the fields required to provision a user. The
// password must already be hashed.
type CreateUserInput struct {
	LoginID      string
	Name         string
	PasswordHash string
	Active       bool
}

// UpdateUserInput holds optional fields for a partial user update.
// ClearLock takes precedence over LockedUntil.
type UpdateUserInput struct {
	Name         *string
	PasswordHash *string
	Active       *bool
	LockedUntil  *time.Time
	ClearLock    bool
}

// LoginAttempt is an append-only record of one authentication attempt.
type LoginAttempt struct {
	ID          string    `json:"id"`
	LoginID     string    `json:"login_id"`
	Success     bool      `json:"success"`
	IP          string    `json:"ip"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// RefreshToken is the server-side record of an issued refresh token. Only
// a hash of the token's jti is stored.
type RefreshToken struct {
	TokenHash string     `json:"-"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Usable reports whether the record is neither revoked nor expired at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
