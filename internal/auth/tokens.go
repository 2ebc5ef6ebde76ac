package auth

import (
	"context"
	"errors"
	"strconv"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/audit"
	"github.com/alecgard/warden/internal/lockout"
	"github.com/alecgard/warden/internal/role"
	"github.com/alecgard/warden/internal/token"
	"github.com/alecgard/warden/internal/user"
)

// AccessResult is a freshly issued access token.
type AccessResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	TenantID    string `json:"tenant_id"`
}

// Verify validates an access token. Expiry maps to TOKEN_EXPIRED; a bad
// signature, malformed input or a refresh token map to INVALID_TOKEN.
func (e *Engine) Verify(_ context.Context, accessToken string) (*token.AccessClaims, error) {
	claims, err := e.codec.ParseAccess(accessToken)
	if err != nil {
		return nil, e.rejected(err)
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new access token built from the
// user's current state.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AccessResult, error) {
	claims, err := e.codec.ParseRefresh(refreshToken)
	if err != nil {
		return nil, e.rejected(err)
	}

	rec, err := e.tokens.GetRefreshToken(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			e.recordRejection("unknown")
			return nil, apperr.ErrInvalidToken
		}
		return nil, apperr.Unavailable(err)
	}
	now := e.now()
	switch {
	case rec.RevokedAt != nil, rec.UserID != claims.Subject:
		e.recordRejection("revoked")
		return nil, apperr.ErrInvalidToken
	case !rec.Usable(now):
		e.recordRejection("expired")
		return nil, apperr.ErrTokenExpired
	}

	u, err := e.currentUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	return e.accessResult(ctx, u, e.activeTenant(u, ""))
}

// SwitchTenant issues an access token for userID whose active tenant is
// tenantID. The user must be a member of tenantID.
func (e *Engine) SwitchTenant(ctx context.Context, userID, tenantID string) (*AccessResult, error) {
	if tenantID == "" {
		return nil, apperr.Validation("tenant_id is required")
	}
	u, err := e.currentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.MemberOf(tenantID) {
		return nil, apperr.ErrInsufficientPermissions
	}
	return e.accessResult(ctx, u, tenantID)
}

// LogoutRequest revokes a refresh token. When UserID is set, the token must
// belong to that user. AllDevices revokes every refresh token of the
// token's subject.
type LogoutRequest struct {
	RefreshToken string
	AllDevices   bool
	UserID       string
}

// Logout revokes refresh tokens. Repeating a logout succeeds; an expired
// refresh token has nothing left to revoke and is acknowledged.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) error {
	claims, err := e.codec.ParseRefresh(req.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil
		}
		return e.rejected(err)
	}
	if req.UserID != "" && claims.Subject != req.UserID {
		e.recordRejection("subject")
		return apperr.ErrInvalidToken
	}

	if err := e.tokens.RevokeRefreshToken(ctx, claims.ID); err != nil {
		return apperr.Unavailable(err)
	}
	detail := map[string]string{"all_devices": "false"}
	if req.AllDevices {
		n, err := e.tokens.RevokeAllRefreshTokens(ctx, claims.Subject)
		if err != nil {
			return apperr.Unavailable(err)
		}
		detail["all_devices"] = "true"
		detail["revoked"] = strconv.FormatInt(n, 10)
	}

	e.audit.Record(ctx, audit.Enrich(ctx, audit.Event{
		Timestamp:  e.now().UTC(),
		Actor:      claims.Subject,
		Action:     audit.ActionLogout,
		TargetType: "user",
		TargetID:   claims.Subject,
		Detail:     detail,
	}))
	return nil
}

// currentUser reloads a token subject and checks it may still hold tokens.
func (e *Engine) currentUser(ctx context.Context, userID string) (*user.User, error) {
	u, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, apperr.ErrInvalidToken
		}
		return nil, apperr.Unavailable(err)
	}
	if !u.Active {
		return nil, apperr.ErrAccountDisabled
	}
	if lockout.IsLocked(u.LockedUntil, e.now()) {
		return nil, apperr.ErrAccountLocked
	}
	return u, nil
}

// activeTenant picks preferred when u belongs to it, then the privileged
// tenant, then the first membership.
func (e *Engine) activeTenant(u *user.User, preferred string) string {
	if preferred != "" && u.MemberOf(preferred) {
		return preferred
	}
	if e.cfg.PrivilegedTenantID != "" && u.MemberOf(e.cfg.PrivilegedTenantID) {
		return e.cfg.PrivilegedTenantID
	}
	if len(u.Memberships) > 0 {
		return u.Memberships[0].TenantID
	}
	return ""
}

// BuildClaims derives access claims for u with tenantID active. Role claims
// are the most recent assignments in tenantID, capped at MaxEmbeddedRoles.
func (e *Engine) BuildClaims(ctx context.Context, u *user.User, tenantID string) (token.AccessClaims, error) {
	assignments, err := e.roles.ListAssignments(ctx, u.ID)
	if err != nil {
		return token.AccessClaims{}, apperr.Unavailable(err)
	}

	claims := token.AccessClaims{
		Name:     u.Name,
		TenantID: tenantID,
		Tenants:  make([]token.TenantClaim, 0, len(u.Memberships)),
	}
	claims.Subject = u.ID
	for _, m := range u.Memberships {
		claims.Tenants = append(claims.Tenants, token.TenantClaim{
			ID:         m.TenantID,
			Roles:      m.Roles,
			Privileged: m.TenantID == e.cfg.PrivilegedTenantID,
		})
	}

	top := role.ForToken(assignments, tenantID, e.cfg.MaxEmbeddedRoles)
	claims.Roles = make([]token.RoleClaim, len(top))
	for i, a := range top {
		claims.Roles[i] = token.RoleClaim{ServiceID: a.ServiceID, RoleName: a.RoleName}
	}
	return claims, nil
}

func (e *Engine) issueAccess(ctx context.Context, u *user.User, tenantID string) (string, error) {
	claims, err := e.BuildClaims(ctx, u, tenantID)
	if err != nil {
		return "", err
	}
	signed, err := e.codec.IssueAccess(claims)
	if err != nil {
		return "", apperr.Internal(err)
	}
	e.recordIssued("access")
	return signed, nil
}

func (e *Engine) issueRefresh(ctx context.Context, userID string) (string, error) {
	r, err := e.codec.IssueRefresh(userID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if _, err := e.tokens.CreateRefreshToken(ctx, r.ID, userID, r.ExpiresAt); err != nil {
		return "", apperr.Unavailable(err)
	}
	e.recordIssued("refresh")
	return r.Token, nil
}

func (e *Engine) accessResult(ctx context.Context, u *user.User, tenantID string) (*AccessResult, error) {
	access, err := e.issueAccess(ctx, u, tenantID)
	if err != nil {
		return nil, err
	}
	return &AccessResult{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(e.codec.AccessTTL().Seconds()),
		TenantID:    tenantID,
	}, nil
}

// rejected maps a codec error to the client-facing taxonomy.
func (e *Engine) rejected(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		e.recordRejection("expired")
		return apperr.ErrTokenExpired.With(err)
	case errors.Is(err, token.ErrInvalidSignature):
		e.recordRejection("signature")
	case errors.Is(err, token.ErrWrongType):
		e.recordRejection("type")
	case errors.Is(err, token.ErrInvalidClaims):
		e.recordRejection("claims")
	default:
		e.recordRejection("malformed")
	}
	return apperr.ErrInvalidToken.With(err)
}

func (e *Engine) recordIssued(kind string) {
	if e.metrics != nil {
		e.metrics.RecordTokenIssued(kind)
	}
}

func (e *Engine) recordRejection(reason string) {
	if e.metrics != nil {
		e.metrics.RecordTokenRejected(reason)
	}
}
