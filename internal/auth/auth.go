// Package auth implements credential verification, lockout enforcement,
// privileged-tenant gating and token issuance.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/audit"
	"github.com/alecgard/warden/internal/authz"
	"github.com/alecgard/warden/internal/lockout"
	"github.com/alecgard/warden/internal/password"
	"github.com/alecgard/warden/internal/role"
	"github.com/alecgard/warden/internal/token"
	"github.com/alecgard/warden/internal/user"
)

// DefaultMinDuration is the floor applied to every Authenticate call.
const DefaultMinDuration = 200 * time.Millisecond

// DefaultMaxEmbeddedRoles caps the role claims in an access token.
const DefaultMaxEmbeddedRoles = 20

// UserStore is the credential persistence the engine needs.
type UserStore interface {
	FindUserByLoginID(ctx context.Context, loginID string) (*user.User, error)
	FindUserByID(ctx context.Context, id string) (*user.User, error)
	UpdateUser(ctx context.Context, id string, in user.UpdateUserInput) (*user.User, error)
	AppendLoginAttempt(ctx context.Context, a user.LoginAttempt) error
	ListRecentLoginAttempts(ctx context.Context, loginID string, since time.Time) ([]user.LoginAttempt, error)
}

// RefreshStore persists issued refresh tokens.
type RefreshStore interface {
	CreateRefreshToken(ctx context.Context, jti, userID string, expiresAt time.Time) (*user.RefreshToken, error)
	GetRefreshToken(ctx context.Context, jti string) (*user.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, jti string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) (int64, error)
}

// RoleSource lists a user's role assignments across tenants.
type RoleSource interface {
	ListAssignments(ctx context.Context, userID string) ([]role.Assignment, error)
}

// Recorder observes authentication outcomes.
type Recorder interface {
	RecordLogin(path, outcome string)
	RecordLockout()
	RecordTokenIssued(kind string)
	RecordTokenRejected(reason string)
}

// Config holds engine policy.
type Config struct {
	PrivilegedTenantID string
	MinDuration        time.Duration
	MaxEmbeddedRoles   int
	Lockout            lockout.Policy
}

// Deps are the engine's collaborators. Audit may be nil.
type Deps struct {
	Users  UserStore
	Tokens RefreshStore
	Roles  RoleSource
	Hasher password.Hasher
	Codec  *token.Codec
	Audit  audit.Recorder
}

// Engine orchestrates authentication and token lifecycle.
type Engine struct {
	cfg     Config
	users   UserStore
	tokens  RefreshStore
	roles   RoleSource
	hasher  password.Hasher
	codec   *token.Codec
	audit   audit.Recorder
	metrics Recorder
	now     func() time.Time
}

// NewEngine creates an Engine. A zero Lockout policy is replaced with
// lockout.DefaultPolicy and a non-positive MaxEmbeddedRoles with 20.
func NewEngine(cfg Config, d Deps) *Engine {
	if cfg.MaxEmbeddedRoles <= 0 {
		cfg.MaxEmbeddedRoles = DefaultMaxEmbeddedRoles
	}
	if cfg.Lockout.MaxAttempts <= 0 {
		cfg.Lockout = lockout.DefaultPolicy()
	}
	if d.Audit == nil {
		d.Audit = audit.Discard{}
	}
	return &Engine{
		cfg:    cfg,
		users:  d.Users,
		tokens: d.Tokens,
		roles:  d.Roles,
		hasher: d.Hasher,
		codec:  d.Codec,
		audit:  d.Audit,
		now:    time.Now,
	}
}

// SetMetrics attaches an outcome recorder.
func (e *Engine) SetMetrics(m Recorder) { e.metrics = m }

// PrivilegedTenantID returns the configured privileged tenant.
func (e *Engine) PrivilegedTenantID() string { return e.cfg.PrivilegedTenantID }

// Authenticate verifies loginID and pw. The checks run in a fixed order:
// lookup, lock, password, active flag. A disabled account is only reported
// to a caller that supplied the correct password. Every outcome takes at
// least the configured minimum duration, and the unknown-user and locked
// branches burn a dummy hash verification.
func (e *Engine) Authenticate(ctx context.Context, loginID, pw, ip string) (*user.User, error) {
	defer e.pad(ctx, time.Now())

	loginID = normalizeLoginID(loginID)
	if loginID == "" || pw == "" {
		e.hasher.DummyVerify(pw)
		return nil, apperr.ErrInvalidCredentials
	}
	now := e.now().UTC()

	u, err := e.users.FindUserByLoginID(ctx, loginID)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			e.hasher.DummyVerify(pw)
			return nil, apperr.Unavailable(err)
		}
		e.hasher.DummyVerify(pw)
		if err := e.appendAttempt(ctx, loginID, false, ip, now); err != nil {
			return nil, err
		}
		return nil, apperr.ErrInvalidCredentials
	}

	if lockout.IsLocked(u.LockedUntil, now) {
		e.hasher.DummyVerify(pw)
		return nil, apperr.ErrAccountLocked
	}

	if !e.hasher.Verify(pw, u.PasswordHash) {
		if err := e.recordFailure(ctx, u, ip, now); err != nil {
			return nil, err
		}
		return nil, apperr.ErrInvalidCredentials
	}

	if !u.Active {
		if err := e.appendAttempt(ctx, loginID, false, ip, now); err != nil {
			return nil, err
		}
		return nil, apperr.ErrAccountDisabled
	}

	if err := e.appendAttempt(ctx, loginID, true, ip, now); err != nil {
		return nil, err
	}
	if u.LockedUntil != nil {
		updated, err := e.users.UpdateUser(ctx, u.ID, user.UpdateUserInput{ClearLock: true})
		if err != nil {
			return nil, apperr.Unavailable(err)
		}
		u = updated
	}
	return u, nil
}

// recordFailure appends a failed attempt and locks the account when the
// history returned by the store reaches the threshold.
func (e *Engine) recordFailure(ctx context.Context, u *user.User, ip string, now time.Time) error {
	loginID := normalizeLoginID(u.LoginID)
	if err := e.appendAttempt(ctx, loginID, false, ip, now); err != nil {
		return err
	}
	history, err := e.users.ListRecentLoginAttempts(ctx, loginID, e.cfg.Lockout.WindowStart(now))
	if err != nil {
		return apperr.Unavailable(err)
	}
	attempts := make([]lockout.Attempt, len(history))
	for i, a := range history {
		attempts[i] = lockout.Attempt{Success: a.Success, AttemptedAt: a.AttemptedAt}
	}

	d := e.cfg.Lockout.Evaluate(attempts, now)
	if !d.Lock {
		return nil
	}
	until := d.LockedUntil
	if _, err := e.users.UpdateUser(ctx, u.ID, user.UpdateUserInput{LockedUntil: &until}); err != nil {
		return apperr.Unavailable(err)
	}
	slog.Warn("account locked", "user_id", u.ID, "failures", d.Failures, "locked_until", until)
	e.audit.Record(ctx, audit.Enrich(ctx, audit.Event{
		Timestamp:  now,
		Actor:      u.ID,
		Action:     audit.ActionLockout,
		TargetType: "user",
		TargetID:   u.ID,
		Detail:     map[string]string{"locked_until": until.Format(time.RFC3339)},
	}))
	if e.metrics != nil {
		e.metrics.RecordLockout()
	}
	return nil
}

func (e *Engine) appendAttempt(ctx context.Context, loginID string, success bool, ip string, now time.Time) error {
	err := e.users.AppendLoginAttempt(ctx, user.LoginAttempt{
		LoginID:     loginID,
		Success:     success,
		IP:          ip,
		AttemptedAt: now,
	})
	if err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// pad sleeps until MinDuration has elapsed since start.
func (e *Engine) pad(ctx context.Context, start time.Time) {
	remaining := e.cfg.MinDuration - time.Since(start)
	if remaining <= 0 {
		return
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// LoginRequest is a login call. Admin selects the administrative path,
// which requires membership in the privileged tenant.
type LoginRequest struct {
	LoginID  string
	Password string
	IP       string
	Admin    bool
}

// UserSummary is the user section of a login response.
type UserSummary struct {
	ID       string   `json:"id"`
	LoginID  string   `json:"login_id"`
	Name     string   `json:"name"`
	TenantID string   `json:"tenant_id"`
	Tenants  []string `json:"tenants"`
}

// LoginResult is a successful login.
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	User         UserSummary `json:"user"`
}

// Login authenticates req and issues an access/refresh token pair.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	path := "user"
	if req.Admin {
		path = "admin"
	}

	res, err := e.login(ctx, req)
	if err != nil {
		code := apperr.CodeOf(err)
		if apperr.Fatal(err) {
			slog.Error("login failed", "path", path, "error", err)
		} else {
			slog.Warn("login rejected", "path", path, "code", code, "login_id_len", len(req.LoginID), "ip", req.IP)
		}
		e.recordLogin(path, strings.ToLower(string(code)))
		return nil, err
	}

	e.recordLogin(path, "success")
	e.audit.Record(ctx, audit.Enrich(ctx, audit.Event{
		Timestamp:  e.now().UTC(),
		Actor:      res.User.ID,
		Action:     audit.ActionLogin,
		TargetType: "user",
		TargetID:   res.User.ID,
		TenantID:   res.User.TenantID,
		Detail:     map[string]string{"path": path},
	}))
	return res, nil
}

func (e *Engine) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := e.Authenticate(ctx, req.LoginID, req.Password, req.IP)
	if err != nil {
		return nil, err
	}
	if req.Admin && !u.MemberOf(e.cfg.PrivilegedTenantID) {
		return nil, apperr.ErrNotPrivilegedTenant
	}

	tenantID := e.activeTenant(u, "")
	access, err := e.issueAccess(ctx, u, tenantID)
	if err != nil {
		return nil, err
	}
	refresh, err := e.issueRefresh(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.codec.AccessTTL().Seconds()),
		User: UserSummary{
			ID:       u.ID,
			LoginID:  u.LoginID,
			Name:     u.Name,
			TenantID: tenantID,
			Tenants:  u.TenantIDs(),
		},
	}, nil
}

// Unlock clears the lock of userID and resets its failure count. Callers
// outside the privileged tenant may only unlock users of their active
// tenant; other targets, existing or not, are reported as
// INSUFFICIENT_PERMISSIONS.
func (e *Engine) Unlock(ctx context.Context, caller authz.Principal, userID string) error {
	u, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			if caller.Privileged {
				return apperr.ErrUserNotFound
			}
			return apperr.ErrInsufficientPermissions
		}
		return apperr.Unavailable(err)
	}
	if !caller.Privileged && !u.MemberOf(caller.TenantID) {
		return apperr.ErrInsufficientPermissions
	}

	if _, err := e.users.UpdateUser(ctx, u.ID, user.UpdateUserInput{ClearLock: true}); err != nil {
		return apperr.Unavailable(err)
	}
	// A success marker restarts the consecutive-failure count.
	now := e.now().UTC()
	if err := e.appendAttempt(ctx, normalizeLoginID(u.LoginID), true, "", now); err != nil {
		return err
	}

	e.audit.Record(ctx, audit.Enrich(ctx, audit.Event{
		Timestamp:  now,
		Actor:      caller.UserID,
		Action:     audit.ActionUnlock,
		TargetType: "user",
		TargetID:   u.ID,
		TenantID:   caller.TenantID,
	}))
	return nil
}

func (e *Engine) recordLogin(path, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordLogin(path, outcome)
	}
}

func normalizeLoginID(s string) string {
	return user.NormalizeLoginID(s)
}
