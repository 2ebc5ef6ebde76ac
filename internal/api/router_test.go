package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/audit"
	"github.com/alecgard/warden/internal/auth"
	"github.com/alecgard/warden/internal/authz"
	"github.com/alecgard/warden/internal/metrics"
	"github.com/alecgard/warden/internal/password"
	"github.com/alecgard/warden/internal/role"
	"github.com/alecgard/warden/internal/token"
	"github.com/alecgard/warden/internal/user"
	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword     = "Correct1!"
	privilegedTenant = "tenant-privileged"
)

// --- fakes ---

type memUsers struct {
	mu       sync.Mutex
	users    map[string]*user.User
	attempts []user.LoginAttempt
}

func (m *memUsers) find(match func(*user.User) bool) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (m *memUsers) FindUserByLoginID(_ context.Context, loginID string) (*user.User, error) {
	return m.find(func(u *user.User) bool { return u.LoginID == loginID })
}

func (m *memUsers) FindUserByID(_ context.Context, id string) (*user.User, error) {
	return m.find(func(u *user.User) bool { return u.ID == id })
}

func (m *memUsers) UpdateUser(_ context.Context, id string, in user.UpdateUserInput) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	if in.LockedUntil != nil {
		t := *in.LockedUntil
		u.LockedUntil = &t
	}
	if in.ClearLock {
		u.LockedUntil = nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) AppendLoginAttempt(_ context.Context, a user.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memUsers) ListRecentLoginAttempts(_ context.Context, loginID string, since time.Time) ([]user.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []user.LoginAttempt
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if a := m.attempts[i]; a.LoginID == loginID && !a.AttemptedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

type memRefresh struct {
	mu      sync.Mutex
	records map[string]*user.RefreshToken
}

func (m *memRefresh) CreateRefreshToken(_ context.Context, jti, userID string, exp time.Time) (*user.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &user.RefreshToken{TokenHash: user.HashToken(jti), UserID: userID, CreatedAt: time.Now(), ExpiresAt: exp}
	m.records[rec.TokenHash] = rec
	return rec, nil
}

func (m *memRefresh) GetRefreshToken(_ context.Context, jti string) (*user.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[user.HashToken(jti)]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRefresh) RevokeRefreshToken(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[user.HashToken(jti)]; ok && rec.RevokedAt == nil {
		now := time.Now()
		rec.RevokedAt = &now
	}
	return nil
}

func (m *memRefresh) RevokeAllRefreshTokens(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.records {
		if rec.UserID == userID && rec.RevokedAt == nil {
			now := time.Now()
			rec.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

// fakeRoles serves role listings, the role service and the guard's
// permission lookups.
type fakeRoles struct {
	perms       map[string][]string
	assignments []role.Assignment
	created     bool
	removeErr   error
}

func (f *fakeRoles) ListAssignments(_ context.Context, userID string) ([]role.Assignment, error) {
	var out []role.Assignment
	for _, a := range f.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRoles) Permissions(_ context.Context, userID, _ string) ([]string, error) {
	return f.perms[userID], nil
}

func (f *fakeRoles) GetAvailableRoles(_ context.Context, serviceID string) ([]role.Role, error) {
	return []role.Role{{ServiceID: "auth-service", RoleName: "viewer", Permissions: []string{"roles.read"}}}, nil
}

func (f *fakeRoles) GetUserRoles(ctx context.Context, caller authz.Principal, userID string) ([]role.Assignment, error) {
	if err := authz.CanAccessTenant(caller, "tenant-a"); err != nil {
		return nil, err
	}
	return f.ListAssignments(ctx, userID)
}

func (f *fakeRoles) AssignRole(_ context.Context, caller authz.Principal, in role.AssignInput) (*role.Assignment, error) {
	if in.RoleName == "ghost" {
		return nil, apperr.ErrInvalidRole
	}
	return &role.Assignment{ID: "ra-new", UserID: in.UserID, ServiceID: in.ServiceID, RoleName: in.RoleName, TenantID: caller.TenantID}, nil
}

func (f *fakeRoles) CreateIfNotExists(ctx context.Context, caller authz.Principal, in role.AssignInput) (*role.Assignment, bool, error) {
	a, err := f.AssignRole(ctx, caller, in)
	return a, f.created, err
}

func (f *fakeRoles) RemoveRole(context.Context, authz.Principal, string) error {
	return f.removeErr
}

type fakeAuditLog struct {
	lastQuery audit.Query
}

func (f *fakeAuditLog) List(_ context.Context, q audit.Query) ([]audit.Event, string, error) {
	f.lastQuery = q
	if q.Cursor == "bogus" {
		return nil, "", errors.New("listing: " + audit.ErrInvalidCursor.Error())
	}
	if q.Cursor == "stale" {
		return nil, "", errors.Join(audit.ErrInvalidCursor, errors.New("bad timestamp"))
	}
	return []audit.Event{{ID: "ev1", Action: audit.ActionLogin, Actor: "u1"}}, "next-page", nil
}

// --- fixture ---

type server struct {
	handler http.Handler
	users   *memUsers
	roles   *fakeRoles
	audit   *fakeAuditLog
	metrics *metrics.Metrics
}

func newServer(t *testing.T) *server {
	t.Helper()
	bc, err := password.NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt() error: %v", err)
	}
	hash, err := bc.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	codec, err := token.New(token.Config{
		Issuer:     "warden",
		Audience:   "warden-clients",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Method:     token.MethodHS256,
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("token.New() error: %v", err)
	}

	s := &server{
		users: &memUsers{users: map[string]*user.User{
			"u1": {ID: "u1", LoginID: "alice@x.com", PasswordHash: hash, Active: true,
				Memberships: []user.TenantMembership{{TenantID: "tenant-a"}, {TenantID: "tenant-c"}}},
			"u2": {ID: "u2", LoginID: "bob@x.com", PasswordHash: hash, Active: true,
				Memberships: []user.TenantMembership{{TenantID: "tenant-b"}}},
			"root": {ID: "root", LoginID: "root@x.com", PasswordHash: hash, Active: true,
				Memberships: []user.TenantMembership{{TenantID: privilegedTenant}}},
		}},
		roles: &fakeRoles{perms: map[string][]string{
			"u1":   {"roles.read"},
			"root": {"roles.*", "users.unlock", "audit.read"},
		}},
		audit:   &fakeAuditLog{},
		metrics: metrics.New(),
	}

	engine := auth.NewEngine(auth.Config{PrivilegedTenantID: privilegedTenant}, auth.Deps{
		Users:  s.users,
		Tokens: &memRefresh{records: map[string]*user.RefreshToken{}},
		Roles:  s.roles,
		Hasher: bc,
		Codec:  codec,
	})
	engine.SetMetrics(s.metrics)
	guard := authz.NewGuard(s.roles, authz.WithPrivilegedTenant(privilegedTenant))

	s.handler = NewRouter(RouterDeps{
		Auth:     engine,
		Roles:    s.roles,
		Guard:    guard,
		AuditLog: s.audit,
		Codec:    codec,
		Metrics:  s.metrics,
	})
	return s
}

func (s *server) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) login(t *testing.T, loginID string) auth.LoginResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{LoginID: loginID, Password: testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", loginID, rec.Code, rec.Body.String())
	}
	var res auth.LoginResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decoding login result: %v", err)
	}
	return res
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope apperr.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding error envelope: %v (body %q)", err, rec.Body.String())
	}
	return envelope.Error.Code
}

// --- tests ---

func TestLoginAndVerify(t *testing.T) {
	s := newServer(t)
	res := s.login(t, "alice@x.com")

	if res.TokenType != "Bearer" || res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("unexpected login result %+v", res)
	}
	if res.User.ID != "u1" || res.User.TenantID != "tenant-a" {
		t.Errorf("unexpected user summary %+v", res.User)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/auth/verify", res.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", rec.Code)
	}
	var v verifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding verify: %v", err)
	}
	if !v.Valid || v.UserID != "u1" || v.Privileged || v.ExpiresAt == 0 {
		t.Errorf("unexpected verify response %+v", v)
	}
}

func TestLoginFailures(t *testing.T) {
	s := newServer(t)
	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"wrong password", "/api/v1/auth/login", loginRequest{LoginID: "alice@x.com", Password: "nope"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"unknown user", "/api/v1/auth/login", loginRequest{LoginID: "ghost@x.com", Password: testPassword}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"missing body", "/api/v1/auth/login", nil, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"admin path without privileged membership", "/api/v1/admin/auth/login", loginRequest{LoginID: "alice@x.com", Password: testPassword}, http.StatusForbidden, "NOT_PRIVILEGED_TENANT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, "", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, code)
			}
		})
	}
}

func TestAdminLogin(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/admin/auth/login", "", loginRequest{LoginID: "root@x.com", Password: testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshAndLogout(t *testing.T) {
	s := newServer(t)
	res := s.login(t, "alice@x.com")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": res.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ar auth.AccessResult
	if err := json.NewDecoder(rec.Body).Decode(&ar); err != nil {
		t.Fatalf("decoding refresh: %v", err)
	}
	if ar.AccessToken == "" || ar.TenantID != "tenant-a" {
		t.Errorf("unexpected refresh result %+v", ar)
	}

	// The refresh token must belong to the bearer.
	other := s.login(t, "bob@x.com")
	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", other.AccessToken, map[string]string{"refresh_token": res.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("foreign logout: expected 401, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", res.AccessToken, map[string]string{"refresh_token": res.RefreshToken})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("logout %d: expected 204, got %d", i+1, rec.Code)
		}
	}

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": res.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "INVALID_TOKEN" {
		t.Errorf("expected INVALID_TOKEN, got %s", code)
	}
}

func TestSwitchTenant(t *testing.T) {
	s := newServer(t)
	res := s.login(t, "alice@x.com")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/switch-tenant", res.AccessToken, map[string]string{"tenant_id": "tenant-c"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ar auth.AccessResult
	if err := json.NewDecoder(rec.Body).Decode(&ar); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if ar.TenantID != "tenant-c" {
		t.Errorf("expected tenant-c, got %s", ar.TenantID)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/auth/switch-tenant", res.AccessToken, map[string]string{"tenant_id": "tenant-b"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-member switch: expected 403, got %d", rec.Code)
	}
}

func TestBearerRequired(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{"/api/v1/auth/verify", "/api/v1/roles", "/api/v1/admin/audit-events"} {
		rec := s.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("%s: expected WWW-Authenticate header", path)
		}
	}
}

func TestRoleRoutes(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, "alice@x.com").AccessToken
	bob := s.login(t, "bob@x.com").AccessToken
	root := s.login(t, "root@x.com").AccessToken

	assign := map[string]string{"service_id": "auth-service", "role_name": "viewer"}
	tests := []struct {
		name       string
		method     string
		path       string
		bearer     string
		body       any
		wantStatus int
	}{
		{"list roles", http.MethodGet, "/api/v1/roles", alice, nil, http.StatusOK},
		{"list roles without permission", http.MethodGet, "/api/v1/roles", bob, nil, http.StatusForbidden},
		{"user roles", http.MethodGet, "/api/v1/users/u1/roles", alice, nil, http.StatusOK},
		{"assign without permission", http.MethodPost, "/api/v1/users/u1/roles", alice, assign, http.StatusForbidden},
		{"assign", http.MethodPost, "/api/v1/users/u1/roles", root, assign, http.StatusCreated},
		{"assign invalid role", http.MethodPost, "/api/v1/users/u1/roles", root, map[string]string{"service_id": "auth-service", "role_name": "ghost"}, http.StatusUnprocessableEntity},
		{"ensure existing", http.MethodPut, "/api/v1/users/u1/roles", root, assign, http.StatusOK},
		{"remove", http.MethodDelete, "/api/v1/role-assignments/ra-1", root, nil, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.bearer, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	s.roles.created = true
	if rec := s.do(t, http.MethodPut, "/api/v1/users/u1/roles", root, assign); rec.Code != http.StatusCreated {
		t.Errorf("ensure new: expected 201, got %d", rec.Code)
	}
	s.roles.removeErr = apperr.ErrAssignmentNotFound
	rec := s.do(t, http.MethodDelete, "/api/v1/role-assignments/ra-x", root, nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "ASSIGNMENT_NOT_FOUND" {
		t.Errorf("remove missing: expected 404 ASSIGNMENT_NOT_FOUND, got %d", rec.Code)
	}
}

func TestUnlockRoute(t *testing.T) {
	s := newServer(t)
	alice := s.login(t, "alice@x.com").AccessToken
	root := s.login(t, "root@x.com").AccessToken

	until := time.Now().Add(time.Hour)
	s.users.users["u2"].LockedUntil = &until

	rec := s.do(t, http.MethodPost, "/api/v1/admin/users/u2/unlock", alice, nil)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "NOT_PRIVILEGED_TENANT" {
		t.Fatalf("non-privileged unlock: expected 403 NOT_PRIVILEGED_TENANT, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/admin/users/u2/unlock", root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unlock: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.users.users["u2"].LockedUntil != nil {
		t.Error("expected lock to be cleared")
	}

	rec = s.do(t, http.MethodPost, "/api/v1/admin/users/nobody/unlock", root, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", rec.Code)
	}
}

func TestAuditEventsRoute(t *testing.T) {
	s := newServer(t)
	root := s.login(t, "root@x.com").AccessToken

	rec := s.do(t, http.MethodGet, "/api/v1/admin/audit-events?action=auth.login&limit=10", root, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Events     []audit.Event `json:"events"`
		NextCursor string        `json:"next_cursor"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Events) != 1 || body.NextCursor != "next-page" {
		t.Errorf("unexpected page %+v", body)
	}
	if s.audit.lastQuery.Action != "auth.login" || s.audit.lastQuery.Limit != 10 {
		t.Errorf("unexpected query %+v", s.audit.lastQuery)
	}

	for _, q := range []string{"limit=0", "limit=500", "limit=x", "cursor=stale"} {
		rec := s.do(t, http.MethodGet, "/api/v1/admin/audit-events?"+q, root, nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", q, rec.Code)
		}
	}

	rec = s.do(t, http.MethodGet, "/api/v1/admin/audit-events?cursor=bogus", root, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("store failure: expected 503, got %d", rec.Code)
	}
}

func TestMetricsRoutes(t *testing.T) {
	s := newServer(t)
	s.login(t, "alice@x.com")
	s.do(t, http.MethodGet, "/api/v1/users/u1/roles", "", nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`path_pattern="/api/v1/auth/login"`,
		`path_pattern="/api/v1/users/{id}/roles"`,
		`warden_login_attempts_total{outcome="success",path="user"} 1`,
		`warden_tokens_issued_total{type="refresh"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %s", want)
		}
	}

	rec = s.do(t, http.MethodGet, "/metrics/summary", "", nil)
	var summary metrics.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.Logins.Successes != 1 {
		t.Errorf("expected 1 successful login, got %v", summary.Logins.Successes)
	}
}

func TestJWKSRoute(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(rec.Body).Decode(&set); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(set.Keys) != 0 {
		t.Errorf("expected no public keys for an HMAC codec, got %d", len(set.Keys))
	}
}
