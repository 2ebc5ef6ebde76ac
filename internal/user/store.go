package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecgard/warden/internal/pgerr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store outcomes callers can branch on with errors.Is.
var (
	ErrNotFound  = pgerr.ErrNotFound
	ErrDuplicate = pgerr.ErrDuplicate
)

var classify = pgerr.Classify

// Store provides database operations for tenants, users, login attempts and
// refresh tokens.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new user store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, login_id, name, password_hash, is_active, locked_until, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.LoginID, &u.Name, &u.PasswordHash, &u.Active, &u.LockedUntil, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) loadMemberships(ctx context.Context, u *User) error {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, roles FROM user_tenants
		 WHERE user_id = $1 ORDER BY joined_at, tenant_id`, u.ID)
	if err != nil {
		return fmt.Errorf("loading memberships: %w", err)
	}
	defer rows.Close()

	u.Memberships = []TenantMembership{}
	for rows.Next() {
		var m TenantMembership
		if err := rows.Scan(&m.TenantID, &m.Roles); err != nil {
			return fmt.Errorf("scanning membership: %w", err)
		}
		if m.Roles == nil {
			m.Roles = []string{}
		}
		u.Memberships = append(u.Memberships, m)
	}
	return rows.Err()
}

func (s *Store) findUser(ctx context.Context, op, where string, arg any) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` = $1`, arg))
	if err != nil {
		return nil, classify(op, err)
	}
	if err := s.loadMemberships(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// NormalizeLoginID is the canonical form of a login id: trimmed and lower
// case. The users table enforces uniqueness on lower(login_id).
func NormalizeLoginID(loginID string) string {
	return strings.ToLower(strings.TrimSpace(loginID))
}

// FindUserByLoginID retrieves a user and their memberships by login id.
// Login ids are compared case-insensitively.
func (s *Store) FindUserByLoginID(ctx context.Context, loginID string) (*User, error) {
	return s.findUser(ctx, "finding user by login id", "lower(login_id)", NormalizeLoginID(loginID))
}

// FindUserByID retrieves a user and their memberships by primary key.
func (s *Store) FindUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, "finding user by id", "id", id)
}

// CreateUser inserts a provisioned user under its normalized login id. A
// login id collision, in any letter case, returns ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (id, login_id, name, password_hash, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userColumns,
		uuid.NewString(), NormalizeLoginID(in.LoginID), in.Name, in.PasswordHash, in.Active,
	))
	if err != nil {
		return nil, classify("creating user", err)
	}
	u.Memberships = []TenantMembership{}
	return u, nil
}

// UpdateUser performs a partial update on the user with the given id.
func (s *Store) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *in.Name)
		argIdx++
	}
	if in.PasswordHash != nil {
		setClauses = append(setClauses, fmt.Sprintf("password_hash = $%d", argIdx))
		args = append(args, *in.PasswordHash)
		argIdx++
	}
	if in.Active != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *in.Active)
		argIdx++
	}
	if in.ClearLock {
		setClauses = append(setClauses, "locked_until = NULL")
	} else if in.LockedUntil != nil {
		setClauses = append(setClauses, fmt.Sprintf("locked_until = $%d", argIdx))
		args = append(args, *in.LockedUntil)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.FindUserByID(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE users SET %s WHERE id = $%d RETURNING `+userColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	u, err := scanUser(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, classify("updating user", err)
	}
	if err := s.loadMemberships(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpsertTenant creates the tenant or renames an existing one.
func (s *Store) UpsertTenant(ctx context.Context, id, name string) (*Tenant, error) {
	t := &Tenant{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name, created_at`, id, name,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		return nil, classify("upserting tenant", err)
	}
	return t, nil
}

// AddMembership adds userID to tenantID with the given tenant-scoped role
// names, replacing the role set if the membership already exists.
func (s *Store) AddMembership(ctx context.Context, userID, tenantID string, roles []string) error {
	if roles == nil {
		roles = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_tenants (user_id, tenant_id, roles) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, tenant_id) DO UPDATE SET roles = EXCLUDED.roles`,
		userID, tenantID, roles,
	)
	if err != nil {
		return classify("adding membership", err)
	}
	return nil
}
