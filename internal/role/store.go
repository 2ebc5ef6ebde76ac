package role

import (
	"context"
	"fmt"

	"github.com/alecgard/warden/internal/pgerr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the role catalog and role
// assignments. Uniqueness of (user, service, role) is enforced by the
// role_assignments unique index and surfaces as pgerr.ErrDuplicate.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new role store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const assignmentColumns = `id, user_id, service_id, role_name, tenant_id, assigned_at, assigned_by`

func scanAssignment(row pgx.Row) (*Assignment, error) {
	a := &Assignment{}
	if err := row.Scan(&a.ID, &a.UserID, &a.ServiceID, &a.RoleName, &a.TenantID, &a.AssignedAt, &a.AssignedBy); err != nil {
		return nil, err
	}
	return a, nil
}

// FindRoleAssignment returns the assignment of (serviceID, roleName) to
// userID.
func (s *Store) FindRoleAssignment(ctx context.Context, userID, serviceID, roleName string) (*Assignment, error) {
	a, err := scanAssignment(s.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments
		 WHERE user_id = $1 AND service_id = $2 AND role_name = $3`,
		userID, serviceID, roleName,
	))
	if err != nil {
		return nil, pgerr.Classify("finding role assignment", err)
	}
	return a, nil
}

// GetRoleAssignment returns the assignment with the given id.
func (s *Store) GetRoleAssignment(ctx context.Context, id string) (*Assignment, error) {
	a, err := scanAssignment(s.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE id = $1`, id))
	if err != nil {
		return nil, pgerr.Classify("getting role assignment", err)
	}
	return a, nil
}

// ListRoleAssignments returns every assignment of userID across tenants,
// most recent first.
func (s *Store) ListRoleAssignments(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments
		 WHERE user_id = $1 ORDER BY assigned_at DESC, id ASC`, userID)
	if err != nil {
		return nil, pgerr.Classify("listing role assignments", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role assignment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CreateRoleAssignment inserts a. A conflicting (user, service, role) row
// returns pgerr.ErrDuplicate.
func (s *Store) CreateRoleAssignment(ctx context.Context, a Assignment) (*Assignment, error) {
	created, err := scanAssignment(s.pool.QueryRow(ctx,
		`INSERT INTO role_assignments (id, user_id, service_id, role_name, tenant_id, assigned_at, assigned_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+assignmentColumns,
		a.ID, a.UserID, a.ServiceID, a.RoleName, a.TenantID, a.AssignedAt, a.AssignedBy,
	))
	if err != nil {
		return nil, pgerr.Classify("creating role assignment", err)
	}
	return created, nil
}

// DeleteRoleAssignment removes the assignment with the given id. A missing
// row returns pgerr.ErrNotFound.
func (s *Store) DeleteRoleAssignment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_assignments WHERE id = $1`, id)
	if err != nil {
		return pgerr.Classify("deleting role assignment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting role assignment: %w", pgerr.ErrNotFound)
	}
	return nil
}

// ListRoleCatalog returns the catalog, restricted to serviceID when it is
// non-empty.
func (s *Store) ListRoleCatalog(ctx context.Context, serviceID string) ([]Role, error) {
	query := `SELECT service_id, role_name, label, permissions FROM roles`
	var args []any
	if serviceID != "" {
		query += ` WHERE service_id = $1`
		args = append(args, serviceID)
	}
	query += ` ORDER BY service_id, role_name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgerr.Classify("listing role catalog", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ServiceID, &r.RoleName, &r.Label, &r.Permissions); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		if r.Permissions == nil {
			r.Permissions = []string{}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRole creates or updates a catalog entry.
func (s *Store) UpsertRole(ctx context.Context, r Role) error {
	if r.Permissions == nil {
		r.Permissions = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO roles (service_id, role_name, label, permissions)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (service_id, role_name)
		 DO UPDATE SET label = EXCLUDED.label, permissions = EXCLUDED.permissions`,
		r.ServiceID, r.RoleName, r.Label, r.Permissions,
	)
	if err != nil {
		return pgerr.Classify("upserting role", err)
	}
	return nil
}
