package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecgard/warden/internal/apperr"
	"github.com/alecgard/warden/internal/password"
	"github.com/alecgard/warden/internal/role"
	"github.com/alecgard/warden/internal/user"
	"github.com/spf13/cobra"
)

const authServiceID = "auth-service"

var (
	seedAdminLogin    string
	seedAdminName     string
	seedAdminPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the privileged tenant, role catalog and an administrator",
	Long:  "Seed creates the privileged tenant, the auth-service role catalog and an administrator holding the admin role. Running it again leaves existing rows in place.",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedAdminLogin, "admin-login", "admin@warden.local", "administrator login id")
	seedCmd.Flags().StringVar(&seedAdminName, "admin-name", "Warden Administrator", "administrator display name")
	seedCmd.Flags().StringVar(&seedAdminPassword, "admin-password", "", "administrator password (default: $WARDEN_ADMIN_PASSWORD)")
	rootCmd.AddCommand(seedCmd)
}

// authServiceRoles is the catalog the service needs to administer itself.
var authServiceRoles = []role.Role{
	{ServiceID: authServiceID, RoleName: "admin", Label: "Administrator", Permissions: []string{"*"}},
	{ServiceID: authServiceID, RoleName: "role_manager", Label: "Role manager", Permissions: []string{"roles.read", "roles.assign"}},
	{ServiceID: authServiceID, RoleName: "support", Label: "Support", Permissions: []string{"roles.read", "users.unlock"}},
	{ServiceID: authServiceID, RoleName: "auditor", Label: "Auditor", Permissions: []string{"roles.read", "audit.read"}},
	{ServiceID: authServiceID, RoleName: "viewer", Label: "Viewer", Permissions: []string{"roles.read"}},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pw := seedAdminPassword
	if pw == "" {
		pw = os.Getenv("WARDEN_ADMIN_PASSWORD")
	}
	if pw == "" {
		return errors.New("an administrator password is required (--admin-password or WARDEN_ADMIN_PASSWORD)")
	}
	if err := checkPassword(cfg.Auth.PasswordPolicy, pw); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	tenantID := cfg.Auth.PrivilegedTenantID
	if _, err := a.users.UpsertTenant(ctx, tenantID, "Privileged"); err != nil {
		return err
	}
	slog.Info("privileged tenant ready", "tenant_id", tenantID)

	for _, r := range authServiceRoles {
		if err := a.roleStore.UpsertRole(ctx, r); err != nil {
			return fmt.Errorf("seeding role %s: %w", r.RoleName, err)
		}
	}
	slog.Info("role catalog ready", "service_id", authServiceID, "roles", len(authServiceRoles))

	admin, created, err := ensureUser(ctx, a, strings.ToLower(strings.TrimSpace(seedAdminLogin)), seedAdminName, pw)
	if err != nil {
		return err
	}
	if err := a.users.AddMembership(ctx, admin.ID, tenantID, []string{"admin"}); err != nil {
		return err
	}

	assignment, assigned, err := a.roles.CreateIfNotExists(ctx, a.systemPrincipal(), role.AssignInput{
		UserID:    admin.ID,
		ServiceID: authServiceID,
		RoleName:  "admin",
		TenantID:  tenantID,
	})
	if err != nil {
		return fmt.Errorf("assigning admin role: %w", err)
	}
	a.collector.Flush()

	fmt.Printf("\n=== Warden Seeded ===\n")
	fmt.Printf("Tenant:      %s\n", tenantID)
	fmt.Printf("Roles:       %d in %s\n", len(authServiceRoles), authServiceID)
	fmt.Printf("Admin:       %s (%s, created=%t)\n", admin.LoginID, admin.ID, created)
	fmt.Printf("Assignment:  %s (created=%t)\n", assignment.ID, assigned)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST -d '{\"login_id\":\"%s\",\"password\":\"...\"}' http://%s/api/v1/admin/auth/login\n", admin.LoginID, cfg.Addr())
	return nil
}

// checkPassword rejects passwords that violate pol.
func checkPassword(pol password.Policy, pw string) error {
	if problems := pol.Validate(pw); len(problems) > 0 {
		return apperr.New(apperr.CodeWeakPassword, "password "+strings.Join(problems, ", "))
	}
	return nil
}

// ensureUser creates the user or returns the existing one with the same
// login id. An existing user's password is left untouched.
func ensureUser(ctx context.Context, a *app, loginID, name, pw string) (*user.User, bool, error) {
	hash, err := a.hasher.Hash(pw)
	if err != nil {
		return nil, false, err
	}
	u, err := a.users.CreateUser(ctx, user.CreateUserInput{
		LoginID:      loginID,
		Name:         name,
		PasswordHash: hash,
		Active:       true,
	})
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, user.ErrDuplicate) {
		return nil, false, err
	}
	u, err = a.users.FindUserByLoginID(ctx, loginID)
	if err != nil {
		return nil, false, err
	}
	return u, false, nil
}
