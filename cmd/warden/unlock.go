package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <login-id>",
	Short: "Clear the lockout on an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlock,
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}

func runUnlock(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	loginID := strings.ToLower(strings.TrimSpace(args[0]))
	u, err := a.users.FindUserByLoginID(ctx, loginID)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", loginID, err)
	}
	if err := a.auth.Unlock(ctx, a.systemPrincipal(), u.ID); err != nil {
		return err
	}
	a.collector.Flush()

	slog.Info("account unlocked", "user_id", u.ID)
	fmt.Printf("unlocked %s (%s)\n", u.LoginID, u.ID)
	return nil
}
