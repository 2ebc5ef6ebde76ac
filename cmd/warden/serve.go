package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/warden/internal/api"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Warden HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	go a.collector.Start(ctx)
	go runMaintenance(ctx, a.users, cfg.Maintenance.PurgeInterval, cfg.Maintenance.LoginAttemptRetention)

	router := api.NewRouter(api.RouterDeps{
		Auth:           a.auth,
		Roles:          a.roles,
		Guard:          a.guard,
		AuditLog:       a.auditLog,
		Codec:          a.codec,
		DB:             a.pool,
		Metrics:        a.metrics,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server error", "error", err)
		a.collector.Stop()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Drain in-flight requests before the final audit flush.
	err = srv.Shutdown(shutdownCtx)
	a.collector.Stop()
	return err
}

// purger is the storage surface of the maintenance loop.
type purger interface {
	CleanExpiredRefreshTokens(ctx context.Context) (int64, error)
	PurgeLoginAttempts(ctx context.Context, before time.Time) (int64, error)
}

// runMaintenance removes expired refresh tokens and login attempts older
// than retention every interval until ctx is cancelled.
func runMaintenance(ctx context.Context, store purger, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, store, retention, time.Now())
		}
	}
}

func purgeOnce(ctx context.Context, store purger, retention time.Duration, now time.Time) {
	tokens, err := store.CleanExpiredRefreshTokens(ctx)
	if err != nil {
		slog.Error("purging refresh tokens", "error", err)
	}
	attempts, err := store.PurgeLoginAttempts(ctx, now.Add(-retention))
	if err != nil {
		slog.Error("purging login attempts", "error", err)
	}
	if tokens > 0 || attempts > 0 {
		slog.Info("maintenance purge", "refresh_tokens", tokens, "login_attempts", attempts)
	}
}
