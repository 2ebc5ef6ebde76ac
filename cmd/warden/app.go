package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecgard/warden/internal/audit"
	"github.com/alecgard/warden/internal/auth"
	"github.com/alecgard/warden/internal/authz"
	"github.com/alecgard/warden/internal/config"
	"github.com/alecgard/warden/internal/lockout"
	"github.com/alecgard/warden/internal/metrics"
	"github.com/alecgard/warden/internal/password"
	"github.com/alecgard/warden/internal/role"
	"github.com/alecgard/warden/internal/token"
	"github.com/alecgard/warden/internal/user"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// app is the wired object graph shared by the serve, seed and unlock
// commands.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	redis     *redis.Client
	users     *user.Store
	roleStore *role.Store
	auditLog  *audit.Store
	collector *audit.Collector
	hasher    *password.Bcrypt
	codec     *token.Codec
	guard     *authz.Guard
	roles     *role.Engine
	auth      *auth.Engine
	metrics   *metrics.Metrics
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	slog.Info("connected to database")

	a := &app{
		cfg:       cfg,
		pool:      pool,
		users:     user.NewStore(pool),
		roleStore: role.NewStore(pool),
		auditLog:  audit.NewStore(pool),
		metrics:   metrics.New(),
	}
	a.metrics.RegisterDBPoolCollector(func() metrics.DBPoolStat {
		s := pool.Stat()
		return metrics.DBPoolStat{
			Total:             s.TotalConns(),
			Idle:              s.IdleConns(),
			Acquired:          s.AcquiredConns(),
			Max:               s.MaxConns(),
			EmptyAcquireCount: s.EmptyAcquireCount(),
		}
	})

	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	hasher, err := password.NewBcrypt(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	a.hasher = hasher

	private, public, err := cfg.Token.SigningKeys()
	if err != nil {
		return err
	}
	a.codec, err = token.New(token.Config{
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Method:     token.Method(cfg.Token.SigningMethod),
		Secret:     []byte(cfg.Token.Secret),
		PrivateKey: private,
		PublicKey:  public,
		KeyID:      cfg.Token.KeyID,
		Leeway:     cfg.Token.Leeway,
	})
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	cache, err := a.permissionCache(ctx)
	if err != nil {
		return err
	}

	a.collector = audit.NewCollector(a.auditLog, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	a.collector.SetMetrics(a.metrics)
	recorder := audit.Multi{audit.NewSlogRecorder(slog.Default()), a.collector}

	a.roles = role.NewEngine(a.roleStore, a.users, recorder, nil)
	a.roles.SetMetrics(a.metrics)

	a.guard = authz.NewGuard(a.roles,
		authz.WithCache(cache),
		authz.WithAdminRoles(cfg.Auth.AdminRoles...),
		authz.WithPrivilegedTenant(cfg.Auth.PrivilegedTenantID),
	)
	a.guard.SetMetrics(a.metrics)
	a.roles.SetInvalidator(a.guard)

	a.auth = auth.NewEngine(auth.Config{
		PrivilegedTenantID: cfg.Auth.PrivilegedTenantID,
		MinDuration:        cfg.Auth.MinDuration,
		MaxEmbeddedRoles:   cfg.Token.MaxEmbeddedRoles,
		Lockout: lockout.Policy{
			MaxAttempts: cfg.Auth.Lockout.MaxAttempts,
			Window:      cfg.Auth.Lockout.Window,
			Duration:    cfg.Auth.Lockout.Duration,
		},
	}, auth.Deps{
		Users:  a.users,
		Tokens: a.users,
		Roles:  a.roles,
		Hasher: hasher,
		Codec:  a.codec,
		Audit:  recorder,
	})
	a.auth.SetMetrics(a.metrics)
	return nil
}

// permissionCache builds the configured cache backend.
func (a *app) permissionCache(ctx context.Context) (authz.Cache, error) {
	cfg := a.cfg
	switch cfg.PermissionCache.Backend {
	case "none":
		return authz.NoopCache{}, nil
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("pinging redis: %w", err)
		}
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
		return authz.NewRedisCache(a.redis, cfg.Redis.KeyPrefix, cfg.PermissionCache.TTL), nil
	default:
		return authz.NewMemoryCache(cfg.PermissionCache.TTL), nil
	}
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("closing redis", "error", err)
		}
	}
	a.pool.Close()
}

// systemPrincipal acts with privileged scope on behalf of the CLI.
func (a *app) systemPrincipal() authz.Principal {
	return authz.Principal{
		UserID:     "system",
		TenantID:   a.cfg.Auth.PrivilegedTenantID,
		Tenants:    []string{a.cfg.Auth.PrivilegedTenantID},
		Privileged: true,
	}
}
