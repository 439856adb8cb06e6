// Package app wires configuration into the running services shared by the
// server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/abuse-guard/internal/api"
	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/notify"
	"github.com/ignite/abuse-guard/internal/pkg/distlock"
	"github.com/ignite/abuse-guard/internal/pkg/logger"
	"github.com/ignite/abuse-guard/internal/pkg/tenantlock"
	"github.com/ignite/abuse-guard/internal/repository/memory"
	"github.com/ignite/abuse-guard/internal/repository/postgres"
	"github.com/ignite/abuse-guard/internal/service/abuse"
	"github.com/ignite/abuse-guard/internal/service/ratelimit"
	"github.com/ignite/abuse-guard/internal/storage"
	"github.com/ignite/abuse-guard/internal/worker"
)

// Store is everything the services need from a storage backend.
type Store interface {
	abuse.Repository
	ratelimit.BalanceSource
	worker.RetentionStore
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.AbuseRepo)(nil)
)

// App holds the wired dependencies. Fields that depend on optional
// infrastructure are nil when it is not configured: Redis and DB, and with
// them Limiter (which needs Redis).
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Redis   *redis.Client
	Store   Store
	Locks   distlock.Factory
	Service *abuse.Service
	Limiter *ratelimit.Limiter
	Archive storage.EventArchive
}

// ConfigureLogging applies the logging section to the default logger.
// PII redaction stays on unless explicitly disabled.
func ConfigureLogging(cfg config.LoggingConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	logger.SetRedactPII(cfg.RedactPII == nil || *cfg.RedactPII)
}

// New connects to the configured backends and builds the services. On error
// anything already opened is closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	switch cfg.Storage.Type {
	case "postgres":
		a.DB, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.Store = postgres.NewAbuseRepo(a.DB)
		logger.Info("storage: postgres")
	case "memory":
		a.Store = memory.New()
		logger.Warn("storage: in-memory, state is lost on restart")
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}

	if cfg.Redis.Enabled {
		a.Redis, err = openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
	}

	policy, err := abuse.NewPolicy(cfg.Abuse)
	if err != nil {
		return nil, err
	}
	table, err := ratelimit.NewTable(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	a.Locks = distlock.NewFactory(a.Redis, a.DB, cfg.Workers.LockTTL())
	levels := ratelimit.NewLevelCache(a.Redis, a.Store, table.LevelTTL())

	notifier, err := buildNotifier(ctx, cfg.Notifications)
	if err != nil {
		return nil, err
	}

	a.Service = abuse.NewService(a.Store, policy,
		abuse.WithLocker(tenantlock.New(tenantlock.WithDistributed(a.Locks))),
		abuse.WithNotifier(notifier),
		abuse.WithLevelPublisher(levels))

	if a.Redis != nil {
		a.Limiter = ratelimit.NewLimiter(table, ratelimit.NewRedisStore(a.Redis), levels, a.Store, nil)
	}

	a.Archive = storage.Discard{}
	if cfg.Archive.Enabled {
		a.Archive, err = storage.NewS3Archive(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("abuse policy loaded",
		"policy_version", policy.Version(),
		"ratelimit_version", table.Version(),
		"algorithm", string(table.Algorithm()),
		"on_store_error", string(table.OnStoreError()))
	return a, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected", "addr", opts.Addr)
	return client, nil
}

// buildNotifier returns the enabled channels, or Nop when none is.
func buildNotifier(ctx context.Context, cfg config.NotificationsConfig) (abuse.Notifier, error) {
	var channels notify.Multi
	if cfg.SES.Enabled {
		ses, err := notify.NewSESNotifier(ctx, cfg.SES, nil)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ses)
	}
	if cfg.Webhook.Enabled {
		if cfg.Webhook.URL == "" {
			return nil, errors.New("notifications.webhook.url is required when the webhook is enabled")
		}
		channels = append(channels, notify.NewWebhookNotifier(cfg.Webhook, nil))
	}

	switch len(channels) {
	case 0:
		return notify.Nop{}, nil
	case 1:
		return channels[0], nil
	default:
		return channels, nil
	}
}

// HealthChecker builds the health probes over whatever is connected.
func (a *App) HealthChecker() *api.HealthChecker {
	var (
		bucket    api.BucketHeader
		name      string
		staleness time.Duration
	)
	if s3a, ok := a.Archive.(*storage.S3Archive); ok {
		bucket, name = s3a, s3a.Bucket()
	}
	if a.DB != nil {
		// Two missed unlock passes count as a stalled worker.
		staleness = 2 * a.Service.Policy().CheckInterval()
	}
	return api.NewHealthChecker(a.DB, a.Redis, bucket, name, staleness)
}

// Workers builds the background sweeps.
func (a *App) Workers() (*worker.DecaySweeper, *worker.UnlockChecker, *worker.RetentionCleanup) {
	w := a.Config.Workers
	policy := a.Service.Policy()
	return worker.NewDecaySweeper(a.Service, a.Locks, w.DecayInterval(), w.SweepConcurrency),
		worker.NewUnlockChecker(a.Service, a.Locks, policy.CheckInterval(), w.SweepConcurrency),
		worker.NewRetentionCleanup(a.Store, a.Archive, policy.Retention(), a.Locks, w.RetentionInterval())
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("database close failed", "error", err)
		}
	}
}
