// Package app wires configuration, storage, the platform adapter and the
// services into one container shared by the API server and the admin CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/cache"
	"github.com/spec-kit/guild-tickets/internal/config"
	"github.com/spec-kit/guild-tickets/internal/discord"
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/observability"
	"github.com/spec-kit/guild-tickets/internal/persistence"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/internal/repository"
	"github.com/spec-kit/guild-tickets/internal/repository/memory"
	"github.com/spec-kit/guild-tickets/internal/service"
	"github.com/spec-kit/guild-tickets/internal/transcript"
	"github.com/spec-kit/guild-tickets/internal/worker"
)

// Container holds the wired components.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	Store    *repository.Store
	Cache    cache.Cache
	Platform platform.Client

	Dispatcher    events.Dispatcher
	Categories    *service.CategoryService
	Tickets       *service.TicketService
	Archives      *service.ArchiveService
	Notifications *service.NotificationService
	ArchiveWorker *worker.ArchiveWorker

	Tokens     *auth.TokenManager
	ServiceKey *auth.ServiceKeyVerifier
	Resolver   auth.ActorResolver
}

// Options adjust what Build connects.
type Options struct {
	// SkipMigrations leaves the schema untouched even if configured to migrate.
	SkipMigrations bool
	// Platform replaces the Discord adapter.
	Platform platform.Client
}

// Build connects storage and constructs every service. Callers must Close the container.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c.Postgres = pg
	if cfg.Postgres.RunMigrations && !opts.SkipMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	if pool := pg.PoolHandle(); pool != nil {
		c.Store = repository.NewPostgresStore(pool)
	} else {
		c.Store = memory.New().Repositories()
	}

	c.Redis = persistence.NewRedis(cfg.Redis, logger)
	if c.Redis.Client != nil {
		c.Cache = cache.NewRedisCache(c.Redis.Client, cfg.Redis.KeyPrefix)
	} else {
		c.Cache = cache.NewMemoryCache()
	}

	c.Platform = opts.Platform
	if c.Platform == nil {
		if cfg.Discord.Token == "" {
			logger.Warn("DISCORD_TOKEN not provided; platform calls will be rejected")
		}
		c.Platform = discord.NewClient(cfg.Discord, logger.Named("discord"))
	}

	renderer, err := transcript.NewRenderer()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load transcript template: %w", err)
	}

	c.Dispatcher = events.NewInMemoryDispatcher(logger.Named("events"))
	c.Categories = service.NewCategoryService(service.CategoryDependencies{
		CategoryRepo: c.Store.Categories,
		TicketRepo:   c.Store.Tickets,
		Logger:       logger.Named("categories"),
	})
	c.Tickets = service.NewTicketService(service.TicketDependencies{
		TicketRepo: c.Store.Tickets,
		Categories: c.Categories,
		Counters: service.NewCounterService(service.CounterDependencies{
			TicketRepo: c.Store.Tickets,
			Cache:      c.Cache,
			TTL:        cfg.Tickets.CounterCacheTTL(),
			Logger:     logger.Named("counters"),
		}),
		Cooldowns:  service.NewCooldownGuard(c.Cache, logger.Named("cooldowns")),
		Channels:   c.Platform,
		Dispatcher: c.Dispatcher,
		Metrics:    c.Metrics,
		Logger:     logger.Named("tickets"),
	})
	c.Archives = service.NewArchiveService(service.ArchiveDependencies{
		TicketRepo:    c.Store.Tickets,
		ArchiveRepo:   c.Store.Archives,
		History:       c.Platform,
		Channels:      c.Platform,
		Renderer:      renderer,
		Metrics:       c.Metrics,
		Logger:        logger.Named("archive"),
		PageSize:      cfg.Tickets.ArchivePageSize,
		DeleteChannel: cfg.Tickets.DeleteChannelAfterArchive,
	})
	c.Notifications = service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: c.Dispatcher,
		Categories: c.Categories,
		Messenger:  c.Platform,
		Logger:     logger.Named("notifications"),
	})
	c.ArchiveWorker = worker.NewArchiveWorker(worker.ArchiveWorkerDependencies{
		Runner:  c.Archives,
		Cache:   c.Cache,
		Metrics: c.Metrics,
		Logger:  logger.Named("archive-worker"),
		Config: worker.ArchiveWorkerConfig{
			Workers:       cfg.Tickets.ArchiveWorkers,
			QueueSize:     cfg.Tickets.ArchiveQueueSize,
			MaxAttempts:   cfg.Tickets.ArchiveMaxAttempts,
			SweepSchedule: cfg.Tickets.ArchiveSweepSchedule,
			StaleAfter:    cfg.Tickets.ArchiveStaleAfter(),
		},
	})
	worker.RegisterSubscribers(c.Dispatcher, c.Notifications, c.ArchiveWorker)

	c.Tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	c.ServiceKey = auth.NewServiceKeyVerifier(cfg.Auth.ServiceKeyHash)
	c.Resolver = auth.NewMemberResolver(c.Platform)
	return c, nil
}

// Close releases connections.
func (c *Container) Close() {
	c.Redis.Close()
	c.Postgres.Close()
}
