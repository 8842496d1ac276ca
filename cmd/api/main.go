package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/guild-tickets/internal/api/http"
	"github.com/spec-kit/guild-tickets/internal/api/http/handlers"
	"github.com/spec-kit/guild-tickets/internal/app"
	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/config"
	"github.com/spec-kit/guild-tickets/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer container.Close()

	if err := container.ArchiveWorker.Start(ctx); err != nil {
		logger.Fatal("failed to start archive worker", zap.Error(err))
	}

	dependencies := map[string]handlers.Pinger{}
	if container.Postgres.PoolHandle() != nil {
		dependencies["postgres"] = container.Postgres
	}
	if container.Redis.Client != nil {
		dependencies["redis"] = container.Redis
	}

	server := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.App.RequestTimeout(),
	})
	httptransport.RegisterMiddlewares(server, logger, container.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(server, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies),
		Tickets:        handlers.NewTicketsHandler(container.Tickets, container.Archives),
		Categories:     handlers.NewCategoriesHandler(container.Categories),
		AuthMiddleware: auth.NewAuthMiddleware(container.Tokens, container.ServiceKey, container.Resolver),
		Metrics:        container.Metrics,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := server.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// Deliver notifications queued by the last requests.
	container.Dispatcher.Wait()
	container.ArchiveWorker.Stop()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
