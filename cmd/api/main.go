package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/problem-service/internal/api/http"
	"github.com/spec-kit/problem-service/internal/api/http/handlers"
	"github.com/spec-kit/problem-service/internal/auth"
	"github.com/spec-kit/problem-service/internal/bootstrap"
	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/observability"
	"github.com/spec-kit/problem-service/internal/service"
	"github.com/spec-kit/problem-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.NewEngine(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build problem engine", zap.Error(err))
	}
	defer engine.Close()

	err = worker.Start(ctx, worker.Dependencies{
		Dispatcher: engine.Dispatcher,
		Linker:     engine.Problems,
		Notifier:   service.NewNotificationService(engine.Dispatcher, logger, cfg.Notification),
		Source:     engine.Redis,
		Channel:    cfg.Redis.TicketEventsChannel,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("ticket event bridge unavailable", zap.Error(err))
	}

	tokens := auth.NewTokenManager(cfg.Auth)
	authMiddleware := auth.NewAuthMiddleware(tokens, engine.Store.Staff())

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, engine.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, engine.Postgres, engine.Redis),
		Problems:       handlers.NewProblemsHandler(engine.Problems, cfg.Problem),
		AuthMiddleware: authMiddleware,
		Metrics:        engine.Metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
