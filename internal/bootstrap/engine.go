// Package bootstrap wires the problem engine from configuration. Both the API
// server and problemctl build their runtime here.
package bootstrap

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/classifier"
	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/observability"
	"github.com/spec-kit/problem-service/internal/persistence"
	"github.com/spec-kit/problem-service/internal/repository"
	"github.com/spec-kit/problem-service/internal/service"
)

// ErrDatabaseRequired is returned when POSTGRES_DSN is missing.
var ErrDatabaseRequired = errors.New("POSTGRES_DSN is required")

// Engine holds the long-lived collaborators of the problem engine.
type Engine struct {
	Postgres   *persistence.Postgres
	Redis      *persistence.Redis
	Store      repository.Store
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Assignment *service.AssignmentService
	Problems   *service.ProblemService
}

// NewEngine connects to Postgres and Redis and builds the services.
func NewEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	if pg.Pool == nil {
		return nil, ErrDatabaseRequired
	}
	rdb := persistence.NewRedis(cfg.Redis, logger)

	metrics := observability.NewMetrics()
	store := repository.NewStore(pg.Pool)
	dispatcher := events.NewInMemoryDispatcher()

	assignment := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo: store.Tickets(),
		StaffRepo:  store.Staff(),
		Logger:     logger,
	})

	deps := service.ProblemDependencies{
		Store:      store,
		Classifier: classifier.New(cfg.AI, rdb, logger, metrics),
		Allocator:  assignment,
		Roster:     assignment,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
		Config:     cfg.Problem,
		AITimeout:  cfg.AI.Timeout(),
	}
	if rdb.Client != nil {
		deps.Locker = rdb
	}

	return &Engine{
		Postgres:   pg,
		Redis:      rdb,
		Store:      store,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Assignment: assignment,
		Problems:   service.NewProblemService(deps),
	}, nil
}

// Close releases connections.
func (e *Engine) Close() {
	e.Redis.Close()
	e.Postgres.Close()
}
