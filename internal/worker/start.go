package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/persistence"
)

// Notifier subscribes its handlers to the dispatcher.
type Notifier interface {
	RegisterHandlers()
}

// Dependencies bundles what the background workers need. Notifier and Source
// are optional.
type Dependencies struct {
	Dispatcher events.Dispatcher
	Linker     TicketLinker
	Notifier   Notifier
	Source     MessageSource
	Channel    string
	Logger     *zap.Logger
}

// Start wires the problem linker and notifications onto the dispatcher and,
// when a message source is configured, begins consuming external ticket events.
// A disabled source is logged, not returned.
func Start(ctx context.Context, deps Dependencies) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	StartProblemWorker(deps.Dispatcher, deps.Linker, logger)
	if deps.Notifier != nil {
		deps.Notifier.RegisterHandlers()
	}
	if deps.Source == nil {
		return nil
	}
	err := StartTicketEventBridge(ctx, deps.Source, deps.Channel, deps.Dispatcher, logger)
	if errors.Is(err, persistence.ErrNotConfigured) {
		logger.Warn("redis disabled; external ticket events are not consumed")
		return nil
	}
	return err
}
