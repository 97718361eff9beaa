package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
)

// TicketLinker re-evaluates a ticket's problem membership.
type TicketLinker interface {
	LinkTicketToProblem(ctx context.Context, ticketID string) (*domain.Problem, error)
}

// StartProblemWorker links tickets to problems whenever the ticket subsystem
// reports a creation, status change or triage update.
func StartProblemWorker(dispatcher events.Dispatcher, linker TicketLinker, logger *zap.Logger) {
	if dispatcher == nil || linker == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, event events.Event) error {
		if event.TicketID == "" {
			return nil
		}
		p, err := linker.LinkTicketToProblem(ctx, event.TicketID)
		if err != nil {
			return fmt.Errorf("link ticket %s after %s: %w", event.TicketID, event.Type, err)
		}
		if p != nil {
			logger.Debug("ticket linked to problem",
				zap.String("ticket_id", event.TicketID),
				zap.String("problem_id", p.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
	for _, t := range events.TicketEventTypes {
		dispatcher.Subscribe(t, handler)
	}
}
