package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/events"
)

// MessageSource delivers raw payloads published on a channel.
type MessageSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// ticketMessage is the envelope ticket producers publish.
type ticketMessage struct {
	ID        string           `json:"id"`
	Type      events.EventType `json:"type"`
	TicketID  string           `json:"ticket_id"`
	Actor     *events.Actor    `json:"actor"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// StartTicketEventBridge republishes ticket events from an external channel on
// the in-process dispatcher until ctx ends. Malformed messages are logged and
// skipped.
func StartTicketEventBridge(ctx context.Context, source MessageSource, channel string, dispatcher events.Dispatcher, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	messages, err := source.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	logger.Info("ticket event bridge started", zap.String("channel", channel))

	go func() {
		for raw := range messages {
			ev, err := decodeTicketEvent(raw, time.Now().UTC())
			if err != nil {
				logger.Warn("dropping ticket event", zap.Error(err))
				continue
			}
			if err := dispatcher.Publish(ctx, ev); err != nil {
				logger.Warn("ticket event handler failed",
					zap.String("ticket_id", ev.TicketID),
					zap.String("event_type", string(ev.Type)),
					zap.Error(err))
			}
		}
		logger.Info("ticket event bridge stopped", zap.String("channel", channel))
	}()
	return nil
}

func decodeTicketEvent(raw []byte, now time.Time) (events.Event, error) {
	var msg ticketMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return events.Event{}, fmt.Errorf("decode ticket event: %w", err)
	}
	if !isTicketEvent(msg.Type) {
		return events.Event{}, fmt.Errorf("unsupported event type %q", msg.Type)
	}
	if msg.TicketID == "" {
		return events.Event{}, fmt.Errorf("%s event without ticket_id", msg.Type)
	}

	actor := events.SystemActor()
	if msg.Actor != nil {
		actor = *msg.Actor
	}
	at := msg.Timestamp
	if at.IsZero() {
		at = now
	}
	ev := events.New(msg.Type, actor, at, msg.Payload)
	if msg.ID != "" {
		ev.ID = msg.ID
	}
	ev.TicketID = msg.TicketID
	return ev, nil
}

func isTicketEvent(t events.EventType) bool {
	for _, known := range events.TicketEventTypes {
		if t == known {
			return true
		}
	}
	return false
}
