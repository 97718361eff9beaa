package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/events"
)

type notifyChannel uint8

const (
	notifyEmail notifyChannel = 1 << iota
	notifyWebhook
)

// Problem events worth telling someone about, and where they go. Events not
// listed here are only traced at debug level.
var notificationRoutes = map[events.EventType]notifyChannel{
	events.EventProblemCreated:       notifyEmail | notifyWebhook,
	events.EventProblemStatusChanged: notifyWebhook,
	events.EventProblemAssigned:      notifyEmail,
	events.EventProblemUpdated:       0,
	events.EventProblemTicketLinked:  0,
	events.EventProblemTicketUnlink:  0,
}

// NotificationService fans problem events out to the configured email and
// webhook sinks. Delivery itself is out of process; sinks are logged.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	emailFrom  string
	webhookURL string
}

func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("notify"),
		emailFrom:  strings.TrimSpace(cfg.EmailFrom),
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
	}
}

// RegisterHandlers subscribes to every routed problem event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for eventType := range notificationRoutes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("problem_id", event.ProblemID),
	}
	if event.TicketID != "" {
		fields = append(fields, zap.String("ticket_id", event.TicketID))
	}

	channels := notificationRoutes[event.Type]
	if channels == 0 {
		n.logger.Debug("problem activity", fields...)
		return nil
	}
	n.logger.Info("problem notification", append(fields, zap.Any("payload", event.Payload))...)
	for _, sink := range n.sinks(channels) {
		n.logger.Debug("notification queued", append(fields, sink)...)
	}
	return nil
}

// sinks resolves channels to configured targets; unconfigured ones are skipped.
func (n *NotificationService) sinks(channels notifyChannel) []zap.Field {
	var out []zap.Field
	if channels&notifyEmail != 0 && n.emailFrom != "" {
		out = append(out, zap.String("email_from", n.emailFrom))
	}
	if channels&notifyWebhook != 0 && n.webhookURL != "" {
		out = append(out, zap.String("webhook_url", n.webhookURL))
	}
	return out
}
