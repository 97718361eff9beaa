package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/events"
)

func TestNotificationRouting(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	d := events.NewInMemoryDispatcher()
	NewNotificationService(d, zap.New(core), config.NotificationConfig{
		EmailFrom: "desk@example.com",
	}).RegisterHandlers()

	ctx := context.Background()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	created := events.New(events.EventProblemCreated, events.SystemActor(), at, map[string]string{"title": "VPN"})
	created.ProblemID = "p-1"
	require.NoError(t, d.Publish(ctx, created))

	assert.Equal(t, 1, logs.FilterMessage("problem notification").Len())
	queued := logs.FilterMessage("notification queued").All()
	require.Len(t, queued, 1, "webhook is unconfigured")
	assert.Equal(t, "desk@example.com", queued[0].ContextMap()["email_from"])

	linked := events.New(events.EventProblemTicketLinked, events.SystemActor(), at, nil)
	linked.ProblemID = "p-1"
	linked.TicketID = "T-1"
	require.NoError(t, d.Publish(ctx, linked))

	activity := logs.FilterMessage("problem activity").All()
	require.Len(t, activity, 1)
	assert.Equal(t, "T-1", activity[0].ContextMap()["ticket_id"])
	assert.Equal(t, 1, logs.FilterMessage("problem notification").Len())
}

func TestNotificationServiceWithoutDispatcher(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNotificationService(nil, nil, config.NotificationConfig{}).RegisterHandlers()
	})
}
