package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
)

type fakeLinker struct {
	calls []string
	err   error
}

func (f *fakeLinker) LinkTicketToProblem(_ context.Context, ticketID string) (*domain.Problem, error) {
	f.calls = append(f.calls, ticketID)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Problem{ID: "PB-0001"}, nil
}

func TestProblemWorkerLinksOnTicketEvents(t *testing.T) {
	d := events.NewInMemoryDispatcher()
	linker := &fakeLinker{}
	StartProblemWorker(d, linker, nil)

	ctx := context.Background()
	for i, typ := range events.TicketEventTypes {
		ev := events.New(typ, events.SystemActor(), time.Now(), nil)
		ev.TicketID = []string{"T-1", "T-2", "T-3"}[i]
		require.NoError(t, d.Publish(ctx, ev))
	}
	require.NoError(t, d.Publish(ctx, events.New(events.EventTicketCreated, events.SystemActor(), time.Now(), nil)))
	require.NoError(t, d.Publish(ctx, events.New(events.EventProblemCreated, events.SystemActor(), time.Now(), nil)))

	assert.Equal(t, []string{"T-1", "T-2", "T-3"}, linker.calls)
}

func TestProblemWorkerReportsLinkFailure(t *testing.T) {
	d := events.NewInMemoryDispatcher()
	boom := errors.New("boom")
	StartProblemWorker(d, &fakeLinker{err: boom}, nil)

	ev := events.New(events.EventTicketStatusChanged, events.SystemActor(), time.Now(), nil)
	ev.TicketID = "T-9"
	err := d.Publish(context.Background(), ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
