package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/persistence"
)

type chanSource struct {
	ch  chan []byte
	err error
}

func (s *chanSource) Subscribe(context.Context, string) (<-chan []byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

type syncLinker struct {
	mu    sync.Mutex
	calls []string
}

func (l *syncLinker) LinkTicketToProblem(_ context.Context, ticketID string) (*domain.Problem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ticketID)
	return nil, nil
}

func (l *syncLinker) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func TestTicketEventBridgeFeedsDispatcher(t *testing.T) {
	d := events.NewInMemoryDispatcher()
	linker := &syncLinker{}
	StartProblemWorker(d, linker, nil)

	src := &chanSource{ch: make(chan []byte, 4)}
	require.NoError(t, StartTicketEventBridge(context.Background(), src, "tickets:events", d, nil))

	src.ch <- []byte(`{"type":"ticket_created","ticket_id":"T-1"}`)
	src.ch <- []byte(`not json`)
	src.ch <- []byte(`{"type":"problem_created","ticket_id":"T-2"}`)
	src.ch <- []byte(`{"type":"ticket_triage_updated","ticket_id":"T-3","payload":{"new_category":"network"}}`)
	close(src.ch)

	require.Eventually(t, func() bool { return len(linker.seen()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"T-1", "T-3"}, linker.seen())
}

func TestTicketEventBridgeSubscribeError(t *testing.T) {
	boom := errors.New("redis down")
	err := StartTicketEventBridge(context.Background(), &chanSource{err: boom}, "tickets:events", events.NewInMemoryDispatcher(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestDecodeTicketEvent(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	ev, err := decodeTicketEvent([]byte(`{"id":"e-1","type":"ticket_status_changed","ticket_id":"T-7","actor":{"type":"STAFF","staff_id":"s-1"}}`), now)
	require.NoError(t, err)
	assert.Equal(t, "e-1", ev.ID)
	assert.Equal(t, events.EventTicketStatusChanged, ev.Type)
	assert.Equal(t, "T-7", ev.TicketID)
	assert.Equal(t, now, ev.Timestamp)
	require.NotNil(t, ev.Actor.StaffID)
	assert.Equal(t, "s-1", *ev.Actor.StaffID)

	ev, err = decodeTicketEvent([]byte(`{"type":"ticket_created","ticket_id":"T-8"}`), now)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, events.SystemActor(), ev.Actor)

	_, err = decodeTicketEvent([]byte(`{"type":"ticket_created"}`), now)
	assert.Error(t, err)
}

type countingNotifier struct{ registered int }

func (n *countingNotifier) RegisterHandlers() { n.registered++ }

func TestStartWiresWorkers(t *testing.T) {
	d := events.NewInMemoryDispatcher()
	linker := &syncLinker{}
	notifier := &countingNotifier{}

	require.NoError(t, Start(context.Background(), Dependencies{
		Dispatcher: d,
		Linker:     linker,
		Notifier:   notifier,
		Source:     &chanSource{err: persistence.ErrNotConfigured},
		Channel:    "tickets:events",
	}))
	assert.Equal(t, 1, notifier.registered)

	ev := events.New(events.EventTicketCreated, events.SystemActor(), time.Now(), nil)
	ev.TicketID = "T-5"
	require.NoError(t, d.Publish(context.Background(), ev))
	assert.Equal(t, []string{"T-5"}, linker.seen())

	boom := errors.New("redis down")
	err := Start(context.Background(), Dependencies{Dispatcher: d, Linker: linker, Source: &chanSource{err: boom}})
	assert.ErrorIs(t, err, boom)
}
