package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	d.Subscribe(EventProblemCreated, func(_ context.Context, e Event) error {
		calls = append(calls, "first:"+e.ProblemID)
		return errors.New("first failed")
	})
	d.Subscribe(EventProblemCreated, func(_ context.Context, e Event) error {
		calls = append(calls, "second:"+e.ProblemID)
		return nil
	})
	d.Subscribe(EventProblemUpdated, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	ev := New(EventProblemCreated, SystemActor(), time.Now(), ProblemCreatedPayload{Title: "x"})
	ev.ProblemID = "PB-0001"
	err := d.Publish(context.Background(), ev)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Equal(t, []string{"first:PB-0001", "second:PB-0001"}, calls)
	assert.NotEmpty(t, ev.ID)
}

func TestActors(t *testing.T) {
	assert.Nil(t, SystemActor().StaffID)
	a := StaffActor("s-1")
	require.NotNil(t, a.StaffID)
	assert.Equal(t, "s-1", *a.StaffID)
}

func TestPublishAllIsolatesPanics(t *testing.T) {
	d := NewInMemoryDispatcher()
	var seen []EventType
	d.Subscribe(EventProblemCreated, func(context.Context, Event) error {
		panic("bad handler")
	})
	for _, typ := range []EventType{EventProblemCreated, EventProblemTicketLinked} {
		d.Subscribe(typ, func(_ context.Context, e Event) error {
			seen = append(seen, e.Type)
			return nil
		})
	}

	err := d.PublishAll(context.Background(), []Event{
		New(EventProblemCreated, SystemActor(), time.Now(), nil),
		New(EventProblemTicketLinked, SystemActor(), time.Now(), nil),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad handler")
	assert.Equal(t, []EventType{EventProblemCreated, EventProblemTicketLinked}, seen)

	assert.NoError(t, d.PublishAll(context.Background(), nil))
}
