package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

type allocatorFunc func(ctx context.Context, category domain.Category, priority domain.TicketPriority) (string, error)

func (f allocatorFunc) SelectBestAssignee(ctx context.Context, category domain.Category, priority domain.TicketPriority) (string, error) {
	return f(ctx, category, priority)
}

func TestDeriveProblemAssignee(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tickets := []domain.Ticket{
		{ID: "1", Assignee: "bob", UpdatedAt: base},
		{ID: "2", Assignee: "alice", UpdatedAt: base.Add(time.Hour)},
		{ID: "3", Assignee: "bob", UpdatedAt: base.Add(time.Hour)},
		{ID: "4", Assignee: "", UpdatedAt: base.Add(2 * time.Hour)},
	}
	assert.Equal(t, "bob", DeriveProblemAssignee(tickets), "tie on recency goes to the larger count")

	tickets = append(tickets, domain.Ticket{ID: "5", Assignee: "carol", UpdatedAt: base.Add(3 * time.Hour)})
	assert.Equal(t, "carol", DeriveProblemAssignee(tickets))

	assert.Equal(t, "alice", DeriveProblemAssignee([]domain.Ticket{
		{Assignee: "dave", UpdatedAt: base},
		{Assignee: "alice", UpdatedAt: base},
	}))
	assert.Empty(t, DeriveProblemAssignee(nil))
}

func TestAssignProblemAssigneeManual(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)
	f.store.PutStaff(domain.StaffMember{Name: "Alice Smith", Email: "alice@example.com", Role: domain.StaffRoleAgent, Active: true})
	f.store.PutStaff(domain.StaffMember{Name: "Retired Rick", Email: "rick@example.com", Role: domain.StaffRoleAgent, Active: false})
	actor := events.StaffActor("lead-1")
	ctx := context.Background()

	_, err := f.svc.AssignProblemAssignee(ctx, p.ID, AssignModeManual, " ", actor)
	require.ErrorIs(t, err, apperrors.ErrAssigneeRequired)
	assert.Equal(t, apperrors.ReasonAssigneeRequired, reasonOf(t, err))

	_, err = f.svc.AssignProblemAssignee(ctx, p.ID, AssignModeManual, "Retired Rick", actor)
	require.ErrorIs(t, err, apperrors.ErrAssigneeNotAssignable)

	res, err := f.svc.AssignProblemAssignee(ctx, p.ID, AssignModeManual, "alice smith", actor)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", res.Assignee)
	assert.Equal(t, 5, res.UpdatedTickets)

	tk := f.ticket(t, "T-1")
	assert.Equal(t, "Alice Smith", tk.Assignee)
	assert.Equal(t, 1, tk.ReassignmentCount)
	require.NotNil(t, tk.FirstActionAt)

	res, err = f.svc.AssignProblemAssignee(ctx, p.ID, AssignModeManual, "ALICE SMITH", actor)
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedTickets)
	assert.Equal(t, 1, f.ticket(t, "T-1").ReassignmentCount)

	var changes int
	for _, h := range f.store.AllHistory() {
		if h.ChangeType == domain.ChangeTypeAssignee {
			changes++
		}
	}
	assert.Equal(t, 5, changes)
	assert.Len(t, f.eventsOf(events.EventProblemAssigned), 2)
}

func TestAssignProblemAssigneeRequiresLinkedTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Problems().Create(ctx, &domain.Problem{
		ID: "PB-0042", Title: "Empty", Category: domain.CategoryEmail,
		Status: domain.ProblemStatusOpen, SimilarityKey: "email|kw:empty",
	}))

	_, err := f.svc.AssignProblemAssignee(ctx, "PB-0042", AssignModeManual, "", events.SystemActor())
	require.ErrorIs(t, err, apperrors.ErrNoLinkedTickets)

	_, err = f.svc.AssignProblemAssignee(ctx, "PB-0042", AssignMode("random"), "", events.SystemActor())
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAssignProblemAssigneeAuto(t *testing.T) {
	var gotPriority domain.TicketPriority
	f := newFixture(t, func(d *ProblemDependencies) {
		d.Allocator = allocatorFunc(func(_ context.Context, category domain.Category, priority domain.TicketPriority) (string, error) {
			assert.Equal(t, domain.CategoryNetwork, category)
			gotPriority = priority
			return "Net Nina", nil
		})
	})
	p := f.detectVPN(t)
	tk := f.ticket(t, "T-3")
	tk.Priority = domain.TicketPriorityCritical
	f.store.PutTicket(*tk)

	res, err := f.svc.AssignProblemAssignee(context.Background(), p.ID, AssignModeAuto, "", events.SystemActor())
	require.NoError(t, err)
	assert.Equal(t, "Net Nina", res.Assignee)
	assert.Equal(t, 5, res.UpdatedTickets)
	assert.Equal(t, domain.TicketPriorityCritical, gotPriority)
}

func TestAssignProblemAssigneeAutoFallsBackToDerived(t *testing.T) {
	f := newFixture(t, func(d *ProblemDependencies) {
		d.Allocator = allocatorFunc(func(context.Context, domain.Category, domain.TicketPriority) (string, error) {
			return "", errors.New("allocator down")
		})
	})
	p := f.detectVPN(t)
	ctx := context.Background()

	_, err := f.svc.AssignProblemAssignee(ctx, p.ID, AssignModeAuto, "", events.SystemActor())
	require.ErrorIs(t, err, apperrors.ErrAssigneeRequired)
	assert.Equal(t, apperrors.ReasonNoAssigneeAvailable, reasonOf(t, err))

	tk := f.ticket(t, "T-2")
	tk.Assignee = "Bob"
	f.store.PutTicket(*tk)

	res, err := f.svc.AssignProblemAssignee(ctx, p.ID, AssignModeAuto, "", events.SystemActor())
	require.NoError(t, err)
	assert.Equal(t, "Bob", res.Assignee)
	assert.Equal(t, 4, res.UpdatedTickets)
}
