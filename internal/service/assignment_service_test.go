package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/repository/memory"
)

func newAssignmentFixture(t *testing.T) (*memory.Store, *AssignmentService) {
	t.Helper()
	store := memory.NewStore()
	store.PutStaff(domain.StaffMember{Name: "Alice", Email: "alice@example.com", Active: true,
		Specialties: []domain.Category{domain.CategoryNetwork}})
	store.PutStaff(domain.StaffMember{Name: "Bob", Email: "bob@example.com", Active: true,
		Specialties: []domain.Category{domain.CategoryApplication}})
	store.PutStaff(domain.StaffMember{Name: "Carol", Email: "carol@example.com", Active: true})
	store.PutStaff(domain.StaffMember{Name: "Dormant", Email: "dormant@example.com", Active: false,
		Specialties: []domain.Category{domain.CategoryNetwork}})
	svc := NewAssignmentService(AssignmentDependencies{
		TicketRepo: store.Tickets(),
		StaffRepo:  store.Staff(),
	})
	return store, svc
}

func TestListAssignableSkipsInactiveStaff(t *testing.T) {
	_, svc := newAssignmentFixture(t)
	staff, err := svc.ListAssignable(context.Background())
	require.NoError(t, err)
	var names []string
	for _, m := range staff {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, names)
}

func TestSelectBestAssigneeSpecialistQueue(t *testing.T) {
	store, svc := newAssignmentFixture(t)
	for _, id := range []string{"A-1", "A-2", "A-3"} {
		store.PutTicket(domain.Ticket{ID: id, Category: domain.CategoryNetwork, Status: domain.TicketStatusOpen, Assignee: "Alice"})
	}

	// Network routes to specialists only, however loaded.
	name, err := svc.SelectBestAssignee(context.Background(), domain.CategoryNetwork, domain.TicketPriorityLow)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

func TestSelectBestAssigneeBalanced(t *testing.T) {
	store, svc := newAssignmentFixture(t)
	ctx := context.Background()

	// Equal load: the application specialist wins the tie.
	name, err := svc.SelectBestAssignee(ctx, domain.CategoryApplication, domain.TicketPriorityLow)
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)

	store.PutTicket(domain.Ticket{ID: "B-1", Status: domain.TicketStatusInProgress, Assignee: "Bob"})
	store.PutTicket(domain.Ticket{ID: "A-1", Status: domain.TicketStatusOpen, Assignee: "Alice"})
	store.PutTicket(domain.Ticket{ID: "C-1", Status: domain.TicketStatusResolved, Assignee: "Carol"})

	name, err = svc.SelectBestAssignee(ctx, domain.CategoryApplication, domain.TicketPriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, "Carol", name, "resolved tickets do not count as load")

	name, err = svc.SelectBestAssignee(ctx, domain.CategoryApplication, domain.TicketPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, "Bob", name, "urgent work stays with specialists")
}

func TestSelectBestAssigneeEmptyRoster(t *testing.T) {
	store := memory.NewStore()
	svc := NewAssignmentService(AssignmentDependencies{TicketRepo: store.Tickets(), StaffRepo: store.Staff()})
	name, err := svc.SelectBestAssignee(context.Background(), domain.CategoryEmail, domain.TicketPriorityMedium)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestPolicyForUnknownCategory(t *testing.T) {
	assert.Equal(t, PolicyFor(domain.CategoryOther), PolicyFor(domain.Category("plumbing")))
	for _, c := range domain.Categories {
		assert.NotEmpty(t, PolicyFor(c).Workflow, c)
	}
}
