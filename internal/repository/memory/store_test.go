package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/repository"
)

func newProblem(id, key string) *domain.Problem {
	return &domain.Problem{
		ID:            id,
		Title:         "Recurring network incidents",
		Category:      domain.CategoryNetwork,
		Status:        domain.ProblemStatusInvestigating,
		SimilarityKey: key,
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutTicket(domain.Ticket{ID: "T-1", Title: "VPN down", Category: domain.CategoryNetwork, Status: domain.TicketStatusOpen})

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		id, err := tx.Problems().NextID(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Problems().Create(ctx, newProblem(id, "network|tag:vpn")))

		ticket, err := tx.Tickets().GetByID(ctx, "T-1")
		require.NoError(t, err)
		ticket.ProblemID = &id
		require.NoError(t, tx.Tickets().Save(ctx, ticket))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Problems().GetByKey(ctx, "network|tag:vpn")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	ticket, err := s.Tickets().GetByID(ctx, "T-1")
	require.NoError(t, err)
	assert.Nil(t, ticket.ProblemID)

	// Sequence numbers are not reused after a rollback.
	id, err := s.Problems().NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PB-0002", id)
}

func TestSavepointRollsBackOnlyNestedWork(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		require.NoError(t, tx.Problems().Create(ctx, newProblem("PB-0001", "network|tag:vpn")))
		nestedErr := tx.Savepoint(ctx, func(ctx context.Context, tx repository.Tx) error {
			_, err := tx.Recommendations().UpsertByTitle(ctx, &domain.Recommendation{Title: "x", Type: domain.RecommendationPattern})
			require.NoError(t, err)
			return errors.New("emit failed")
		})
		assert.Error(t, nestedErr)
		return nil
	})
	require.NoError(t, err)

	_, err = s.Problems().GetByID(ctx, "PB-0001")
	assert.NoError(t, err)
	assert.Empty(t, s.AllRecommendations())
}

func TestUpsertByTitleDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	pid := "PB-0001"

	created, err := s.Recommendations().UpsertByTitle(ctx, &domain.Recommendation{
		ProblemID: &pid, Type: domain.RecommendationPattern, Title: "PB-0001 pattern", Confidence: 90,
	})
	require.NoError(t, err)
	assert.True(t, created)

	rec := &domain.Recommendation{
		ProblemID: &pid, Type: domain.RecommendationPattern, Title: "PB-0001 pattern",
		Description: "refreshed", Confidence: 90,
	}
	created, err = s.Recommendations().UpsertByTitle(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created)

	recs, err := s.Recommendations().ListByProblem(ctx, pid)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "refreshed", recs[0].Description)
	assert.Equal(t, rec.ID, recs[0].ID)
}

func TestTicketFilters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Now = func() time.Time { return now }

	old := now.Add(-30 * 24 * time.Hour)
	jira := now.Add(-time.Hour)
	pid := "PB-0001"
	s.PutTicket(domain.Ticket{ID: "T-1", Category: domain.CategoryNetwork, Status: domain.TicketStatusOpen, CreatedAt: now.Add(-2 * time.Hour)})
	s.PutTicket(domain.Ticket{ID: "T-2", Category: domain.CategoryNetwork, Status: domain.TicketStatusResolved, CreatedAt: old})
	s.PutTicket(domain.Ticket{ID: "T-3", Category: domain.CategoryNetwork, Status: domain.TicketStatusOpen, CreatedAt: old, JiraCreatedAt: &jira})
	s.PutTicket(domain.Ticket{ID: "T-4", Category: domain.CategoryEmail, Status: domain.TicketStatusOpen, CreatedAt: now, ProblemID: &pid})

	from := now.Add(-7 * 24 * time.Hour)
	got, err := s.Tickets().ListWithFilter(ctx, repository.TicketFilter{EventFrom: &from, Unlinked: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-1", "T-3"}, ids(got))

	cat := domain.CategoryNetwork
	got, err = s.Tickets().ListWithFilter(ctx, repository.TicketFilter{Category: &cat, Statuses: []domain.TicketStatus{domain.TicketStatusResolved}})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-2"}, ids(got))

	got, err = s.Tickets().ListWithFilter(ctx, repository.TicketFilter{ProblemID: &pid})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-4"}, ids(got))
}

func TestProblemKeyUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Problems().Create(ctx, newProblem("PB-0001", "network|tag:vpn")))
	assert.Error(t, s.Problems().Create(ctx, newProblem("PB-0002", "network|tag:vpn")))

	require.NoError(t, s.Problems().Create(ctx, newProblem("PB-0003", "network|tag:wifi")))
	p, err := s.Problems().GetByID(ctx, "PB-0003")
	require.NoError(t, err)
	p.SimilarityKey = "network|tag:vpn"
	assert.Error(t, s.Problems().Update(ctx, p))
}

func ids(tickets []domain.Ticket) []string {
	out := make([]string, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.ID)
	}
	return out
}

func TestHistoryAppendAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return at }
	s.PutTicket(domain.Ticket{ID: "T-1", Title: "VPN down", Category: domain.CategoryNetwork})
	s.PutTicket(domain.Ticket{ID: "T-2", Title: "VPN slow", Category: domain.CategoryNetwork})

	link := &domain.TicketHistory{TicketID: "T-1", ChangedByType: domain.ActorTypeSystem, ChangeType: domain.ChangeTypeProblemLink}
	assign := &domain.TicketHistory{TicketID: "T-1", ChangedByType: domain.ActorTypeSystem, ChangeType: domain.ChangeTypeAssignee}
	other := &domain.TicketHistory{TicketID: "T-2", ChangedByType: domain.ActorTypeSystem, ChangeType: domain.ChangeTypeProblemLink}
	require.NoError(t, s.History().Append(ctx, link, assign, other))
	assert.NotEmpty(t, link.ID)
	assert.Equal(t, at, assign.CreatedAt)

	got, err := s.History().List(ctx, repository.HistoryFilter{TicketID: "T-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ChangeTypeProblemLink, got[0].ChangeType)

	got, err = s.History().List(ctx, repository.HistoryFilter{ChangeTypes: []domain.TicketChangeType{domain.ChangeTypeProblemLink}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "T-1", got[0].TicketID)

	err = s.History().Append(ctx, &domain.TicketHistory{TicketID: "T-404", ChangeType: domain.ChangeTypeStatus})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.Len(t, s.AllHistory(), 3)
}
