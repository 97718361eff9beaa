package service

import (
	"context"
	"time"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/repository"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

// RecomputeProblemStats re-derives a problem's counters from its current links.
func (s *ProblemService) RecomputeProblemStats(ctx context.Context, problemID string) (*domain.Problem, error) {
	var result *domain.Problem
	err := s.inTx(ctx, events.SystemActor(), func(ctx context.Context, uow *unitOfWork) error {
		p, err := uow.Problems().GetForUpdate(ctx, problemID)
		if err != nil {
			return problemLookupError(err, problemID)
		}
		if _, err := s.applyStats(ctx, uow, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return result, nil
}

// applyStats recomputes occurrences, active count and last seen from linked
// tickets and persists p. last_seen_at never moves backward and is kept when
// no tickets remain. It reports whether any counter changed.
func (s *ProblemService) applyStats(ctx context.Context, repos repository.Repositories, p *domain.Problem) (bool, error) {
	tickets, err := repos.Tickets().ListWithFilter(ctx, repository.TicketFilter{ProblemID: &p.ID})
	if err != nil {
		return false, err
	}

	occurrences, active := len(tickets), 0
	lastSeen := p.LastSeenAt
	for i := range tickets {
		if tickets[i].Status.IsActive() {
			active++
		}
		ts := tickets[i].EventTime()
		if lastSeen == nil || ts.After(*lastSeen) {
			lastSeen = &ts
		}
	}

	changed := occurrences != p.OccurrencesCount || active != p.ActiveCount ||
		!sameTime(lastSeen, p.LastSeenAt)
	p.OccurrencesCount = occurrences
	p.ActiveCount = active
	p.LastSeenAt = lastSeen
	p.UpdatedAt = s.now()
	if err := repos.Problems().Update(ctx, p); err != nil {
		return false, err
	}
	return changed, nil
}

// recomputeByID refreshes a problem that lost tickets to another one.
func (s *ProblemService) recomputeByID(ctx context.Context, repos repository.Repositories, problemID string) error {
	p, err := repos.Problems().GetForUpdate(ctx, problemID)
	if err != nil {
		return err
	}
	_, err = s.applyStats(ctx, repos, p)
	return err
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *ProblemService) linkedTickets(ctx context.Context, repos repository.Repositories, problemID string) ([]domain.Ticket, error) {
	return repos.Tickets().ListWithFilter(ctx, repository.TicketFilter{ProblemID: &problemID})
}
