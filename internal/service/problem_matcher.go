package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/repository"
	"github.com/spec-kit/problem-service/internal/similarity"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

// errNoSimilarTicketsYet means a ticket matched no problem and its fingerprint
// group is still below the promotion threshold. The ticket stays unlinked.
var errNoSimilarTicketsYet = errors.New("no similar tickets yet")

// Unlink reasons recorded in history and events.
const (
	unlinkProblemMissing   = "problem_missing"
	unlinkCategoryMismatch = "category_mismatch"
	unlinkBelowThreshold   = "similarity_below_threshold"
	unlinkManual           = "manual"
)

// ticketProfile is what a ticket is matched with.
type ticketProfile struct {
	ticket *domain.Ticket
	key    string
	tokens similarity.Set
}

func newTicketProfile(t *domain.Ticket) ticketProfile {
	return ticketProfile{
		ticket: t,
		key:    ticketKey(t),
		tokens: similarity.TokenSet(t.Title + " " + t.Description),
	}
}

func ticketKey(t *domain.Ticket) string {
	return similarity.SimilarityKey(t.Title, string(t.Category), t.Description, t.Tags)
}

// LinkTicketToProblem re-evaluates a ticket's problem membership after it was
// created, edited or re-triaged. A stale link is dropped first; the ticket is
// then attached to the best matching problem of its category or, when inline
// promotion is enabled, to a problem created from its fingerprint group. It
// returns nil when the ticket ends up unlinked.
func (s *ProblemService) LinkTicketToProblem(ctx context.Context, ticketID string) (*domain.Problem, error) {
	var result *domain.Problem
	err := s.inTx(ctx, events.SystemActor(), func(ctx context.Context, uow *unitOfWork) error {
		t, err := uow.Tickets().GetByID(ctx, ticketID)
		if err != nil {
			return ticketLookupError(err, ticketID)
		}
		prof := newTicketProfile(t)

		if t.ProblemID != nil {
			kept, err := s.detachIfProblemMismatch(ctx, uow, prof)
			if err != nil {
				return err
			}
			if kept != nil {
				if _, err := s.applyStats(ctx, uow, kept); err != nil {
					return err
				}
				result = kept
				return nil
			}
		}

		best, score, err := s.findSimilarProblem(ctx, uow, prof)
		if err != nil {
			return err
		}
		if best != nil {
			p, err := uow.Problems().GetForUpdate(ctx, best.ID)
			if err != nil {
				return err
			}
			if _, err := s.attachTicket(ctx, uow, t, p, score); err != nil {
				return err
			}
			if p.Status == domain.ProblemStatusOpen {
				p.Status = domain.ProblemStatusInvestigating
			}
			if _, err := s.applyStats(ctx, uow, p); err != nil {
				return err
			}
			s.emitRecommendations(ctx, uow, p, false)
			uow.afterCommit(func() { s.metrics.RecordLinked(1) })
			result = p
			return nil
		}

		if !s.cfg.PromoteOnLink {
			return nil
		}
		p, err := s.promoteOnLink(ctx, uow, prof)
		if errors.Is(err, errNoSimilarTicketsYet) {
			s.logger.Debug("ticket left unlinked",
				zap.String("ticket_id", t.ID), zap.String("similarity_key", prof.key), zap.Error(err))
			return nil
		}
		if err != nil {
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

// matchScore is 1.0 on an exact fingerprint match, otherwise the overlap between
// the ticket's tokens and the problem's profile: key tokens, title tokens and the
// tokens of its most recently updated linked tickets other than the ticket itself.
func (s *ProblemService) matchScore(ctx context.Context, repos repository.Repositories, prof ticketProfile, p *domain.Problem) (float64, error) {
	if prof.key == p.SimilarityKey {
		return 1.0, nil
	}
	peers, err := repos.Tickets().ListWithFilter(ctx, repository.TicketFilter{
		ProblemID: &p.ID,
		Limit:     s.cfg.RecentTicketsPerPeer + 1,
	})
	if err != nil {
		return 0, err
	}
	profile := similarity.KeyTokens(p.SimilarityKey).Add(similarity.TokenSet(p.Title))
	used := 0
	for i := range peers {
		if peers[i].ID == prof.ticket.ID {
			continue
		}
		if used == s.cfg.RecentTicketsPerPeer {
			break
		}
		profile.Add(similarity.TokenSet(peers[i].Title + " " + peers[i].Description))
		used++
	}
	return similarity.Overlap(prof.tokens, profile), nil
}

// findSimilarProblem returns the best problem of the ticket's category scoring at
// least the match threshold, or nil. Ties go to the most recently updated problem.
func (s *ProblemService) findSimilarProblem(ctx context.Context, repos repository.Repositories, prof ticketProfile) (*domain.Problem, float64, error) {
	candidates, err := repos.Problems().ListByCategory(ctx, prof.ticket.Category)
	if err != nil {
		return nil, 0, err
	}
	type scored struct {
		problem *domain.Problem
		score   float64
	}
	var matches []scored
	for i := range candidates {
		score, err := s.matchScore(ctx, repos, prof, &candidates[i])
		if err != nil {
			return nil, 0, err
		}
		s.logger.Debug("problem match score",
			zap.String("ticket_id", prof.ticket.ID),
			zap.String("problem_id", candidates[i].ID),
			zap.Float64("score", score))
		if score >= s.cfg.MatchThreshold {
			matches = append(matches, scored{problem: &candidates[i], score: score})
		}
	}
	if len(matches) == 0 {
		return nil, 0, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if !matches[i].problem.UpdatedAt.Equal(matches[j].problem.UpdatedAt) {
			return matches[i].problem.UpdatedAt.After(matches[j].problem.UpdatedAt)
		}
		return matches[i].problem.ID < matches[j].problem.ID
	})
	return matches[0].problem, matches[0].score, nil
}

// detachIfProblemMismatch keeps a ticket's current link when the problem still
// exists, shares its category and scores at least the threshold, returning that
// problem. Otherwise the ticket is unlinked, the old problem recomputed, and nil
// returned.
func (s *ProblemService) detachIfProblemMismatch(ctx context.Context, uow *unitOfWork, prof ticketProfile) (*domain.Problem, error) {
	t := prof.ticket
	currentID := *t.ProblemID

	p, err := uow.Problems().GetForUpdate(ctx, currentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var reason string
	switch {
	case p == nil:
		reason = unlinkProblemMissing
	case p.Category != t.Category:
		reason = unlinkCategoryMismatch
	default:
		score, err := s.matchScore(ctx, uow, prof, p)
		if err != nil {
			return nil, err
		}
		if score >= s.cfg.MatchThreshold {
			return p, nil
		}
		reason = unlinkBelowThreshold
	}

	if err := s.detachTicket(ctx, uow, t, currentID, reason); err != nil {
		return nil, err
	}
	uow.afterCommit(s.metrics.RecordDetached)
	s.logger.Info("ticket detached from problem",
		zap.String("ticket_id", t.ID), zap.String("problem_id", currentID), zap.String("reason", reason))
	if p != nil {
		if _, err := s.applyStats(ctx, uow, p); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// attachTicket points t at p and records the change. It reports false when t
// was already linked to p. The caller recomputes p; a previous problem is
// recomputed here.
func (s *ProblemService) attachTicket(ctx context.Context, uow *unitOfWork, t *domain.Ticket, p *domain.Problem, score float64) (bool, error) {
	if t.LinkedTo(p.ID) {
		return false, nil
	}
	previous := t.ProblemID
	t.ProblemID = strPtr(p.ID)
	if err := uow.Tickets().Save(ctx, t); err != nil {
		return false, err
	}
	if err := s.recordHistory(ctx, uow, uow.audit(t.ID, domain.ChangeTypeProblemLink,
		map[string]any{"problem_id": previous},
		map[string]any{"problem_id": p.ID})); err != nil {
		return false, err
	}
	if previous != nil {
		if err := s.recomputeByID(ctx, uow, *previous); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return false, err
		}
	}
	uow.emit(events.EventProblemTicketLinked, p.ID, t.ID, events.ProblemTicketLinkedPayload{
		PreviousProblemID: previous,
		Score:             score,
	})
	return true, nil
}

// detachTicket clears t's link to problemID and records why.
func (s *ProblemService) detachTicket(ctx context.Context, uow *unitOfWork, t *domain.Ticket, problemID, reason string) error {
	t.ProblemID = nil
	if err := uow.Tickets().Save(ctx, t); err != nil {
		return err
	}
	if err := s.recordHistory(ctx, uow, uow.audit(t.ID, domain.ChangeTypeProblemUnlink,
		map[string]any{"problem_id": problemID},
		map[string]any{"problem_id": nil, "reason": reason})); err != nil {
		return err
	}
	uow.emit(events.EventProblemTicketUnlink, problemID, t.ID, events.ProblemTicketUnlinkedPayload{Reason: reason})
	return nil
}

// promoteOnLink upserts a problem from the unlinked tickets in the trailing
// window that share the ticket's fingerprint, once they reach the min count.
func (s *ProblemService) promoteOnLink(ctx context.Context, uow *unitOfWork, prof ticketProfile) (*domain.Problem, error) {
	category := prof.ticket.Category
	from := uow.at.Add(-time.Duration(s.cfg.WindowDays) * 24 * time.Hour)
	pool, err := uow.Tickets().ListWithFilter(ctx, repository.TicketFilter{
		Category:  &category,
		Unlinked:  true,
		EventFrom: &from,
	})
	if err != nil {
		return nil, err
	}
	group := []domain.Ticket{*prof.ticket}
	for i := range pool {
		if pool[i].ID == prof.ticket.ID {
			continue
		}
		if ticketKey(&pool[i]) == prof.key {
			group = append(group, pool[i])
		}
	}
	if len(group) < s.cfg.MinCount {
		return nil, errNoSimilarTicketsYet
	}
	sortByEventTime(group)

	out, err := s.upsertProblem(ctx, uow, prof.key, group, nil)
	if err != nil {
		return nil, err
	}
	uow.afterCommit(func() {
		if out.created {
			s.metrics.RecordProblemCreated()
		}
		s.metrics.RecordLinked(out.linked)
	})
	return out.problem, nil
}

func sortByEventTime(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		ti, tj := tickets[i].EventTime(), tickets[j].EventTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return tickets[i].ID < tickets[j].ID
	})
}
