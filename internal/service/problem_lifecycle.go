package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

// ProblemPatch is a partial update. Nil fields are left untouched.
type ProblemPatch struct {
	Title             *string
	Status            *domain.ProblemStatus
	RootCause         *string
	Workaround        *string
	PermanentFix      *string
	ResolutionComment string
}

// UpdateProblem applies patch. Any status may follow any other, but entering
// resolved or closed needs a resolution comment plus a root cause and a
// permanent fix once the patch is applied. Rejected patches change nothing.
func (s *ProblemService) UpdateProblem(ctx context.Context, id string, patch ProblemPatch, actor events.Actor) (*domain.Problem, error) {
	var result *domain.Problem
	err := s.inTx(ctx, actor, func(ctx context.Context, uow *unitOfWork) error {
		p, err := uow.Problems().GetForUpdate(ctx, id)
		if err != nil {
			return problemLookupError(err, id)
		}
		oldStatus := p.Status
		var fields []string

		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return apperrors.NewValidationError("title must not be empty", map[string]any{"problem_id": id})
			}
			if title != p.Title {
				p.Title = title
				fields = append(fields, "title")
			}
		}
		for _, f := range []struct {
			name  string
			value *string
			dst   *string
		}{
			{"root_cause", patch.RootCause, &p.RootCause},
			{"workaround", patch.Workaround, &p.Workaround},
			{"permanent_fix", patch.PermanentFix, &p.PermanentFix},
		} {
			if f.value == nil {
				continue
			}
			if v := strings.TrimSpace(*f.value); v != *f.dst {
				*f.dst = v
				fields = append(fields, f.name)
			}
		}

		target := oldStatus
		if patch.Status != nil {
			target = *patch.Status
			if !target.Valid() {
				return apperrors.NewInvalidTransition(apperrors.ReasonInvalidStatus, "unknown problem status",
					map[string]any{"status": target})
			}
		}
		comment := strings.TrimSpace(patch.ResolutionComment)
		if target != oldStatus && target.IsTerminal() {
			if comment == "" {
				return apperrors.NewInvalidTransition(apperrors.ReasonResolutionCommentRequired,
					"a resolution comment is required", map[string]any{"status": target})
			}
			if p.RootCause == "" || p.PermanentFix == "" {
				return apperrors.NewInvalidTransition(apperrors.ReasonResolutionRequiresRootCause,
					"root cause and permanent fix are required before resolving", map[string]any{"status": target})
			}
		}
		if target != oldStatus {
			p.Status = target
			if target == domain.ProblemStatusResolved {
				at := uow.at
				p.ResolvedAt = &at
			} else {
				p.ResolvedAt = nil
			}
			fields = append(fields, "status")
		}

		if _, err := s.applyStats(ctx, uow, p); err != nil {
			return err
		}
		s.emitRecommendations(ctx, uow, p, false)

		uow.emit(events.EventProblemUpdated, p.ID, "", events.ProblemUpdatedPayload{Fields: fields})
		if target != oldStatus {
			uow.emit(events.EventProblemStatusChanged, p.ID, "", events.ProblemStatusChangedPayload{
				OldStatus:         oldStatus,
				NewStatus:         target,
				ResolutionComment: comment,
			})
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return result, nil
}

// LinkTicket manually attaches a ticket to a problem of the same category,
// moving it off any previous problem.
func (s *ProblemService) LinkTicket(ctx context.Context, problemID, ticketID string, actor events.Actor) (*domain.Problem, error) {
	var result *domain.Problem
	err := s.inTx(ctx, actor, func(ctx context.Context, uow *unitOfWork) error {
		p, err := uow.Problems().GetForUpdate(ctx, problemID)
		if err != nil {
			return problemLookupError(err, problemID)
		}
		t, err := uow.Tickets().GetByID(ctx, ticketID)
		if err != nil {
			return ticketLookupError(err, ticketID)
		}
		if t.Category != p.Category {
			return apperrors.NewValidationError("ticket category does not match problem", map[string]any{
				"reason":           apperrors.ReasonCategoryMismatch,
				"ticket_category":  t.Category,
				"problem_category": p.Category,
			})
		}
		score, err := s.matchScore(ctx, uow, newTicketProfile(t), p)
		if err != nil {
			return err
		}
		if _, err := s.attachTicket(ctx, uow, t, p, score); err != nil {
			return err
		}
		if _, err := s.applyStats(ctx, uow, p); err != nil {
			return err
		}
		s.emitRecommendations(ctx, uow, p, false)
		result = p
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return result, nil
}

// UnlinkTicket detaches a ticket from a problem. It reports false when the
// ticket was not linked to that problem.
func (s *ProblemService) UnlinkTicket(ctx context.Context, problemID, ticketID string, actor events.Actor) (bool, error) {
	var removed bool
	err := s.inTx(ctx, actor, func(ctx context.Context, uow *unitOfWork) error {
		p, err := uow.Problems().GetForUpdate(ctx, problemID)
		if err != nil {
			return problemLookupError(err, problemID)
		}
		t, err := uow.Tickets().GetByID(ctx, ticketID)
		if err != nil {
			return ticketLookupError(err, ticketID)
		}
		if !t.LinkedTo(problemID) {
			return nil
		}
		if err := s.detachTicket(ctx, uow, t, problemID, unlinkManual); err != nil {
			return err
		}
		if _, err := s.applyStats(ctx, uow, p); err != nil {
			return err
		}
		s.emitRecommendations(ctx, uow, p, false)
		removed = true
		return nil
	})
	if err != nil {
		return false, apperrors.MapError(err)
	}
	return removed, nil
}

// ResolveLinkedTickets resolves every active (open, in progress or pending)
// linked ticket and returns how many were changed. Waiting tickets are left for
// their owner.
func (s *ProblemService) ResolveLinkedTickets(ctx context.Context, problemID string, actor events.Actor, comment string) (int, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return 0, apperrors.NewInvalidTransition(apperrors.ReasonResolutionCommentRequired,
			"a resolution comment is required", map[string]any{"problem_id": problemID})
	}
	resolved := 0
	err := s.inTx(ctx, actor, func(ctx context.Context, uow *unitOfWork) error {
		resolved = 0
		p, err := uow.Problems().GetForUpdate(ctx, problemID)
		if err != nil {
			return problemLookupError(err, problemID)
		}
		tickets, err := s.linkedTickets(ctx, uow, problemID)
		if err != nil {
			return err
		}
		var audit []*domain.TicketHistory
		for i := range tickets {
			t := &tickets[i]
			if !t.Status.IsActive() {
				continue
			}
			old := t.Status
			at := uow.at
			t.Status = domain.TicketStatusResolved
			t.ResolutionComment = comment
			t.ResolvedAt = &at
			if t.FirstActionAt == nil {
				t.FirstActionAt = &at
			}
			if err := uow.Tickets().Save(ctx, t); err != nil {
				return err
			}
			audit = append(audit, uow.audit(t.ID, domain.ChangeTypeStatus,
				map[string]any{"status": old},
				map[string]any{"status": t.Status, "resolution_comment": comment, "problem_id": problemID}))
			uow.emit(events.EventTicketStatusChanged, problemID, t.ID, events.TicketStatusChangedPayload{
				OldStatus: old,
				NewStatus: t.Status,
				Comment:   comment,
			})
			resolved++
		}
		if err := s.recordHistory(ctx, uow, audit...); err != nil {
			return err
		}
		if _, err := s.applyStats(ctx, uow, p); err != nil {
			return err
		}
		s.emitRecommendations(ctx, uow, p, false)
		return nil
	})
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	s.logger.Info("linked tickets resolved", zap.String("problem_id", problemID), zap.Int("resolved", resolved))
	return resolved, nil
}
