package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/repository"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

// AssignMode selects how a problem's owner is chosen.
type AssignMode string

const (
	AssignModeAuto   AssignMode = "auto"
	AssignModeManual AssignMode = "manual"
)

// AssignmentResult reports the applied assignee.
type AssignmentResult struct {
	Assignee       string `json:"assignee"`
	UpdatedTickets int    `json:"updated_tickets"`
}

// DeriveProblemAssignee picks the assignee of the most recently updated linked
// ticket, breaking ties by how many tickets they hold, then by name. It returns
// "" when no ticket is assigned.
func DeriveProblemAssignee(tickets []domain.Ticket) string {
	type stat struct {
		name   string
		latest time.Time
		count  int
	}
	byName := map[string]*stat{}
	for _, t := range tickets {
		name := strings.TrimSpace(t.Assignee)
		if name == "" {
			continue
		}
		st, ok := byName[name]
		if !ok {
			st = &stat{name: name}
			byName[name] = st
		}
		st.count++
		if t.UpdatedAt.After(st.latest) {
			st.latest = t.UpdatedAt
		}
	}
	if len(byName) == 0 {
		return ""
	}
	stats := make([]*stat, 0, len(byName))
	for _, st := range byName {
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if !stats[i].latest.Equal(stats[j].latest) {
			return stats[i].latest.After(stats[j].latest)
		}
		if stats[i].count != stats[j].count {
			return stats[i].count > stats[j].count
		}
		return stats[i].name < stats[j].name
	})
	return stats[0].name
}

// AssignProblemAssignee applies one assignee to every linked ticket. Manual mode
// validates the name against the roster; auto mode asks the allocator and falls
// back to DeriveProblemAssignee. Only tickets whose assignee changes are touched.
func (s *ProblemService) AssignProblemAssignee(ctx context.Context, problemID string, mode AssignMode, assignee string, actor events.Actor) (*AssignmentResult, error) {
	if mode != AssignModeAuto && mode != AssignModeManual {
		return nil, apperrors.NewValidationError("mode must be auto or manual", map[string]any{"mode": mode})
	}
	result := &AssignmentResult{}
	err := s.inTx(ctx, actor, func(ctx context.Context, uow *unitOfWork) error {
		*result = AssignmentResult{}
		p, err := uow.Problems().GetForUpdate(ctx, problemID)
		if err != nil {
			return problemLookupError(err, problemID)
		}
		tickets, err := s.linkedTickets(ctx, uow, problemID)
		if err != nil {
			return err
		}
		if len(tickets) == 0 {
			return apperrors.NewNoLinkedTickets(problemID)
		}

		var chosen string
		if mode == AssignModeManual {
			chosen, err = s.resolveManualAssignee(ctx, uow, assignee)
		} else {
			chosen, err = s.resolveAutoAssignee(ctx, p, tickets)
		}
		if err != nil {
			return err
		}

		var audit []*domain.TicketHistory
		for i := range tickets {
			t := &tickets[i]
			if t.Assignee == chosen {
				continue
			}
			old := t.Assignee
			t.Assignee = chosen
			t.ReassignmentCount++
			if t.FirstActionAt == nil {
				at := uow.at
				t.FirstActionAt = &at
			}
			if err := uow.Tickets().Save(ctx, t); err != nil {
				return err
			}
			audit = append(audit, uow.audit(t.ID, domain.ChangeTypeAssignee,
				map[string]any{"assignee": old},
				map[string]any{"assignee": chosen, "problem_id": problemID, "mode": mode}))
			result.UpdatedTickets++
		}
		if err := s.recordHistory(ctx, uow, audit...); err != nil {
			return err
		}
		result.Assignee = chosen
		uow.emit(events.EventProblemAssigned, p.ID, "", events.ProblemAssignedPayload{
			Assignee:       chosen,
			Mode:           string(mode),
			UpdatedTickets: result.UpdatedTickets,
		})
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("problem assignee applied",
		zap.String("problem_id", problemID),
		zap.String("mode", string(mode)),
		zap.String("assignee", result.Assignee),
		zap.Int("updated_tickets", result.UpdatedTickets))
	return result, nil
}

func (s *ProblemService) resolveManualAssignee(ctx context.Context, repos repository.Repositories, assignee string) (string, error) {
	name := strings.TrimSpace(assignee)
	if name == "" {
		return "", apperrors.NewAssigneeRequired(apperrors.ReasonAssigneeRequired, "assignee is required in manual mode")
	}
	roster, err := s.assignableStaff(ctx, repos)
	if err != nil {
		return "", err
	}
	for _, m := range roster {
		if strings.EqualFold(m.Name, name) {
			return m.Name, nil
		}
	}
	return "", apperrors.NewAssigneeNotAssignable(name)
}

func (s *ProblemService) resolveAutoAssignee(ctx context.Context, p *domain.Problem, tickets []domain.Ticket) (string, error) {
	var chosen string
	if s.allocator != nil {
		name, err := s.allocator.SelectBestAssignee(ctx, p.Category, problemPriority(tickets))
		if err != nil {
			s.logger.Warn("allocator failed, deriving assignee from tickets",
				zap.String("problem_id", p.ID), zap.Error(err))
		} else {
			chosen = strings.TrimSpace(name)
		}
	}
	if chosen == "" {
		chosen = DeriveProblemAssignee(tickets)
	}
	if chosen == "" {
		return "", apperrors.NewAssigneeRequired(apperrors.ReasonNoAssigneeAvailable, "no assignee available")
	}
	return chosen, nil
}

func (s *ProblemService) assignableStaff(ctx context.Context, repos repository.Repositories) ([]domain.StaffMember, error) {
	if s.roster != nil {
		return s.roster.ListAssignable(ctx)
	}
	return repos.Staff().List(ctx, repository.StaffFilter{Active: ptrBool(true)})
}

// problemPriority is the highest priority among active linked tickets, medium
// when none is active.
func problemPriority(tickets []domain.Ticket) domain.TicketPriority {
	best := domain.TicketPriority("")
	for _, t := range tickets {
		if t.Status.IsActive() && t.Priority.Rank() > best.Rank() {
			best = t.Priority
		}
	}
	if best == "" {
		return domain.TicketPriorityMedium
	}
	return best
}
