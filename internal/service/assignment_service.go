package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/repository"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

const rosterLimit = 1000

var activeTicketStatuses = []domain.TicketStatus{
	domain.TicketStatusOpen,
	domain.TicketStatusInProgress,
	domain.TicketStatusPending,
}

// AssignmentService is the roster and load balancer behind automatic problem
// assignment.
type AssignmentService struct {
	tickets repository.TicketRepository
	staff   repository.StaffRepository
	logger  *zap.Logger
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	TicketRepo repository.TicketRepository
	StaffRepo  repository.StaffRepository
	Logger     *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		tickets: deps.TicketRepo,
		staff:   deps.StaffRepo,
		logger:  logger,
	}
}

// ListAssignable returns active staff ordered by name.
func (s *AssignmentService) ListAssignable(ctx context.Context) ([]domain.StaffMember, error) {
	staff, err := s.staff.List(ctx, repository.StaffFilter{Active: ptrBool(true), Limit: rosterLimit})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return staff, nil
}

// SelectBestAssignee returns the least loaded eligible staff member for new
// work in category, or "" when nobody is rostered. Specialist-queue categories
// only consider specialists when any exist; balanced categories prefer them on
// equal load, and always for high and critical priority.
func (s *AssignmentService) SelectBestAssignee(ctx context.Context, category domain.Category, priority domain.TicketPriority) (string, error) {
	roster, err := s.ListAssignable(ctx)
	if err != nil {
		return "", err
	}
	if len(roster) == 0 {
		return "", nil
	}

	policy := PolicyFor(category)
	isSpecialist := func(m *domain.StaffMember) bool {
		for _, c := range policy.Specializations {
			if m.Specializes(c) {
				return true
			}
		}
		return false
	}
	var specialists []domain.StaffMember
	for i := range roster {
		if isSpecialist(&roster[i]) {
			specialists = append(specialists, roster[i])
		}
	}

	candidates := roster
	urgent := priority.Rank() >= domain.TicketPriorityHigh.Rank()
	if len(specialists) > 0 && (policy.Routing == RoutingSpecialist || urgent) {
		candidates = specialists
	}

	load, err := s.activeLoad(ctx, candidates)
	if err != nil {
		return "", err
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := &candidates[i], &candidates[j]
		if load[a.Name] != load[b.Name] {
			return load[a.Name] < load[b.Name]
		}
		if sa, sb := isSpecialist(a), isSpecialist(b); sa != sb {
			return sa
		}
		return a.Name < b.Name
	})
	chosen := candidates[0]
	s.logger.Debug("assignee selected",
		zap.String("category", string(category)),
		zap.String("priority", string(priority)),
		zap.String("assignee", chosen.Name),
		zap.Int("active_load", load[chosen.Name]))
	return chosen.Name, nil
}

// activeLoad counts active tickets per candidate name.
func (s *AssignmentService) activeLoad(ctx context.Context, candidates []domain.StaffMember) (map[string]int, error) {
	names := make([]string, 0, len(candidates))
	for _, m := range candidates {
		names = append(names, m.Name)
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		Assignees: names,
		Statuses:  activeTicketStatuses,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	load := make(map[string]int, len(names))
	for _, t := range tickets {
		load[t.Assignee]++
	}
	return load, nil
}

func ptrBool(v bool) *bool {
	return &v
}
