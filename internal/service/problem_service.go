package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/classifier"
	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/observability"
	"github.com/spec-kit/problem-service/internal/persistence"
	"github.com/spec-kit/problem-service/internal/repository"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

const sweepLockKey = "problems:sweep"

// Allocator picks an assignee for new work in a category.
type Allocator interface {
	SelectBestAssignee(ctx context.Context, category domain.Category, priority domain.TicketPriority) (string, error)
}

// Roster lists staff that may own problem tickets.
type Roster interface {
	ListAssignable(ctx context.Context) ([]domain.StaffMember, error)
}

// SweepLocker serialises detection sweeps across processes.
type SweepLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*persistence.Lock, error)
}

// ProblemService groups recurring tickets into problems and manages their lifecycle.
type ProblemService struct {
	store      repository.Store
	classifier classifier.Classifier
	allocator  Allocator
	roster     Roster
	locker     SweepLocker
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.ProblemConfig
	aiTimeout  time.Duration
	now        func() time.Time
}

// ProblemDependencies bundles collaborators. Classifier, Allocator, Roster,
// Locker, Dispatcher and Metrics are optional.
type ProblemDependencies struct {
	Store      repository.Store
	Classifier classifier.Classifier
	Allocator  Allocator
	Roster     Roster
	Locker     SweepLocker
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Config     config.ProblemConfig
	AITimeout  time.Duration
	Now        func() time.Time
}

// NewProblemService creates the service.
func NewProblemService(deps ProblemDependencies) *ProblemService {
	s := &ProblemService{
		store:      deps.Store,
		classifier: deps.Classifier,
		allocator:  deps.Allocator,
		roster:     deps.Roster,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		cfg:        deps.Config,
		aiTimeout:  deps.AITimeout,
		now:        deps.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.classifier == nil {
		s.classifier = classifier.None{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.cfg.MatchThreshold <= 0 {
		s.cfg.MatchThreshold = 0.45
	}
	if s.cfg.WindowDays <= 0 {
		s.cfg.WindowDays = 7
	}
	if s.cfg.MinCount <= 0 {
		s.cfg.MinCount = 5
	}
	if s.cfg.RecentTicketsPerPeer <= 0 {
		s.cfg.RecentTicketsPerPeer = 8
	}
	if s.cfg.SuggestionLimit <= 0 {
		s.cfg.SuggestionLimit = 5
	}
	if s.cfg.AnalyticsTop <= 0 {
		s.cfg.AnalyticsTop = 5
	}
	return s
}

// unitOfWork is one transaction plus the events to publish and the counters to
// bump once it commits.
type unitOfWork struct {
	repository.Tx
	actor    events.Actor
	at       time.Time
	events   []events.Event
	onCommit []func()
}

// afterCommit defers fn until the transaction has committed; a rollback drops it.
func (u *unitOfWork) afterCommit(fn func()) {
	u.onCommit = append(u.onCommit, fn)
}

func (u *unitOfWork) emit(eventType events.EventType, problemID, ticketID string, payload interface{}) {
	ev := events.New(eventType, u.actor, u.at, payload)
	ev.ProblemID = problemID
	ev.TicketID = ticketID
	u.events = append(u.events, ev)
}

// inTx runs fn in one transaction; after commit it runs the deferred hooks and
// publishes the buffered events.
func (s *ProblemService) inTx(ctx context.Context, actor events.Actor, fn func(ctx context.Context, uow *unitOfWork) error) error {
	var committed *unitOfWork
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		uow := &unitOfWork{Tx: tx, actor: actor, at: s.now()}
		if err := fn(ctx, uow); err != nil {
			return err
		}
		committed = uow
		return nil
	})
	if err != nil {
		return err
	}
	for _, fn := range committed.onCommit {
		fn()
	}
	s.publish(ctx, committed.events)
	return nil
}

func (s *ProblemService) publish(ctx context.Context, evs []events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.PublishAll(ctx, evs); err != nil {
		s.logger.Warn("event handlers failed", zap.Int("events", len(evs)), zap.Error(err))
	}
}

func (u *unitOfWork) audit(ticketID string, change domain.TicketChangeType, oldValue, newValue map[string]any) *domain.TicketHistory {
	return &domain.TicketHistory{
		TicketID:      ticketID,
		ChangedByType: u.actor.Type,
		ChangedBy:     u.actor.StaffID,
		ChangeType:    change,
		OldValue:      oldValue,
		NewValue:      newValue,
	}
}

func (s *ProblemService) recordHistory(ctx context.Context, uow *unitOfWork, entries ...*domain.TicketHistory) error {
	if err := uow.History().Append(ctx, entries...); err != nil {
		return fmt.Errorf("record ticket history: %w", err)
	}
	return nil
}

// GetProblem returns one problem.
func (s *ProblemService) GetProblem(ctx context.Context, id string) (*domain.Problem, error) {
	p, err := s.store.Problems().GetByID(ctx, id)
	if err != nil {
		return nil, problemLookupError(err, id)
	}
	return p, nil
}

// GetProblemTickets returns the tickets linked to a problem, most recently updated first.
func (s *ProblemService) GetProblemTickets(ctx context.Context, id string) ([]domain.Ticket, error) {
	if _, err := s.GetProblem(ctx, id); err != nil {
		return nil, err
	}
	tickets, err := s.store.Tickets().ListWithFilter(ctx, repository.TicketFilter{ProblemID: &id})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListProblems lists problems ordered by last_seen_at descending. ActiveOnly
// keeps problems that are neither resolved nor closed.
func (s *ProblemService) ListProblems(ctx context.Context, filter domain.ProblemFilter) ([]domain.Problem, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError("unknown problem status", map[string]any{"status": *filter.Status})
	}
	if filter.Category != nil && !filter.Category.Valid() {
		return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": *filter.Category})
	}
	problems, err := s.store.Problems().List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return problems, nil
}

// ListRecommendations returns a problem's recommendations, most confident first.
func (s *ProblemService) ListRecommendations(ctx context.Context, problemID string) ([]domain.Recommendation, error) {
	if _, err := s.GetProblem(ctx, problemID); err != nil {
		return nil, err
	}
	recs, err := s.store.Recommendations().ListByProblem(ctx, problemID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return recs, nil
}

func problemLookupError(err error, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("problem", map[string]any{"problem_id": id})
	}
	return apperrors.MapError(err)
}

func ticketLookupError(err error, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return apperrors.MapError(err)
}

func strPtr(s string) *string { return &s }

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
