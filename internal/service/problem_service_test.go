package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/problem-service/internal/classifier"
	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/persistence"
	"github.com/spec-kit/problem-service/internal/repository/memory"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

type fixture struct {
	store *memory.Store
	svc   *ProblemService

	mu        sync.Mutex
	now       time.Time
	published []events.Event
}

func newFixture(t *testing.T, opts ...func(*ProblemDependencies)) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		now:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.store.Now = f.clock
	dispatcher := events.NewInMemoryDispatcher()
	for _, typ := range events.ProblemEventTypes {
		dispatcher.Subscribe(typ, func(_ context.Context, ev events.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.published = append(f.published, ev)
			return nil
		})
	}
	deps := ProblemDependencies{
		Store:      f.store,
		Dispatcher: dispatcher,
		Config: config.ProblemConfig{
			MatchThreshold:       0.45,
			WindowDays:           7,
			MinCount:             5,
			PromoteOnLink:        true,
			FingerprintWorkers:   2,
			AnalyticsTop:         5,
			SuggestionLimit:      5,
			RecentTicketsPerPeer: 8,
		},
		Now: f.clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc = NewProblemService(deps)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) eventsOf(typ events.EventType) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, ev := range f.published {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fixture) ticket(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	tk, err := f.store.Tickets().GetByID(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func (f *fixture) vpnTicket(id, site string, age time.Duration) domain.Ticket {
	return domain.Ticket{
		ID:        id,
		Title:     "VPN outage site " + site,
		Category:  domain.CategoryNetwork,
		Priority:  domain.TicketPriorityMedium,
		Tags:      []string{"vpn", "network"},
		Status:    domain.TicketStatusOpen,
		CreatedAt: f.clock().Add(-age),
	}
}

// seedVPN stores n VPN tickets T-1..T-n, created one hour apart.
func (f *fixture) seedVPN(n int) {
	for i := 1; i <= n; i++ {
		f.store.PutTicket(f.vpnTicket(fmt.Sprintf("T-%d", i), string(rune('A'+i-1)), time.Duration(n-i+1)*time.Hour))
	}
}

func (f *fixture) detectVPN(t *testing.T) *domain.Problem {
	t.Helper()
	f.seedVPN(5)
	res, err := f.svc.DetectProblems(context.Background(), 7, 5)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	p, err := f.svc.GetProblem(context.Background(), "PB-0001")
	require.NoError(t, err)
	return p
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var de *apperrors.DomainError
	require.True(t, errors.As(err, &de), "expected DomainError, got %v", err)
	return de.Reason()
}

func TestDetectProblemsCreatesVPNProblem(t *testing.T) {
	f := newFixture(t)
	f.seedVPN(5)

	res, err := f.svc.DetectProblems(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, DetectionResult{ProcessedGroups: 1, Created: 1, Updated: 0, Linked: 5}, *res)

	problems, err := f.svc.ListProblems(context.Background(), domain.ProblemFilter{})
	require.NoError(t, err)
	require.Len(t, problems, 1)
	p := problems[0]
	assert.Equal(t, "PB-0001", p.ID)
	assert.Equal(t, "network|tag:vpn", p.SimilarityKey)
	assert.Equal(t, "Recurring network incidents - vpn outage site", p.Title)
	assert.Equal(t, domain.ProblemStatusInvestigating, p.Status)
	assert.Equal(t, 5, p.OccurrencesCount)
	assert.Equal(t, 5, p.ActiveCount)
	require.NotNil(t, p.LastSeenAt)
	assert.True(t, p.LastSeenAt.Equal(f.clock().Add(-time.Hour)))

	for i := 1; i <= 5; i++ {
		assert.True(t, f.ticket(t, fmt.Sprintf("T-%d", i)).LinkedTo("PB-0001"))
	}
	assert.Len(t, f.eventsOf(events.EventProblemCreated), 1)
	assert.Len(t, f.eventsOf(events.EventProblemTicketLinked), 5)
}

func TestDetectProblemsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.detectVPN(t)

	f.advance(time.Minute)
	res, err := f.svc.DetectProblems(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedGroups)
	assert.Zero(t, res.Created)
	assert.Zero(t, res.Linked)
	assert.Zero(t, res.Updated)

	again, err := f.svc.GetProblem(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.SimilarityKey, again.SimilarityKey)
	assert.Equal(t, first.Status, again.Status)
	assert.Equal(t, first.OccurrencesCount, again.OccurrencesCount)
	assert.Equal(t, first.ActiveCount, again.ActiveCount)
	assert.Len(t, f.store.AllRecommendations(), 2)
}

func TestDetectProblemsThresholdBoundary(t *testing.T) {
	f := newFixture(t)
	f.seedVPN(4)
	// Outside the window: must not complete the group.
	f.store.PutTicket(f.vpnTicket("T-OLD", "Z", 10*24*time.Hour))

	res, err := f.svc.DetectProblems(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, DetectionResult{}, *res)
	problems, err := f.svc.ListProblems(context.Background(), domain.ProblemFilter{})
	require.NoError(t, err)
	assert.Empty(t, problems)

	f.store.PutTicket(f.vpnTicket("T-5", "E", 30*time.Minute))
	res, err = f.svc.DetectProblems(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 5, res.Linked)
	assert.Nil(t, f.ticket(t, "T-OLD").ProblemID)
}

func TestDetectProblemsValidatesArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DetectProblems(context.Background(), 0, 5)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.DetectProblems(context.Background(), 7, 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

type fakeLocker struct {
	err   error
	calls int
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (*persistence.Lock, error) {
	l.calls++
	return nil, l.err
}

func TestDetectProblemsSweepLock(t *testing.T) {
	held := &fakeLocker{err: persistence.ErrLockHeld}
	f := newFixture(t, func(d *ProblemDependencies) { d.Locker = held })
	f.seedVPN(5)
	_, err := f.svc.DetectProblems(context.Background(), 7, 5)
	require.ErrorIs(t, err, apperrors.ErrSweepInProgress)
	assert.Equal(t, 1, held.calls)

	disabled := &fakeLocker{err: persistence.ErrNotConfigured}
	f = newFixture(t, func(d *ProblemDependencies) { d.Locker = disabled })
	f.seedVPN(5)
	res, err := f.svc.DetectProblems(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestLinkTicketToProblemJoinsExistingProblem(t *testing.T) {
	f := newFixture(t)
	f.detectVPN(t)

	f.advance(time.Hour)
	f.store.PutTicket(f.vpnTicket("T-6", "F", 0))
	p, err := f.svc.LinkTicketToProblem(context.Background(), "T-6")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "PB-0001", p.ID)
	assert.Equal(t, 6, p.OccurrencesCount)
	assert.True(t, p.LastSeenAt.Equal(f.clock()))
	assert.True(t, f.ticket(t, "T-6").LinkedTo("PB-0001"))

	problems, err := f.svc.ListProblems(context.Background(), domain.ProblemFilter{})
	require.NoError(t, err)
	assert.Len(t, problems, 1)
}

func TestLinkTicketToProblemKeepsSimilarLink(t *testing.T) {
	f := newFixture(t)
	f.detectVPN(t)

	// Dropping the tags changes the fingerprint but not the wording.
	tk := f.ticket(t, "T-2")
	tk.Tags = nil
	f.store.PutTicket(*tk)

	p, err := f.svc.LinkTicketToProblem(context.Background(), "T-2")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "PB-0001", p.ID)
	assert.True(t, f.ticket(t, "T-2").LinkedTo("PB-0001"))
	assert.Empty(t, f.eventsOf(events.EventProblemTicketUnlink))
}

func TestLinkTicketToProblemDetachesEditedTicket(t *testing.T) {
	f := newFixture(t)
	f.detectVPN(t)

	tk := f.ticket(t, "T-1")
	tk.Title = "Printer toner empty"
	tk.Tags = nil
	f.store.PutTicket(*tk)

	p, err := f.svc.LinkTicketToProblem(context.Background(), "T-1")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, f.ticket(t, "T-1").ProblemID)

	problem, err := f.svc.GetProblem(context.Background(), "PB-0001")
	require.NoError(t, err)
	assert.Equal(t, 4, problem.OccurrencesCount)
	assert.Equal(t, 4, problem.ActiveCount)

	unlinked := f.eventsOf(events.EventProblemTicketUnlink)
	require.Len(t, unlinked, 1)
	assert.Equal(t, "T-1", unlinked[0].TicketID)
	assert.Equal(t, unlinkBelowThreshold, unlinked[0].Payload.(events.ProblemTicketUnlinkedPayload).Reason)

	var found bool
	for _, h := range f.store.AllHistory() {
		if h.TicketID == "T-1" && h.ChangeType == domain.ChangeTypeProblemUnlink {
			found = true
			assert.Equal(t, unlinkBelowThreshold, h.NewValue["reason"])
		}
	}
	assert.True(t, found)
}

func TestLinkTicketToProblemPromotesGroup(t *testing.T) {
	f := newFixture(t)
	f.seedVPN(4)

	p, err := f.svc.LinkTicketToProblem(context.Background(), "T-1")
	require.NoError(t, err)
	assert.Nil(t, p, "four tickets stay below the promotion threshold")

	f.store.PutTicket(f.vpnTicket("T-5", "E", 0))
	p, err = f.svc.LinkTicketToProblem(context.Background(), "T-5")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 5, p.OccurrencesCount)
	assert.Equal(t, "network|tag:vpn", p.SimilarityKey)
	assert.Len(t, f.store.AllRecommendations(), 2)
}

func TestLinkTicketToProblemWithoutPromotion(t *testing.T) {
	f := newFixture(t, func(d *ProblemDependencies) { d.Config.PromoteOnLink = false })
	f.seedVPN(5)

	p, err := f.svc.LinkTicketToProblem(context.Background(), "T-5")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, f.ticket(t, "T-5").ProblemID)
}

func TestLinkTicketToProblemUnknownTicket(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.LinkTicketToProblem(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRecomputeProblemStatsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.detectVPN(t)

	a, err := f.svc.RecomputeProblemStats(context.Background(), "PB-0001")
	require.NoError(t, err)
	f.advance(time.Minute)
	b, err := f.svc.RecomputeProblemStats(context.Background(), "PB-0001")
	require.NoError(t, err)

	assert.Equal(t, a.OccurrencesCount, b.OccurrencesCount)
	assert.Equal(t, a.ActiveCount, b.ActiveCount)
	assert.True(t, a.LastSeenAt.Equal(*b.LastSeenAt))
	assert.True(t, b.UpdatedAt.After(a.UpdatedAt))

	_, err = f.svc.RecomputeProblemStats(context.Background(), "PB-9999")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLastSeenNeverMovesBackward(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)
	lastSeen := *p.LastSeenAt
	actor := events.StaffActor("lead-1")

	for i := 1; i <= 5; i++ {
		removed, err := f.svc.UnlinkTicket(context.Background(), p.ID, fmt.Sprintf("T-%d", i), actor)
		require.NoError(t, err)
		assert.True(t, removed)
	}
	got, err := f.svc.GetProblem(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.OccurrencesCount)
	assert.Zero(t, got.ActiveCount)
	require.NotNil(t, got.LastSeenAt)
	assert.True(t, got.LastSeenAt.Equal(lastSeen))
}

func TestUpdateProblemResolutionGuard(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)
	actor := events.StaffActor("lead-1")
	resolved := domain.ProblemStatusResolved

	_, err := f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{Status: &resolved}, actor)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, apperrors.ReasonResolutionCommentRequired, reasonOf(t, err))

	_, err = f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{
		Status:            &resolved,
		RootCause:         strPtr("Concentrator firmware leak"),
		ResolutionComment: "fixed",
	}, actor)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, apperrors.ReasonResolutionRequiresRootCause, reasonOf(t, err))

	unchanged, err := f.svc.GetProblem(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, unchanged.RootCause, "rejected patch must not be applied")
	assert.Equal(t, domain.ProblemStatusInvestigating, unchanged.Status)

	f.advance(time.Hour)
	got, err := f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{
		Status:            &resolved,
		RootCause:         strPtr("Concentrator firmware leak"),
		PermanentFix:      strPtr("Upgrade concentrator firmware to 9.2"),
		ResolutionComment: "Firmware rolled out to all sites",
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, domain.ProblemStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(f.clock()))

	changed := f.eventsOf(events.EventProblemStatusChanged)
	require.NotEmpty(t, changed)
	last := changed[len(changed)-1].Payload.(events.ProblemStatusChangedPayload)
	assert.Equal(t, domain.ProblemStatusResolved, last.NewStatus)
	assert.Equal(t, "Firmware rolled out to all sites", last.ResolutionComment)

	knownError := domain.ProblemStatusKnownError
	got, err = f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{Status: &knownError}, actor)
	require.NoError(t, err)
	assert.Nil(t, got.ResolvedAt)

	closed := domain.ProblemStatusClosed
	_, err = f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{Status: &closed}, actor)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	got, err = f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{Status: &closed, ResolutionComment: "duplicate"}, actor)
	require.NoError(t, err)
	assert.Equal(t, domain.ProblemStatusClosed, got.Status)
	assert.Nil(t, got.ResolvedAt)
}

func TestUpdateProblemRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)
	bogus := domain.ProblemStatus("bogus")

	_, err := f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{Status: &bogus}, events.SystemActor())
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, apperrors.ReasonInvalidStatus, reasonOf(t, err))

	_, err = f.svc.UpdateProblem(context.Background(), "PB-9999", ProblemPatch{}, events.SystemActor())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRecommendationsAreDeduplicated(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)

	recs, err := f.svc.ListRecommendations(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.RecommendationPattern, recs[0].Type)
	assert.Equal(t, 90, recs[0].Confidence)
	assert.Equal(t, domain.ImpactHigh, recs[0].Impact)
	assert.Equal(t, []string{"T-1", "T-2", "T-3", "T-4", "T-5"}, recs[0].RelatedTickets)
	assert.Equal(t, domain.RecommendationWorkflow, recs[1].Type)
	assert.Equal(t, 80, recs[1].Confidence)

	actor := events.StaffActor("lead-1")
	_, err = f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{Workaround: strPtr("Use the backup tunnel")}, actor)
	require.NoError(t, err)
	recs, err = f.svc.ListRecommendations(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	_, err = f.svc.UpdateProblem(context.Background(), p.ID, ProblemPatch{PermanentFix: strPtr("Upgrade concentrator firmware")}, actor)
	require.NoError(t, err)
	recs, err = f.svc.ListRecommendations(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	var solution *domain.Recommendation
	for i := range recs {
		if recs[i].Type == domain.RecommendationSolution {
			solution = &recs[i]
		}
	}
	require.NotNil(t, solution)
	assert.Equal(t, 88, solution.Confidence)
	assert.Equal(t, "Upgrade concentrator firmware", solution.Description)
}

func TestBuildRecommendationsTruncatesSolution(t *testing.T) {
	long := ""
	for len(long) < 300 {
		long += "reinstall the agent "
	}
	recs := buildRecommendations(&domain.Problem{ID: "PB-0007", Category: domain.CategoryApplication, Workaround: long}, false)
	require.Len(t, recs, 1)
	assert.Equal(t, 72, recs[0].Confidence)
	assert.LessOrEqual(t, len([]rune(recs[0].Description)), 220)
	assert.Equal(t, "PB-0007: apply documented solution", recs[0].Title)
}

func TestLinkAndUnlinkTicket(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)
	actor := events.StaffActor("lead-1")

	f.store.PutTicket(domain.Ticket{ID: "T-HW", Title: "Printer jam", Category: domain.CategoryHardware, Status: domain.TicketStatusOpen})
	_, err := f.svc.LinkTicket(context.Background(), p.ID, "T-HW", actor)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, apperrors.ReasonCategoryMismatch, reasonOf(t, err))

	f.store.PutTicket(domain.Ticket{ID: "T-NET", Title: "Slow branch link", Category: domain.CategoryNetwork, Status: domain.TicketStatusWaiting})
	got, err := f.svc.LinkTicket(context.Background(), p.ID, "T-NET", actor)
	require.NoError(t, err)
	assert.Equal(t, 6, got.OccurrencesCount)
	assert.Equal(t, 5, got.ActiveCount, "waiting tickets are not active")

	again, err := f.svc.LinkTicket(context.Background(), p.ID, "T-NET", actor)
	require.NoError(t, err)
	assert.Equal(t, 6, again.OccurrencesCount)

	removed, err := f.svc.UnlinkTicket(context.Background(), p.ID, "T-NET", actor)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.svc.UnlinkTicket(context.Background(), p.ID, "T-NET", actor)
	require.NoError(t, err)
	assert.False(t, removed)

	var links, unlinks int
	for _, h := range f.store.AllHistory() {
		if h.TicketID != "T-NET" {
			continue
		}
		switch h.ChangeType {
		case domain.ChangeTypeProblemLink:
			links++
			assert.Equal(t, domain.ActorTypeStaff, h.ChangedByType)
		case domain.ChangeTypeProblemUnlink:
			unlinks++
		}
	}
	assert.Equal(t, 1, links)
	assert.Equal(t, 1, unlinks)
}

func TestLinkTicketMovesFromPreviousProblem(t *testing.T) {
	f := newFixture(t)
	f.detectVPN(t)
	ctx := context.Background()

	other := &domain.Problem{ID: "PB-0100", Title: "Branch link flaps", Category: domain.CategoryNetwork,
		Status: domain.ProblemStatusOpen, SimilarityKey: "network|kw:branch-link-flaps"}
	require.NoError(t, f.store.Problems().Create(ctx, other))

	moved, err := f.svc.LinkTicket(ctx, other.ID, "T-3", events.StaffActor("lead-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, moved.OccurrencesCount)

	prev, err := f.svc.GetProblem(ctx, "PB-0001")
	require.NoError(t, err)
	assert.Equal(t, 4, prev.OccurrencesCount)

	linked := f.eventsOf(events.EventProblemTicketLinked)
	last := linked[len(linked)-1].Payload.(events.ProblemTicketLinkedPayload)
	require.NotNil(t, last.PreviousProblemID)
	assert.Equal(t, "PB-0001", *last.PreviousProblemID)
}

func TestResolveLinkedTickets(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)
	actor := events.StaffActor("lead-1")

	_, err := f.svc.ResolveLinkedTickets(context.Background(), p.ID, actor, "  ")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, apperrors.ReasonResolutionCommentRequired, reasonOf(t, err))

	tk := f.ticket(t, "T-5")
	tk.Status = domain.TicketStatusClosed
	f.store.PutTicket(*tk)
	waiting := f.ticket(t, "T-4")
	waiting.Status = domain.TicketStatusWaiting
	f.store.PutTicket(*waiting)

	n, err := f.svc.ResolveLinkedTickets(context.Background(), p.ID, actor, "Firmware upgraded")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, domain.TicketStatusWaiting, f.ticket(t, "T-4").Status)
	assert.Empty(t, f.ticket(t, "T-4").ResolutionComment)

	t1 := f.ticket(t, "T-1")
	assert.Equal(t, domain.TicketStatusResolved, t1.Status)
	assert.Equal(t, "Firmware upgraded", t1.ResolutionComment)
	require.NotNil(t, t1.ResolvedAt)
	require.NotNil(t, t1.FirstActionAt)
	assert.Equal(t, domain.TicketStatusClosed, f.ticket(t, "T-5").Status)

	got, err := f.svc.GetProblem(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ActiveCount)
	assert.Equal(t, 5, got.OccurrencesCount)

	n, err = f.svc.ResolveLinkedTickets(context.Background(), p.ID, actor, "again")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListProblemsFilters(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)
	ctx := context.Background()

	resolved := domain.ProblemStatusResolved
	_, err := f.svc.UpdateProblem(ctx, p.ID, ProblemPatch{
		Status:            &resolved,
		RootCause:         strPtr("cause"),
		PermanentFix:      strPtr("fix"),
		ResolutionComment: "done",
	}, events.SystemActor())
	require.NoError(t, err)

	active, err := f.svc.ListProblems(ctx, domain.ProblemFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	byStatus, err := f.svc.ListProblems(ctx, domain.ProblemFilter{Status: &resolved})
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)

	hw := domain.CategoryHardware
	byCategory, err := f.svc.ListProblems(ctx, domain.ProblemFilter{Category: &hw})
	require.NoError(t, err)
	assert.Empty(t, byCategory)

	bogus := domain.Category("plumbing")
	_, err = f.svc.ListProblems(ctx, domain.ProblemFilter{Category: &bogus})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

type stubClassifier struct {
	result classifier.Result
	calls  int
}

func (s *stubClassifier) Name() string { return "stub" }

func (s *stubClassifier) Classify(ctx context.Context, _, _ string) classifier.Result {
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		return classifier.Unavailable()
	}
	return s.result
}

func TestBuildProblemAISuggestions(t *testing.T) {
	stub := &stubClassifier{result: classifier.Result{
		Available:       true,
		Recommendations: []string{"USE THE BACKUP TUNNEL", "Restart the VPN concentrator"},
	}}
	f := newFixture(t, func(d *ProblemDependencies) {
		d.Classifier = stub
		d.AITimeout = time.Second
	})
	p := f.detectVPN(t)
	ctx := context.Background()

	_, err := f.svc.UpdateProblem(ctx, p.ID, ProblemPatch{Workaround: strPtr("Use the backup tunnel")}, events.SystemActor())
	require.NoError(t, err)
	tk := f.ticket(t, "T-4")
	tk.Status = domain.TicketStatusResolved
	tk.ResolutionComment = "Rebooted the concentrator"
	f.store.PutTicket(*tk)

	set, err := f.svc.BuildProblemAISuggestions(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.True(t, set.ClassifierAvailable)
	assert.Equal(t, 1, stub.calls)

	policy := PolicyFor(domain.CategoryNetwork)
	assert.Equal(t, []Suggestion{
		{Text: "Use the backup tunnel", Source: SourceExisting, Confidence: 92},
		{Text: "Rebooted the concentrator", Source: SourceResolvedTicket, Confidence: 84},
		{Text: "Restart the VPN concentrator", Source: SourceAI, Confidence: 74},
		{Text: policy.PermanentFix, Source: SourceFallback, Confidence: 60},
		{Text: policy.WorkaroundHint, Source: SourceFallback, Confidence: 58},
	}, set.Suggestions)

	require.NotNil(t, set.Workaround)
	assert.Equal(t, SourceExisting, set.Workaround.Source)
	require.NotNil(t, set.RootCause)
	assert.Equal(t, "Rebooted the concentrator", set.RootCause.Text)
	assert.Equal(t, 86, set.RootCause.Confidence)

	limited, err := f.svc.BuildProblemAISuggestions(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited.Suggestions, 2)
}

func TestBuildProblemAISuggestionsWithoutClassifier(t *testing.T) {
	f := newFixture(t)
	p := f.detectVPN(t)

	set, err := f.svc.BuildProblemAISuggestions(context.Background(), p.ID, 10)
	require.NoError(t, err)
	assert.False(t, set.ClassifierAvailable)
	require.Len(t, set.Suggestions, 3)
	for _, s := range set.Suggestions {
		assert.Equal(t, SourceFallback, s.Source)
	}
	assert.Equal(t, 66, set.Suggestions[0].Confidence)
	require.NotNil(t, set.PermanentFix)
	assert.Equal(t, SourceFallback, set.PermanentFix.Source)
}

func TestProblemAnalyticsSummary(t *testing.T) {
	f := newFixture(t)
	f.detectVPN(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		f.store.PutTicket(domain.Ticket{
			ID:        fmt.Sprintf("H-%d", i),
			Title:     fmt.Sprintf("Printer jam floor %d", i),
			Category:  domain.CategoryHardware,
			Tags:      []string{"printer"},
			Status:    domain.TicketStatusResolved,
			CreatedAt: f.clock().Add(-time.Duration(i) * time.Hour),
		})
	}
	res, err := f.svc.DetectProblems(ctx, 7, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	summary, err := f.svc.ProblemAnalyticsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.ByStatus[domain.ProblemStatusInvestigating])
	assert.Zero(t, summary.ByStatus[domain.ProblemStatusClosed])
	assert.Len(t, summary.ByStatus, len(domain.ProblemStatuses))

	require.Len(t, summary.Top, 2)
	assert.Equal(t, "PB-0001", summary.Top[0].ID)
	assert.Equal(t, 5, summary.Top[0].Active)
	assert.Zero(t, summary.Top[1].Active)
	assert.Contains(t, summary.Top[0].Recommendation, "network|tag:vpn")
}
