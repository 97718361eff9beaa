package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/persistence"
	"github.com/spec-kit/problem-service/internal/repository"
	"github.com/spec-kit/problem-service/internal/similarity"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

const problemTitleWords = 3

// DetectionResult summarises one sweep.
type DetectionResult struct {
	ProcessedGroups int `json:"processed_groups"`
	Created         int `json:"created"`
	Updated         int `json:"updated"`
	Linked          int `json:"linked"`
}

// upsertOutcome is what upsertProblem did to one problem.
type upsertOutcome struct {
	problem *domain.Problem
	created bool
	updated bool
	linked  int
}

// DetectProblems groups tickets whose event time falls in the trailing window by
// fingerprint and upserts a problem for every group of at least minCount
// tickets. Smaller groups are left alone. Re-running on unchanged tickets
// creates and links nothing.
func (s *ProblemService) DetectProblems(ctx context.Context, windowDays, minCount int) (*DetectionResult, error) {
	if windowDays <= 0 {
		return nil, apperrors.NewValidationError("window_days must be positive", map[string]any{"window_days": windowDays})
	}
	if minCount < 1 {
		return nil, apperrors.NewValidationError("min_count must be at least 1", map[string]any{"min_count": minCount})
	}

	lock, err := s.acquireSweepLock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release sweep lock", zap.Error(err))
		}
	}()

	started := time.Now()
	result := &DetectionResult{}
	err = s.inTx(ctx, events.SystemActor(), func(ctx context.Context, uow *unitOfWork) error {
		*result = DetectionResult{}
		from := uow.at.Add(-time.Duration(windowDays) * 24 * time.Hour)
		tickets, err := uow.Tickets().ListWithFilter(ctx, repository.TicketFilter{EventFrom: &from})
		if err != nil {
			return fmt.Errorf("load sweep tickets: %w", err)
		}

		inputs := make([]similarity.Input, len(tickets))
		for i := range tickets {
			inputs[i] = similarity.Input{
				Title:       tickets[i].Title,
				Category:    string(tickets[i].Category),
				Description: tickets[i].Description,
				Tags:        tickets[i].Tags,
			}
		}
		keys, err := similarity.Keys(ctx, inputs, s.cfg.FingerprintWorkers)
		if err != nil {
			return err
		}

		groups := make(map[string][]domain.Ticket)
		for i, key := range keys {
			groups[key] = append(groups[key], tickets[i])
		}
		ordered := make([]string, 0, len(groups))
		for key, members := range groups {
			if len(members) >= minCount {
				ordered = append(ordered, key)
			}
		}
		sort.Strings(ordered)
		reserved := make(map[string]struct{}, len(ordered))
		for _, key := range ordered {
			reserved[key] = struct{}{}
		}

		for _, key := range ordered {
			members := groups[key]
			sortByEventTime(members)
			out, err := s.upsertProblem(ctx, uow, key, members, reserved)
			if err != nil {
				return fmt.Errorf("upsert problem for %q: %w", key, err)
			}
			result.ProcessedGroups++
			if out.created {
				result.Created++
			} else if out.updated {
				result.Updated++
			}
			result.Linked += out.linked
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordSweep("error", 0, 0)
		return nil, apperrors.MapError(err)
	}

	s.metrics.RecordSweep("ok", result.ProcessedGroups, result.Created)
	s.metrics.RecordLinked(result.Linked)
	s.logger.Info("problem detection sweep finished",
		zap.Int("window_days", windowDays),
		zap.Int("min_count", minCount),
		zap.Int("processed_groups", result.ProcessedGroups),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("linked", result.Linked),
		zap.Duration("took", time.Since(started)))
	return result, nil
}

// acquireSweepLock returns a nil lock when no locker is configured or Redis is
// unreachable; sweeps then rely on row locks alone.
func (s *ProblemService) acquireSweepLock(ctx context.Context) (*persistence.Lock, error) {
	if s.locker == nil {
		return nil, nil
	}
	lock, err := s.locker.AcquireLock(ctx, sweepLockKey, s.cfg.SweepLockTTL())
	switch {
	case err == nil:
		return lock, nil
	case errors.Is(err, persistence.ErrLockHeld):
		s.metrics.RecordSweep("locked", 0, 0)
		return nil, apperrors.NewSweepInProgress()
	case errors.Is(err, persistence.ErrNotConfigured):
		return nil, nil
	default:
		s.logger.Warn("sweep lock unavailable, continuing without it", zap.Error(err))
		return nil, nil
	}
}

// upsertProblem attaches a fingerprint group to its problem, creating one when
// none exists. tickets must share one category and be ordered by event time.
// reserved holds the group keys of the same pass; problems keyed by one of
// them are never taken over by the tag fallback.
func (s *ProblemService) upsertProblem(ctx context.Context, uow *unitOfWork, key string, tickets []domain.Ticket, reserved map[string]struct{}) (upsertOutcome, error) {
	var out upsertOutcome
	if len(tickets) == 0 {
		return out, fmt.Errorf("empty ticket group for %q", key)
	}
	category := tickets[0].Category

	existing, err := s.findProblemForKey(ctx, uow, key, category, reserved)
	if err != nil {
		return out, err
	}

	var p *domain.Problem
	var changed []string
	before := 0
	if existing == nil {
		p, err = s.createProblem(ctx, uow, key, category, tickets)
		if err != nil {
			return out, err
		}
		out.created = true
	} else {
		p, err = uow.Problems().GetForUpdate(ctx, existing.ID)
		if err != nil {
			return out, err
		}
		before = p.OccurrencesCount
		if p.SimilarityKey != key {
			migrated, err := s.migrateKey(ctx, uow, p, key)
			if err != nil {
				return out, err
			}
			if migrated {
				changed = append(changed, "similarity_key")
			}
		}
		if p.Status == domain.ProblemStatusOpen {
			p.Status = domain.ProblemStatusInvestigating
			changed = append(changed, "status")
			uow.emit(events.EventProblemStatusChanged, p.ID, "", events.ProblemStatusChangedPayload{
				OldStatus: domain.ProblemStatusOpen,
				NewStatus: domain.ProblemStatusInvestigating,
			})
		}
	}

	attached := 0
	for i := range tickets {
		t := tickets[i]
		ok, err := s.attachTicket(ctx, uow, &t, p, 1.0)
		if err != nil {
			return out, err
		}
		if ok {
			attached++
		}
	}
	if attached > 0 {
		changed = append(changed, "tickets")
	}

	statsChanged, err := s.applyStats(ctx, uow, p)
	if err != nil {
		return out, err
	}
	if statsChanged && !out.created {
		changed = append(changed, "stats")
	}
	s.emitRecommendations(ctx, uow, p, out.created)

	if out.created {
		uow.emit(events.EventProblemCreated, p.ID, "", events.ProblemCreatedPayload{
			Title:         p.Title,
			Category:      p.Category,
			SimilarityKey: p.SimilarityKey,
			Occurrences:   p.OccurrencesCount,
		})
	} else if len(changed) > 0 {
		uow.emit(events.EventProblemUpdated, p.ID, "", events.ProblemUpdatedPayload{Fields: changed})
	}

	out.problem = p
	out.updated = out.created || len(changed) > 0
	out.linked = max(0, p.OccurrencesCount-before)
	return out, nil
}

// findProblemForKey looks a problem up by exact fingerprint. For tag keys it
// falls back to the most recently updated keyword-keyed problem of the category
// whose title or fingerprint already mentions the tag. A candidate whose key is
// still live, either reserved by the current pass or carried by one of its own
// linked tickets, is left alone so two clusters never share a problem.
func (s *ProblemService) findProblemForKey(ctx context.Context, repos repository.Repositories, key string, category domain.Category, reserved map[string]struct{}) (*domain.Problem, error) {
	p, err := repos.Problems().GetByKey(ctx, key)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	tag, ok := similarity.PrimaryTagFromKey(key)
	if !ok {
		return nil, nil
	}
	candidates, err := repos.Problems().ListByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		c := &candidates[i]
		if _, tagged := similarity.PrimaryTagFromKey(c.SimilarityKey); tagged {
			continue
		}
		if _, live := reserved[c.SimilarityKey]; live {
			continue
		}
		if !similarity.TokenSet(c.Title).Has(tag) && !similarity.KeyTokens(c.SimilarityKey).Has(tag) {
			continue
		}
		live, err := s.keyStillCarried(ctx, repos, c)
		if err != nil {
			return nil, err
		}
		if live {
			continue
		}
		return c, nil
	}
	return nil, nil
}

// keyStillCarried reports whether any ticket linked to p still fingerprints to
// p's current key.
func (s *ProblemService) keyStillCarried(ctx context.Context, repos repository.Repositories, p *domain.Problem) (bool, error) {
	id := p.ID
	linked, err := repos.Tickets().ListWithFilter(ctx, repository.TicketFilter{ProblemID: &id})
	if err != nil {
		return false, fmt.Errorf("load tickets of %s: %w", p.ID, err)
	}
	for i := range linked {
		if ticketKey(&linked[i]) == p.SimilarityKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *ProblemService) createProblem(ctx context.Context, uow *unitOfWork, key string, category domain.Category, tickets []domain.Ticket) (*domain.Problem, error) {
	id, err := uow.Problems().NextID(ctx)
	if err != nil {
		return nil, err
	}
	titles := make([]string, len(tickets))
	lastSeen := tickets[0].EventTime()
	for i := range tickets {
		titles[i] = tickets[i].Title
		if ts := tickets[i].EventTime(); ts.After(lastSeen) {
			lastSeen = ts
		}
	}
	words := similarity.TopTokens(problemTitleWords, titles...)
	if len(words) == 0 {
		words = []string{"generic"}
	}
	p := &domain.Problem{
		ID:            id,
		Title:         fmt.Sprintf("Recurring %s incidents - %s", category, strings.Join(words, " ")),
		Category:      category,
		Status:        domain.ProblemStatusInvestigating,
		SimilarityKey: key,
		LastSeenAt:    &lastSeen,
	}
	if err := uow.Problems().Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create problem %s: %w", id, err)
	}
	s.logger.Info("problem created",
		zap.String("problem_id", p.ID),
		zap.String("similarity_key", key),
		zap.Int("tickets", len(tickets)))
	return p, nil
}

// migrateKey moves p onto key unless another problem already owns it.
func (s *ProblemService) migrateKey(ctx context.Context, repos repository.Repositories, p *domain.Problem, key string) (bool, error) {
	owner, err := repos.Problems().GetByKey(ctx, key)
	switch {
	case err == nil:
		s.logger.Info("similarity key migration refused",
			zap.String("problem_id", p.ID), zap.String("key", key), zap.String("owner_id", owner.ID))
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, err
	}
	s.logger.Info("similarity key migrated",
		zap.String("problem_id", p.ID), zap.String("from", p.SimilarityKey), zap.String("to", key))
	p.SimilarityKey = key
	return true, nil
}
