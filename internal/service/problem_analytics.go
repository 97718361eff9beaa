package service

import (
	"context"
	"sort"
	"time"

	"github.com/spec-kit/problem-service/internal/domain"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

// ProblemHighlight is one row of the analytics top list.
type ProblemHighlight struct {
	ID             string               `json:"id"`
	Title          string               `json:"title"`
	Category       domain.Category      `json:"category"`
	Status         domain.ProblemStatus `json:"status"`
	Occurrences    int                  `json:"occurrences_count"`
	Active         int                  `json:"active_count"`
	LastSeenAt     *time.Time           `json:"last_seen_at,omitempty"`
	Recommendation string               `json:"recommendation,omitempty"`
}

// ProblemAnalytics summarises the problem backlog.
type ProblemAnalytics struct {
	Total    int                          `json:"total"`
	ByStatus map[domain.ProblemStatus]int `json:"by_status"`
	Top      []ProblemHighlight           `json:"top"`
}

// ProblemAnalyticsSummary counts problems per status and lists the problems
// with the most active tickets, each with its most confident recommendation.
func (s *ProblemService) ProblemAnalyticsSummary(ctx context.Context) (*ProblemAnalytics, error) {
	counts, err := s.store.Problems().CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	out := &ProblemAnalytics{ByStatus: make(map[domain.ProblemStatus]int, len(domain.ProblemStatuses))}
	for _, st := range domain.ProblemStatuses {
		out.ByStatus[st] = counts[st]
		out.Total += counts[st]
	}

	problems, err := s.store.Problems().List(ctx, domain.ProblemFilter{})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	sort.SliceStable(problems, func(i, j int) bool {
		a, b := problems[i], problems[j]
		if a.ActiveCount != b.ActiveCount {
			return a.ActiveCount > b.ActiveCount
		}
		if a.OccurrencesCount != b.OccurrencesCount {
			return a.OccurrencesCount > b.OccurrencesCount
		}
		if !sameTime(a.LastSeenAt, b.LastSeenAt) {
			return laterOrNil(a.LastSeenAt, b.LastSeenAt)
		}
		return a.ID < b.ID
	})
	if len(problems) > s.cfg.AnalyticsTop {
		problems = problems[:s.cfg.AnalyticsTop]
	}

	out.Top = make([]ProblemHighlight, 0, len(problems))
	for _, p := range problems {
		h := ProblemHighlight{
			ID:          p.ID,
			Title:       p.Title,
			Category:    p.Category,
			Status:      p.Status,
			Occurrences: p.OccurrencesCount,
			Active:      p.ActiveCount,
			LastSeenAt:  p.LastSeenAt,
		}
		recs, err := s.store.Recommendations().ListByProblem(ctx, p.ID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if len(recs) > 0 {
			h.Recommendation = recs[0].Description
		}
		out.Top = append(out.Top, h)
	}
	return out, nil
}

// laterOrNil orders a before b when a is later; nil sorts last.
func laterOrNil(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
