package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/repository"
)

const (
	patternConfidence     = 90
	workflowConfidence    = 80
	fixConfidence         = 88
	workaroundConfidence  = 72
	highImpactOccurrences = 5
	solutionSummaryRunes  = 220
)

// emitRecommendations upserts the problem's recommendations in a savepoint.
// Failures are logged and never unwind the caller's mutation.
func (s *ProblemService) emitRecommendations(ctx context.Context, uow *unitOfWork, p *domain.Problem, created bool) {
	err := uow.Savepoint(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := s.upsertRecommendations(ctx, tx, p, created)
		return err
	})
	if err != nil {
		s.logger.Warn("recommendation emission failed", zap.String("problem_id", p.ID), zap.Error(err))
	}
}

// upsertRecommendations writes pattern and workflow rows for new problems and a
// solution row whenever a workaround or permanent fix exists. Titles embed the
// problem ID and act as the dedup key. It returns how many rows were created.
func (s *ProblemService) upsertRecommendations(ctx context.Context, repos repository.Repositories, p *domain.Problem, created bool) (int, error) {
	recs := buildRecommendations(p, created)
	if len(recs) == 0 {
		return 0, nil
	}
	tickets, err := repos.Tickets().ListWithFilter(ctx, repository.TicketFilter{ProblemID: &p.ID})
	if err != nil {
		return 0, err
	}
	related := make([]string, 0, len(tickets))
	for _, t := range tickets {
		related = append(related, t.ID)
	}
	sort.Strings(related)

	inserted := 0
	for i := range recs {
		recs[i].RelatedTickets = related
		isNew, err := repos.Recommendations().UpsertByTitle(ctx, &recs[i])
		if err != nil {
			return inserted, err
		}
		if isNew {
			inserted++
		}
	}
	return inserted, nil
}

func buildRecommendations(p *domain.Problem, created bool) []domain.Recommendation {
	policy := PolicyFor(p.Category)
	var out []domain.Recommendation

	if created {
		impact := domain.ImpactMedium
		if p.OccurrencesCount >= highImpactOccurrences {
			impact = domain.ImpactHigh
		}
		out = append(out,
			domain.Recommendation{
				ProblemID: strPtr(p.ID),
				Type:      domain.RecommendationPattern,
				Title:     fmt.Sprintf("%s: recurring %s pattern detected", p.ID, p.Category),
				Description: fmt.Sprintf("%d related incidents share the fingerprint %q. Track root cause analysis under %s instead of per ticket.",
					p.OccurrencesCount, p.SimilarityKey, p.ID),
				Impact:     impact,
				Confidence: patternConfidence,
			},
			domain.Recommendation{
				ProblemID:   strPtr(p.ID),
				Type:        domain.RecommendationWorkflow,
				Title:       fmt.Sprintf("%s: reinforce %s routing", p.ID, p.Category),
				Description: fmt.Sprintf("%s Routing: %s.", policy.Workflow, policy.Routing),
				Impact:      domain.ImpactMedium,
				Confidence:  workflowConfidence,
			},
		)
	}

	if p.HasSolution() {
		text, confidence := p.Workaround, workaroundConfidence
		if strings.TrimSpace(p.PermanentFix) != "" {
			text, confidence = p.PermanentFix, fixConfidence
		}
		out = append(out, domain.Recommendation{
			ProblemID:   strPtr(p.ID),
			Type:        domain.RecommendationSolution,
			Title:       fmt.Sprintf("%s: apply documented solution", p.ID),
			Description: truncateRunes(strings.TrimSpace(text), solutionSummaryRunes),
			Impact:      domain.ImpactHigh,
			Confidence:  confidence,
		})
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
