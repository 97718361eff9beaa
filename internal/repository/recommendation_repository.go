package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/spec-kit/problem-service/internal/domain"
)

// RecommendationRepository stores derived recommendations keyed by title.
type RecommendationRepository interface {
	// UpsertByTitle inserts rec or refreshes the row carrying the same title.
	// It reports whether a new row was created.
	UpsertByTitle(ctx context.Context, rec *domain.Recommendation) (bool, error)
	// ListByProblem orders by confidence descending, then title.
	ListByProblem(ctx context.Context, problemID string) ([]domain.Recommendation, error)
}

type recommendationRepository struct {
	db DBTX
}

// NewRecommendationRepository instantiates repository.
func NewRecommendationRepository(db DBTX) RecommendationRepository {
	return &recommendationRepository{db: db}
}

func (r *recommendationRepository) UpsertByTitle(ctx context.Context, rec *domain.Recommendation) (bool, error) {
	const query = `
        INSERT INTO recommendations (id, problem_id, type, title, description, related_tickets, impact, confidence)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (title) DO UPDATE SET
            problem_id=EXCLUDED.problem_id, type=EXCLUDED.type, description=EXCLUDED.description,
            related_tickets=EXCLUDED.related_tickets, impact=EXCLUDED.impact,
            confidence=EXCLUDED.confidence, updated_at=NOW()
        RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	related := rec.RelatedTickets
	if related == nil {
		related = []string{}
	}
	var inserted bool
	err := r.db.QueryRow(ctx, query,
		rec.ID,
		rec.ProblemID,
		rec.Type,
		rec.Title,
		rec.Description,
		related,
		rec.Impact,
		rec.Confidence,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert recommendation %q: %w", rec.Title, err)
	}
	return inserted, nil
}

func (r *recommendationRepository) ListByProblem(ctx context.Context, problemID string) ([]domain.Recommendation, error) {
	const query = `
        SELECT id, problem_id, type, title, description, related_tickets, impact, confidence, created_at, updated_at
        FROM recommendations WHERE problem_id=$1 ORDER BY confidence DESC, title ASC`
	rows, err := r.db.Query(ctx, query, problemID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var result []domain.Recommendation
	for rows.Next() {
		var rec domain.Recommendation
		if err := rows.Scan(
			&rec.ID,
			&rec.ProblemID,
			&rec.Type,
			&rec.Title,
			&rec.Description,
			&rec.RelatedTickets,
			&rec.Impact,
			&rec.Confidence,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
