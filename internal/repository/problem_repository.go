package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/problem-service/internal/domain"
)

// ProblemRepository persists the problem aggregate.
type ProblemRepository interface {
	// NextID reserves the next sequential identifier (PB-0001, ...). Reserved
	// numbers are never handed out again, even when the caller rolls back.
	NextID(ctx context.Context) (string, error)
	Create(ctx context.Context, problem *domain.Problem) error
	Update(ctx context.Context, problem *domain.Problem) error
	GetByID(ctx context.Context, id string) (*domain.Problem, error)
	// GetForUpdate reads the row and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Problem, error)
	GetByKey(ctx context.Context, key string) (*domain.Problem, error)
	// List orders by last_seen_at descending, then id.
	List(ctx context.Context, filter domain.ProblemFilter) ([]domain.Problem, error)
	// ListByCategory orders by updated_at descending, then id.
	ListByCategory(ctx context.Context, category domain.Category) ([]domain.Problem, error)
	CountByStatus(ctx context.Context) (map[domain.ProblemStatus]int, error)
}

// FormatProblemID renders a sequence value as a problem identifier.
func FormatProblemID(seq int64) string {
	return fmt.Sprintf("PB-%04d", seq)
}

type problemRepository struct {
	db DBTX
}

// NewProblemRepository instantiates repository.
func NewProblemRepository(db DBTX) ProblemRepository {
	return &problemRepository{db: db}
}

const problemColumns = `id, title, category, status, similarity_key, root_cause, workaround, permanent_fix,
       occurrences_count, active_count, created_at, updated_at, last_seen_at, resolved_at`

func (r *problemRepository) NextID(ctx context.Context) (string, error) {
	var seq int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('problem_id_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("next problem id: %w", err)
	}
	return FormatProblemID(seq), nil
}

func (r *problemRepository) Create(ctx context.Context, problem *domain.Problem) error {
	const query = `
        INSERT INTO problems (id, title, category, status, similarity_key, root_cause, workaround, permanent_fix,
            occurrences_count, active_count, last_seen_at, resolved_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		problem.ID,
		problem.Title,
		problem.Category,
		problem.Status,
		problem.SimilarityKey,
		problem.RootCause,
		problem.Workaround,
		problem.PermanentFix,
		problem.OccurrencesCount,
		problem.ActiveCount,
		problem.LastSeenAt,
		problem.ResolvedAt,
	).Scan(&problem.CreatedAt, &problem.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create problem %s: %w", problem.ID, err)
	}
	return nil
}

// Update writes every mutable column. updated_at is taken from the aggregate so
// recomputation controls the clock.
func (r *problemRepository) Update(ctx context.Context, problem *domain.Problem) error {
	const query = `
        UPDATE problems SET title=$1, status=$2, similarity_key=$3, root_cause=$4, workaround=$5,
            permanent_fix=$6, occurrences_count=$7, active_count=$8, last_seen_at=$9, resolved_at=$10,
            updated_at=$11
        WHERE id=$12`
	cmd, err := r.db.Exec(ctx, query,
		problem.Title,
		problem.Status,
		problem.SimilarityKey,
		problem.RootCause,
		problem.Workaround,
		problem.PermanentFix,
		problem.OccurrencesCount,
		problem.ActiveCount,
		problem.LastSeenAt,
		problem.ResolvedAt,
		problem.UpdatedAt,
		problem.ID,
	)
	if err != nil {
		return fmt.Errorf("update problem %s: %w", problem.ID, err)
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *problemRepository) GetByID(ctx context.Context, id string) (*domain.Problem, error) {
	return scanProblem(r.db.QueryRow(ctx, `SELECT `+problemColumns+` FROM problems WHERE id=$1`, id))
}

func (r *problemRepository) GetForUpdate(ctx context.Context, id string) (*domain.Problem, error) {
	return scanProblem(r.db.QueryRow(ctx, `SELECT `+problemColumns+` FROM problems WHERE id=$1 FOR UPDATE`, id))
}

func (r *problemRepository) GetByKey(ctx context.Context, key string) (*domain.Problem, error) {
	return scanProblem(r.db.QueryRow(ctx, `SELECT `+problemColumns+` FROM problems WHERE similarity_key=$1`, key))
}

func (r *problemRepository) List(ctx context.Context, filter domain.ProblemFilter) ([]domain.Problem, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "status NOT IN ('resolved', 'closed')")
	}
	query := `SELECT ` + problemColumns + ` FROM problems WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY last_seen_at DESC NULLS LAST, id ASC`
	return r.query(ctx, query, args...)
}

func (r *problemRepository) ListByCategory(ctx context.Context, category domain.Category) ([]domain.Problem, error) {
	const query = `SELECT ` + problemColumns + ` FROM problems WHERE category=$1 ORDER BY updated_at DESC, id ASC`
	return r.query(ctx, query, category)
}

func (r *problemRepository) CountByStatus(ctx context.Context) (map[domain.ProblemStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM problems GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count problems: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ProblemStatus]int, len(domain.ProblemStatuses))
	for rows.Next() {
		var (
			status domain.ProblemStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *problemRepository) query(ctx context.Context, query string, args ...any) ([]domain.Problem, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	defer rows.Close()

	var result []domain.Problem
	for rows.Next() {
		problem, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *problem)
	}
	return result, rows.Err()
}

func scanProblem(row pgx.Row) (*domain.Problem, error) {
	var problem domain.Problem
	if err := row.Scan(
		&problem.ID,
		&problem.Title,
		&problem.Category,
		&problem.Status,
		&problem.SimilarityKey,
		&problem.RootCause,
		&problem.Workaround,
		&problem.PermanentFix,
		&problem.OccurrencesCount,
		&problem.ActiveCount,
		&problem.CreatedAt,
		&problem.UpdatedAt,
		&problem.LastSeenAt,
		&problem.ResolvedAt,
	); err != nil {
		return nil, err
	}
	return &problem, nil
}
