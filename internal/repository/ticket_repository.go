package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/problem-service/internal/domain"
)

// TicketFilter narrows ticket queries issued by the problem engine.
type TicketFilter struct {
	Category  *domain.Category
	Statuses  []domain.TicketStatus
	ProblemID *string
	Unlinked  bool
	Assignees []string
	// EventFrom bounds COALESCE(jira_created_at, created_at) from below.
	EventFrom *time.Time
	Limit     int
}

// TicketRepository is the narrow ticket surface the engine depends on. Results
// are ordered by updated_at descending, then id.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Save(ctx context.Context, ticket *domain.Ticket) error
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, title, description, category, priority, tags, status, assignee, problem_id,
       resolution_comment, reassignment_count, first_action_at, resolved_at, jira_created_at,
       created_at, updated_at`

// Save writes back the fields the engine owns.
func (r *ticketRepository) Save(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET problem_id=$1, assignee=$2, status=$3, resolution_comment=$4,
            reassignment_count=$5, first_action_at=$6, resolved_at=$7, updated_at=NOW()
        WHERE id=$8
        RETURNING updated_at`
	err := r.db.QueryRow(ctx, query,
		ticket.ProblemID,
		ticket.Assignee,
		ticket.Status,
		ticket.ResolutionComment,
		ticket.ReassignmentCount,
		ticket.FirstActionAt,
		ticket.ResolvedAt,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save ticket %s: %w", ticket.ID, err)
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.ProblemID != nil {
		args = append(args, *filter.ProblemID)
		clauses = append(clauses, fmt.Sprintf("problem_id=$%d", len(args)))
	}
	if filter.Unlinked {
		clauses = append(clauses, "problem_id IS NULL")
	}
	if len(filter.Assignees) > 0 {
		args = append(args, filter.Assignees)
		clauses = append(clauses, fmt.Sprintf("assignee = ANY($%d)", len(args)))
	}
	if filter.EventFrom != nil {
		args = append(args, *filter.EventFrom)
		clauses = append(clauses, fmt.Sprintf("COALESCE(jira_created_at, created_at) >= $%d", len(args)))
	}

	query := base + " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY updated_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Tags,
		&ticket.Status,
		&ticket.Assignee,
		&ticket.ProblemID,
		&ticket.ResolutionComment,
		&ticket.ReassignmentCount,
		&ticket.FirstActionAt,
		&ticket.ResolvedAt,
		&ticket.JiraCreatedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
