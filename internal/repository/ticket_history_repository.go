package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/problem-service/internal/domain"
)

// TicketHistoryRepository stores the ticket audit trail. Entries are never updated.
type TicketHistoryRepository interface {
	// Append writes entries in order and stamps their IDs and CreatedAt.
	Append(ctx context.Context, entries ...*domain.TicketHistory) error
	// List returns matching entries, oldest first.
	List(ctx context.Context, filter HistoryFilter) ([]domain.TicketHistory, error)
}

// HistoryFilter narrows audit listings. Empty fields match everything.
type HistoryFilter struct {
	TicketID    string
	ChangeTypes []domain.TicketChangeType
	Limit       int
}

type ticketHistoryRepository struct {
	db DBTX
}

const insertHistory = `
        INSERT INTO ticket_history (id, ticket_id, changed_by_type, changed_by, change_type, old_value, new_value)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at`

func (r *ticketHistoryRepository) Append(ctx context.Context, entries ...*domain.TicketHistory) error {
	switch len(entries) {
	case 0:
		return nil
	case 1:
		e := entries[0]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if err := r.db.QueryRow(ctx, insertHistory, historyArgs(e)...).Scan(&e.CreatedAt); err != nil {
			return fmt.Errorf("record history for ticket %s: %w", e.TicketID, err)
		}
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		batch.Queue(insertHistory, historyArgs(e)...).QueryRow(func(row pgx.Row) error {
			if err := row.Scan(&e.CreatedAt); err != nil {
				return fmt.Errorf("record history for ticket %s: %w", e.TicketID, err)
			}
			return nil
		})
	}
	return sendBatch(ctx, r.db, batch)
}

func historyArgs(e *domain.TicketHistory) []any {
	return []any{e.ID, e.TicketID, e.ChangedByType, e.ChangedBy, e.ChangeType, e.OldValue, e.NewValue}
}

func (r *ticketHistoryRepository) List(ctx context.Context, filter HistoryFilter) ([]domain.TicketHistory, error) {
	var (
		conds []string
		args  []any
	)
	if filter.TicketID != "" {
		args = append(args, filter.TicketID)
		conds = append(conds, fmt.Sprintf("ticket_id = $%d", len(args)))
	}
	if len(filter.ChangeTypes) > 0 {
		types := make([]string, 0, len(filter.ChangeTypes))
		for _, t := range filter.ChangeTypes {
			types = append(types, string(t))
		}
		args = append(args, types)
		conds = append(conds, fmt.Sprintf("change_type = ANY($%d)", len(args)))
	}

	query := `
        SELECT id, ticket_id, changed_by_type, changed_by, change_type, old_value, new_value, created_at
        FROM ticket_history`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TicketHistory, error) {
		var h domain.TicketHistory
		err := row.Scan(&h.ID, &h.TicketID, &h.ChangedByType, &h.ChangedBy, &h.ChangeType, &h.OldValue, &h.NewValue, &h.CreatedAt)
		return h, err
	})
}
