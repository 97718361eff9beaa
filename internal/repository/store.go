package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx, so every
// repository runs unchanged inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// sendBatch runs b and its queued callbacks, reporting the first failure.
func sendBatch(ctx context.Context, db DBTX, b *pgx.Batch) error {
	return db.SendBatch(ctx, b).Close()
}

// Repositories groups the stores the problem engine reads and writes.
type Repositories interface {
	Tickets() TicketRepository
	Problems() ProblemRepository
	Recommendations() RecommendationRepository
	History() TicketHistoryRepository
	Staff() StaffRepository
}

// Tx is a unit of work. Everything done through it commits or rolls back together.
type Tx interface {
	Repositories
	// Savepoint runs fn in a nested transaction. An error from fn rolls back
	// only the nested work and is returned to the caller.
	Savepoint(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store hands out repositories for plain reads and transactions for mutations.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type repos struct {
	db DBTX
}

func (r repos) Tickets() TicketRepository                 { return &ticketRepository{db: r.db} }
func (r repos) Problems() ProblemRepository               { return &problemRepository{db: r.db} }
func (r repos) Recommendations() RecommendationRepository { return &recommendationRepository{db: r.db} }
func (r repos) History() TicketHistoryRepository          { return &ticketHistoryRepository{db: r.db} }
func (r repos) Staff() StaffRepository                    { return &staffRepository{db: r.db} }

// PgStore is the Postgres-backed Store.
type PgStore struct {
	repos
	pool *pgxpool.Pool
}

// NewStore builds a Store over pool.
func NewStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{repos: repos{db: pool}, pool: pool}
}

// WithinTx runs fn in a transaction, committing when it returns nil.
func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{repos: repos{db: tx}, tx: tx})
	})
}

type pgTx struct {
	repos
	tx pgx.Tx
}

func (t *pgTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, t.tx, func(nested pgx.Tx) error {
		return fn(ctx, &pgTx{repos: repos{db: nested}, tx: nested})
	})
}
