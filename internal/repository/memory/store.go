// Package memory is an in-process repository.Store. Transactions are serialised
// and roll back by restoring a snapshot, which is enough for tests and dry runs.
// Reads outside a transaction may observe uncommitted writes.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/repository"
)

// Store implements repository.Store in memory.
type Store struct {
	// Now stamps created_at/updated_at; defaults to time.Now.
	Now func() time.Time

	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
	seq  atomic.Int64
}

type state struct {
	tickets  map[string]domain.Ticket
	problems map[string]domain.Problem
	recs     map[string]domain.Recommendation
	history  []domain.TicketHistory
	staff    map[string]domain.StaffMember
}

var _ repository.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Now: time.Now,
		st: &state{
			tickets:  map[string]domain.Ticket{},
			problems: map[string]domain.Problem{},
			recs:     map[string]domain.Recommendation{},
			staff:    map[string]domain.StaffMember{},
		},
	}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

// PutTicket inserts or replaces a ticket as the owning ticket subsystem would.
func (s *Store) PutTicket(t domain.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	s.st.tickets[t.ID] = cloneTicket(t)
}

// PutStaff inserts or replaces a roster entry.
func (s *Store) PutStaff(m domain.StaffMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Specialties = append([]domain.Category(nil), m.Specialties...)
	s.st.staff[m.ID] = m
}

// AllHistory returns every audit entry in insertion order.
func (s *Store) AllHistory() []domain.TicketHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TicketHistory(nil), s.st.history...)
}

// AllRecommendations returns every recommendation ordered by title.
func (s *Store) AllRecommendations() []domain.Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Recommendation, 0, len(s.st.recs))
	for _, r := range s.st.recs {
		out = append(out, cloneRec(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func (s *Store) Tickets() repository.TicketRepository                 { return ticketRepo{s} }
func (s *Store) Problems() repository.ProblemRepository               { return problemRepo{s} }
func (s *Store) Recommendations() repository.RecommendationRepository { return recRepo{s} }
func (s *Store) History() repository.TicketHistoryRepository          { return historyRepo{s} }
func (s *Store) Staff() repository.StaffRepository                    { return staffRepo{s} }

// WithinTx runs fn exclusively and restores the previous state when it fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.guarded(ctx, fn)
}

func (s *Store) guarded(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	snap := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(ctx, memTx{s})
}

type memTx struct {
	*Store
}

func (t memTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return t.guarded(ctx, fn)
}

func (s *Store) snapshot() *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := &state{
		tickets:  make(map[string]domain.Ticket, len(s.st.tickets)),
		problems: make(map[string]domain.Problem, len(s.st.problems)),
		recs:     make(map[string]domain.Recommendation, len(s.st.recs)),
		history:  append([]domain.TicketHistory(nil), s.st.history...),
		staff:    make(map[string]domain.StaffMember, len(s.st.staff)),
	}
	for k, v := range s.st.tickets {
		cp.tickets[k] = cloneTicket(v)
	}
	for k, v := range s.st.problems {
		cp.problems[k] = cloneProblem(v)
	}
	for k, v := range s.st.recs {
		cp.recs[k] = cloneRec(v)
	}
	for k, v := range s.st.staff {
		cp.staff[k] = v
	}
	return cp
}

func (s *Store) restore(snap *state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = snap
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	t = cloneTicket(t)
	return &t, nil
}

func (r ticketRepo) ListWithFilter(_ context.Context, f repository.TicketFilter) ([]domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.s.st.tickets {
		if !matchTicket(t, f) {
			continue
		}
		out = append(out, cloneTicket(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchTicket(t domain.Ticket, f repository.TicketFilter) bool {
	if f.Category != nil && t.Category != *f.Category {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if f.ProblemID != nil && !t.LinkedTo(*f.ProblemID) {
		return false
	}
	if f.Unlinked && t.ProblemID != nil {
		return false
	}
	if len(f.Assignees) > 0 && !containsString(f.Assignees, t.Assignee) {
		return false
	}
	if f.EventFrom != nil && t.EventTime().Before(*f.EventFrom) {
		return false
	}
	return true
}

func (r ticketRepo) Save(_ context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.tickets[t.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	cur.ProblemID = t.ProblemID
	cur.Assignee = t.Assignee
	cur.Status = t.Status
	cur.ResolutionComment = t.ResolutionComment
	cur.ReassignmentCount = t.ReassignmentCount
	cur.FirstActionAt = t.FirstActionAt
	cur.ResolvedAt = t.ResolvedAt
	cur.UpdatedAt = r.s.now()
	t.UpdatedAt = cur.UpdatedAt
	r.s.st.tickets[t.ID] = cloneTicket(cur)
	return nil
}

type problemRepo struct{ s *Store }

func (r problemRepo) NextID(context.Context) (string, error) {
	return repository.FormatProblemID(r.s.seq.Add(1)), nil
}

func (r problemRepo) Create(_ context.Context, p *domain.Problem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.problems[p.ID]; ok {
		return errDuplicate("problems_pkey")
	}
	for _, existing := range r.s.st.problems {
		if existing.SimilarityKey == p.SimilarityKey {
			return errDuplicate("problems_similarity_key_key")
		}
	}
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.st.problems[p.ID] = cloneProblem(*p)
	return nil
}

func (r problemRepo) Update(_ context.Context, p *domain.Problem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.problems[p.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	for id, existing := range r.s.st.problems {
		if id != p.ID && existing.SimilarityKey == p.SimilarityKey {
			return errDuplicate("problems_similarity_key_key")
		}
	}
	next := cloneProblem(*p)
	next.CreatedAt = cur.CreatedAt
	next.Category = cur.Category
	r.s.st.problems[p.ID] = next
	return nil
}

func (r problemRepo) GetByID(_ context.Context, id string) (*domain.Problem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.problems[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	p = cloneProblem(p)
	return &p, nil
}

// GetForUpdate needs no row lock: transactions are already exclusive.
func (r problemRepo) GetForUpdate(ctx context.Context, id string) (*domain.Problem, error) {
	return r.GetByID(ctx, id)
}

func (r problemRepo) GetByKey(_ context.Context, key string) (*domain.Problem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.st.problems {
		if p.SimilarityKey == key {
			p = cloneProblem(p)
			return &p, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r problemRepo) List(_ context.Context, f domain.ProblemFilter) ([]domain.Problem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Problem
	for _, p := range r.s.st.problems {
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if f.Category != nil && p.Category != *f.Category {
			continue
		}
		if f.ActiveOnly && p.Status.IsTerminal() {
			continue
		}
		out = append(out, cloneProblem(p))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastSeenAt, out[j].LastSeenAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r problemRepo) ListByCategory(_ context.Context, category domain.Category) ([]domain.Problem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Problem
	for _, p := range r.s.st.problems {
		if p.Category == category {
			out = append(out, cloneProblem(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r problemRepo) CountByStatus(context.Context) (map[domain.ProblemStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[domain.ProblemStatus]int{}
	for _, p := range r.s.st.problems {
		counts[p.Status]++
	}
	return counts, nil
}

type recRepo struct{ s *Store }

func (r recRepo) UpsertByTitle(_ context.Context, rec *domain.Recommendation) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	cur, exists := r.s.st.recs[rec.Title]
	if exists {
		rec.ID = cur.ID
		rec.CreatedAt = cur.CreatedAt
	} else {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	r.s.st.recs[rec.Title] = cloneRec(*rec)
	return !exists, nil
}

func (r recRepo) ListByProblem(_ context.Context, problemID string) ([]domain.Recommendation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Recommendation
	for _, rec := range r.s.st.recs {
		if rec.ProblemID != nil && *rec.ProblemID == problemID {
			out = append(out, cloneRec(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

type historyRepo struct{ s *Store }

func (r historyRepo) Append(_ context.Context, entries ...*domain.TicketHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, h := range entries {
		if _, ok := r.s.st.tickets[h.TicketID]; !ok {
			return pgx.ErrNoRows
		}
	}
	now := r.s.now()
	for _, h := range entries {
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		h.CreatedAt = now
		r.s.st.history = append(r.s.st.history, *h)
	}
	return nil
}

func (r historyRepo) List(_ context.Context, f repository.HistoryFilter) ([]domain.TicketHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.TicketHistory
	for _, h := range r.s.st.history {
		if f.TicketID != "" && h.TicketID != f.TicketID {
			continue
		}
		if len(f.ChangeTypes) > 0 && !containsChange(f.ChangeTypes, h.ChangeType) {
			continue
		}
		out = append(out, h)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func containsChange(types []domain.TicketChangeType, t domain.TicketChangeType) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}

type staffRepo struct{ s *Store }

func (r staffRepo) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.st.staff[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &m, nil
}

func (r staffRepo) GetByEmail(_ context.Context, email string) (*domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.st.staff {
		if strings.EqualFold(m.Email, email) {
			return &m, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r staffRepo) List(_ context.Context, f repository.StaffFilter) ([]domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.StaffMember
	for _, m := range r.s.st.staff {
		if f.Role != nil && m.Role != *f.Role {
			continue
		}
		if f.Active != nil && m.Active != *f.Active {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	t.Tags = append([]string(nil), t.Tags...)
	if t.ProblemID != nil {
		id := *t.ProblemID
		t.ProblemID = &id
	}
	return t
}

func cloneProblem(p domain.Problem) domain.Problem {
	if p.LastSeenAt != nil {
		ts := *p.LastSeenAt
		p.LastSeenAt = &ts
	}
	if p.ResolvedAt != nil {
		ts := *p.ResolvedAt
		p.ResolvedAt = &ts
	}
	return p
}

func cloneRec(r domain.Recommendation) domain.Recommendation {
	r.RelatedTickets = append([]string(nil), r.RelatedTickets...)
	if r.ProblemID != nil {
		id := *r.ProblemID
		r.ProblemID = &id
	}
	return r
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type duplicateError struct{ constraint string }

func (e duplicateError) Error() string {
	return "duplicate key value violates unique constraint \"" + e.constraint + "\""
}

func errDuplicate(constraint string) error { return duplicateError{constraint: constraint} }
