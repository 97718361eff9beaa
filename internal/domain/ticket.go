package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusWaiting    TicketStatus = "waiting"
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// IsActive reports whether the ticket still counts toward a problem's active load.
func (s TicketStatus) IsActive() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusPending:
		return true
	}
	return false
}

// IsTerminal reports whether the ticket has been resolved or closed.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "low"
	TicketPriorityMedium   TicketPriority = "medium"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityCritical TicketPriority = "critical"
)

// Rank orders priorities from low (1) to critical (4); unknown values rank 0.
func (p TicketPriority) Rank() int {
	switch p {
	case TicketPriorityLow:
		return 1
	case TicketPriorityMedium:
		return 2
	case TicketPriorityHigh:
		return 3
	case TicketPriorityCritical:
		return 4
	}
	return 0
}

// Ticket is the support request as seen by the problem engine. Only ProblemID,
// Assignee, Status and the audit counters are ever written back.
type Ticket struct {
	ID                string
	Title             string
	Description       string
	Category          Category
	Priority          TicketPriority
	Tags              []string
	Status            TicketStatus
	Assignee          string
	ProblemID         *string
	ResolutionComment string
	ReassignmentCount int
	FirstActionAt     *time.Time
	ResolvedAt        *time.Time
	JiraCreatedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EventTime is the Jira-origin creation time when present, else the local one.
func (t *Ticket) EventTime() time.Time {
	if t.JiraCreatedAt != nil && !t.JiraCreatedAt.IsZero() {
		return *t.JiraCreatedAt
	}
	return t.CreatedAt
}

// LinkedTo reports whether the ticket currently points at problemID.
func (t *Ticket) LinkedTo(problemID string) bool {
	return t.ProblemID != nil && *t.ProblemID == problemID
}
