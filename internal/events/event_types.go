package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/problem-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

// Ticket lifecycle events, published by the ticket subsystem.
const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketTriageUpdated EventType = "ticket_triage_updated"
)

// Problem events, published by the problem engine after commit.
const (
	EventProblemCreated       EventType = "problem_created"
	EventProblemUpdated       EventType = "problem_updated"
	EventProblemStatusChanged EventType = "problem_status_changed"
	EventProblemTicketLinked  EventType = "problem_ticket_linked"
	EventProblemTicketUnlink  EventType = "problem_ticket_unlinked"
	EventProblemAssigned      EventType = "problem_assigned"
)

// TicketEventTypes lists the events that may change a ticket's problem link.
var TicketEventTypes = []EventType{EventTicketCreated, EventTicketStatusChanged, EventTicketTriageUpdated}

// ProblemEventTypes lists every event the problem engine emits.
var ProblemEventTypes = []EventType{
	EventProblemCreated,
	EventProblemUpdated,
	EventProblemStatusChanged,
	EventProblemTicketLinked,
	EventProblemTicketUnlink,
	EventProblemAssigned,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type    domain.ActorType `json:"type"`
	StaffID *string          `json:"staff_id,omitempty"`
}

// SystemActor marks changes made by the engine itself.
func SystemActor() Actor {
	return Actor{Type: domain.ActorTypeSystem}
}

// StaffActor marks changes made by a staff member.
func StaffActor(staffID string) Actor {
	return Actor{Type: domain.ActorTypeStaff, StaffID: &staffID}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	ProblemID string      `json:"problem_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with an ID and timestamp.
func New(eventType EventType, actor Actor, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Category domain.Category       `json:"category"`
	Priority domain.TicketPriority `json:"priority"`
	Title    string                `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketTriageUpdatedPayload payload.
type TicketTriageUpdatedPayload struct {
	OldCategory domain.Category       `json:"old_category"`
	NewCategory domain.Category       `json:"new_category"`
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
	TagsChanged bool                  `json:"tags_changed"`
}

// ProblemCreatedPayload payload.
type ProblemCreatedPayload struct {
	Title         string          `json:"title"`
	Category      domain.Category `json:"category"`
	SimilarityKey string          `json:"similarity_key"`
	Occurrences   int             `json:"occurrences"`
}

// ProblemUpdatedPayload payload.
type ProblemUpdatedPayload struct {
	Fields []string `json:"fields"`
}

// ProblemStatusChangedPayload payload.
type ProblemStatusChangedPayload struct {
	OldStatus         domain.ProblemStatus `json:"old_status"`
	NewStatus         domain.ProblemStatus `json:"new_status"`
	ResolutionComment string               `json:"resolution_comment,omitempty"`
}

// ProblemTicketLinkedPayload payload.
type ProblemTicketLinkedPayload struct {
	PreviousProblemID *string `json:"previous_problem_id,omitempty"`
	Score             float64 `json:"score"`
}

// ProblemTicketUnlinkedPayload payload.
type ProblemTicketUnlinkedPayload struct {
	Reason string `json:"reason"`
}

// ProblemAssignedPayload payload.
type ProblemAssignedPayload struct {
	Assignee       string `json:"assignee"`
	Mode           string `json:"mode"`
	UpdatedTickets int    `json:"updated_tickets"`
}
