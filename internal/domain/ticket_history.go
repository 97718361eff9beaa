package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeStatus        TicketChangeType = "STATUS_CHANGE"
	ChangeTypeAssignee      TicketChangeType = "ASSIGNEE_CHANGE"
	ChangeTypeProblemLink   TicketChangeType = "PROBLEM_LINK"
	ChangeTypeProblemUnlink TicketChangeType = "PROBLEM_UNLINK"
)

// ActorType distinguishes staff-initiated changes from engine-initiated ones.
type ActorType string

const (
	ActorTypeStaff  ActorType = "STAFF"
	ActorTypeSystem ActorType = "SYSTEM"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByType ActorType
	ChangedBy     *string
	ChangeType    TicketChangeType
	OldValue      map[string]any
	NewValue      map[string]any
	CreatedAt     time.Time
}
