package domain

import "time"

// Category is the ticket/problem classification shared by both aggregates.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryNetwork        Category = "network"
	CategorySecurity       Category = "security"
	CategoryApplication    Category = "application"
	CategoryHardware       Category = "hardware"
	CategoryEmail          Category = "email"
	CategoryServiceRequest Category = "service_request"
	CategoryOther          Category = "other"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryInfrastructure,
	CategoryNetwork,
	CategorySecurity,
	CategoryApplication,
	CategoryHardware,
	CategoryEmail,
	CategoryServiceRequest,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ProblemStatus enumerates the problem lifecycle.
type ProblemStatus string

const (
	ProblemStatusOpen          ProblemStatus = "open"
	ProblemStatusInvestigating ProblemStatus = "investigating"
	ProblemStatusKnownError    ProblemStatus = "known_error"
	ProblemStatusResolved      ProblemStatus = "resolved"
	ProblemStatusClosed        ProblemStatus = "closed"
)

// ProblemStatuses lists the lifecycle states in display order.
var ProblemStatuses = []ProblemStatus{
	ProblemStatusOpen,
	ProblemStatusInvestigating,
	ProblemStatusKnownError,
	ProblemStatusResolved,
	ProblemStatusClosed,
}

// Valid reports whether s is a known problem status.
func (s ProblemStatus) Valid() bool {
	for _, known := range ProblemStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the problem is resolved or closed.
func (s ProblemStatus) IsTerminal() bool {
	return s == ProblemStatusResolved || s == ProblemStatusClosed
}

// Problem is the aggregate root for a recurring incident pattern.
//
// OccurrencesCount and ActiveCount are derived from linked tickets and are only
// written by stats recomputation. ResolvedAt is set iff Status is resolved.
type Problem struct {
	ID               string
	Title            string
	Category         Category
	Status           ProblemStatus
	SimilarityKey    string
	RootCause        string
	Workaround       string
	PermanentFix     string
	OccurrencesCount int
	ActiveCount      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastSeenAt       *time.Time
	ResolvedAt       *time.Time
}

// HasSolution reports whether a workaround or permanent fix is recorded.
func (p *Problem) HasSolution() bool {
	return p.Workaround != "" || p.PermanentFix != ""
}

// ProblemFilter narrows problem listings.
type ProblemFilter struct {
	Status     *ProblemStatus
	Category   *Category
	ActiveOnly bool
}
