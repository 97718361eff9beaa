package domain

import "time"

// RecommendationType classifies an emitted remediation suggestion.
type RecommendationType string

const (
	RecommendationPattern  RecommendationType = "pattern"
	RecommendationWorkflow RecommendationType = "workflow"
	RecommendationSolution RecommendationType = "solution"
)

// Impact grades how much a recommendation matters.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Recommendation is a derived remediation hint. Title is the natural key: emitting
// the same title again refreshes the row instead of adding one.
type Recommendation struct {
	ID             string
	ProblemID      *string
	Type           RecommendationType
	Title          string
	Description    string
	RelatedTickets []string
	Impact         Impact
	Confidence     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
