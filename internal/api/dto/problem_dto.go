package dto

import (
	"time"

	"github.com/spec-kit/problem-service/internal/domain"
)

// ProblemResponse is the wire form of a problem.
type ProblemResponse struct {
	ID               string               `json:"id"`
	Title            string               `json:"title"`
	Category         domain.Category      `json:"category"`
	Status           domain.ProblemStatus `json:"status"`
	SimilarityKey    string               `json:"similarity_key"`
	RootCause        string               `json:"root_cause"`
	Workaround       string               `json:"workaround"`
	PermanentFix     string               `json:"permanent_fix"`
	OccurrencesCount int                  `json:"occurrences_count"`
	ActiveCount      int                  `json:"active_count"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	LastSeenAt       *time.Time           `json:"last_seen_at"`
	ResolvedAt       *time.Time           `json:"resolved_at"`
}

// ProblemDetailResponse adds the linked tickets.
type ProblemDetailResponse struct {
	ProblemResponse
	Tickets           []TicketSummary `json:"tickets"`
	SuggestedAssignee string          `json:"suggested_assignee,omitempty"`
}

// TicketSummary is a linked ticket as shown on a problem.
type TicketSummary struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Category  domain.Category       `json:"category"`
	Priority  domain.TicketPriority `json:"priority"`
	Status    domain.TicketStatus   `json:"status"`
	Assignee  string                `json:"assignee"`
	Tags      []string              `json:"tags"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// RecommendationResponse payload.
type RecommendationResponse struct {
	ID             string                    `json:"id"`
	Type           domain.RecommendationType `json:"type"`
	Title          string                    `json:"title"`
	Description    string                    `json:"description"`
	RelatedTickets []string                  `json:"related_tickets"`
	Impact         domain.Impact             `json:"impact"`
	Confidence     int                       `json:"confidence"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// UpdateProblemRequest is a partial update; omitted fields are unchanged.
type UpdateProblemRequest struct {
	Title             *string               `json:"title"`
	Status            *domain.ProblemStatus `json:"status"`
	RootCause         *string               `json:"root_cause"`
	Workaround        *string               `json:"workaround"`
	PermanentFix      *string               `json:"permanent_fix"`
	ResolutionComment string                `json:"resolution_comment"`
}

// DetectProblemsRequest overrides the configured sweep window and min count.
type DetectProblemsRequest struct {
	WindowDays *int `json:"window_days"`
	MinCount   *int `json:"min_count"`
}

// AssignProblemRequest payload.
type AssignProblemRequest struct {
	Mode     string `json:"mode"`
	Assignee string `json:"assignee"`
}

// ResolveTicketsRequest payload.
type ResolveTicketsRequest struct {
	ResolutionComment string `json:"resolution_comment"`
}

// ProblemFromDomain maps a problem.
func ProblemFromDomain(p *domain.Problem) ProblemResponse {
	return ProblemResponse{
		ID:               p.ID,
		Title:            p.Title,
		Category:         p.Category,
		Status:           p.Status,
		SimilarityKey:    p.SimilarityKey,
		RootCause:        p.RootCause,
		Workaround:       p.Workaround,
		PermanentFix:     p.PermanentFix,
		OccurrencesCount: p.OccurrencesCount,
		ActiveCount:      p.ActiveCount,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		LastSeenAt:       p.LastSeenAt,
		ResolvedAt:       p.ResolvedAt,
	}
}

// TicketFromDomain maps a ticket.
func TicketFromDomain(t *domain.Ticket) TicketSummary {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return TicketSummary{
		ID:        t.ID,
		Title:     t.Title,
		Category:  t.Category,
		Priority:  t.Priority,
		Status:    t.Status,
		Assignee:  t.Assignee,
		Tags:      tags,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// RecommendationFromDomain maps a recommendation.
func RecommendationFromDomain(r *domain.Recommendation) RecommendationResponse {
	related := r.RelatedTickets
	if related == nil {
		related = []string{}
	}
	return RecommendationResponse{
		ID:             r.ID,
		Type:           r.Type,
		Title:          r.Title,
		Description:    r.Description,
		RelatedTickets: related,
		Impact:         r.Impact,
		Confidence:     r.Confidence,
		UpdatedAt:      r.UpdatedAt,
	}
}
