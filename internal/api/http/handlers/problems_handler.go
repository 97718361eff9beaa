package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/problem-service/internal/api/dto"
	"github.com/spec-kit/problem-service/internal/auth"
	"github.com/spec-kit/problem-service/internal/config"
	"github.com/spec-kit/problem-service/internal/domain"
	"github.com/spec-kit/problem-service/internal/events"
	"github.com/spec-kit/problem-service/internal/service"
	apperrors "github.com/spec-kit/problem-service/pkg/util/errorutil"
)

// ProblemsHandler exposes problem management endpoints.
type ProblemsHandler struct {
	problems *service.ProblemService
	cfg      config.ProblemConfig
}

// NewProblemsHandler builds a handler. cfg supplies sweep defaults.
func NewProblemsHandler(problems *service.ProblemService, cfg config.ProblemConfig) *ProblemsHandler {
	return &ProblemsHandler{problems: problems, cfg: cfg}
}

// List handles GET /problems.
func (h *ProblemsHandler) List(c *fiber.Ctx) error {
	var filter domain.ProblemFilter
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := domain.ProblemStatus(strings.ToLower(raw))
		if !status.Valid() {
			return apperrors.NewValidationError("invalid status filter", map[string]any{"status": raw})
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("category")); raw != "" {
		category := domain.Category(strings.ToLower(raw))
		if !category.Valid() {
			return apperrors.NewValidationError("invalid category filter", map[string]any{"category": raw})
		}
		filter.Category = &category
	}
	filter.ActiveOnly = c.QueryBool("active_only", false)

	problems, err := h.problems.ListProblems(c.UserContext(), filter)
	if err != nil {
		return err
	}
	resp := make([]dto.ProblemResponse, 0, len(problems))
	for i := range problems {
		resp = append(resp, dto.ProblemFromDomain(&problems[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Analytics handles GET /problems/analytics.
func (h *ProblemsHandler) Analytics(c *fiber.Ctx) error {
	summary, err := h.problems.ProblemAnalyticsSummary(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Detect handles POST /problems/detect.
func (h *ProblemsHandler) Detect(c *fiber.Ctx) error {
	var req dto.DetectProblemsRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	windowDays, minCount := h.cfg.WindowDays, h.cfg.MinCount
	if req.WindowDays != nil {
		windowDays = *req.WindowDays
	}
	if req.MinCount != nil {
		minCount = *req.MinCount
	}

	result, err := h.problems.DetectProblems(c.UserContext(), windowDays, minCount)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// MatchTicket handles POST /problems/link-ticket/:ticketId.
func (h *ProblemsHandler) MatchTicket(c *fiber.Ctx) error {
	problem, err := h.problems.LinkTicketToProblem(c.UserContext(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	if problem == nil {
		return c.JSON(fiber.Map{"data": fiber.Map{"linked": false}})
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"linked": true, "problem": dto.ProblemFromDomain(problem)}})
}

// Get handles GET /problems/:id.
func (h *ProblemsHandler) Get(c *fiber.Ctx) error {
	ctx := c.UserContext()
	problem, err := h.problems.GetProblem(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	tickets, err := h.problems.GetProblemTickets(ctx, problem.ID)
	if err != nil {
		return err
	}

	resp := dto.ProblemDetailResponse{
		ProblemResponse:   dto.ProblemFromDomain(problem),
		Tickets:           make([]dto.TicketSummary, 0, len(tickets)),
		SuggestedAssignee: service.DeriveProblemAssignee(tickets),
	}
	for i := range tickets {
		resp.Tickets = append(resp.Tickets, dto.TicketFromDomain(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Update handles PATCH /problems/:id.
func (h *ProblemsHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateProblemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	patch := service.ProblemPatch{
		Title:             req.Title,
		Status:            req.Status,
		RootCause:         req.RootCause,
		Workaround:        req.Workaround,
		PermanentFix:      req.PermanentFix,
		ResolutionComment: req.ResolutionComment,
	}
	problem, err := h.problems.UpdateProblem(c.UserContext(), c.Params("id"), patch, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ProblemFromDomain(problem)})
}

// Recompute handles POST /problems/:id/recompute.
func (h *ProblemsHandler) Recompute(c *fiber.Ctx) error {
	problem, err := h.problems.RecomputeProblemStats(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ProblemFromDomain(problem)})
}

// Recommendations handles GET /problems/:id/recommendations.
func (h *ProblemsHandler) Recommendations(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if _, err := h.problems.GetProblem(ctx, c.Params("id")); err != nil {
		return err
	}
	recs, err := h.problems.ListRecommendations(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	resp := make([]dto.RecommendationResponse, 0, len(recs))
	for i := range recs {
		resp = append(resp, dto.RecommendationFromDomain(&recs[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Suggestions handles GET /problems/:id/ai-suggestions.
func (h *ProblemsHandler) Suggestions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.cfg.SuggestionLimit)
	if limit <= 0 {
		return apperrors.NewValidationError("limit must be positive", map[string]any{"limit": limit})
	}
	set, err := h.problems.BuildProblemAISuggestions(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": set})
}

// Assign handles POST /problems/:id/assignee.
func (h *ProblemsHandler) Assign(c *fiber.Ctx) error {
	var req dto.AssignProblemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	mode := service.AssignMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if mode == "" {
		mode = service.AssignModeAuto
	}

	result, err := h.problems.AssignProblemAssignee(c.UserContext(), c.Params("id"), mode, req.Assignee, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// ResolveTickets handles POST /problems/:id/resolve-tickets.
func (h *ProblemsHandler) ResolveTickets(c *fiber.Ctx) error {
	var req dto.ResolveTicketsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	updated, err := h.problems.ResolveLinkedTickets(c.UserContext(), c.Params("id"), actorOf(c), req.ResolutionComment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"updated_tickets": updated}})
}

// AttachTicket handles POST /problems/:id/tickets/:ticketId.
func (h *ProblemsHandler) AttachTicket(c *fiber.Ctx) error {
	problem, err := h.problems.LinkTicket(c.UserContext(), c.Params("id"), c.Params("ticketId"), actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ProblemFromDomain(problem)})
}

// DetachTicket handles DELETE /problems/:id/tickets/:ticketId.
func (h *ProblemsHandler) DetachTicket(c *fiber.Ctx) error {
	removed, err := h.problems.UnlinkTicket(c.UserContext(), c.Params("id"), c.Params("ticketId"), actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"unlinked": removed}})
}

func actorOf(c *fiber.Ctx) events.Actor {
	principal, _ := auth.PrincipalFromContext(c)
	return principal.Actor()
}
