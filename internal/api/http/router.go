package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/problem-service/internal/api/http/handlers"
	"github.com/spec-kit/problem-service/internal/auth"
	"github.com/spec-kit/problem-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Problems       *handlers.ProblemsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if reg := cfg.Metrics.Registry(); reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	problems := app.Group("/problems", cfg.AuthMiddleware.Handle, auth.RequireRole())
	manage := auth.RequireProblemManager()

	problems.Get("/", cfg.Problems.List)
	problems.Get("/analytics", cfg.Problems.Analytics)
	problems.Post("/detect", manage, cfg.Problems.Detect)
	problems.Post("/link-ticket/:ticketId", manage, cfg.Problems.MatchTicket)

	problems.Get("/:id", cfg.Problems.Get)
	problems.Patch("/:id", manage, cfg.Problems.Update)
	problems.Post("/:id/recompute", manage, cfg.Problems.Recompute)
	problems.Get("/:id/recommendations", cfg.Problems.Recommendations)
	problems.Get("/:id/ai-suggestions", cfg.Problems.Suggestions)
	problems.Post("/:id/assignee", manage, cfg.Problems.Assign)
	problems.Post("/:id/resolve-tickets", manage, cfg.Problems.ResolveTickets)
	problems.Post("/:id/tickets/:ticketId", manage, cfg.Problems.AttachTicket)
	problems.Delete("/:id/tickets/:ticketId", manage, cfg.Problems.DetachTicket)
}
