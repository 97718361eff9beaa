package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/problem-service/internal/persistence"
)

// Pinger is a dependency readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	postgres    Pinger
	redis       Pinger
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, postgres, redis Pinger) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, postgres: postgres, redis: redis}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready probes every dependency concurrently. Optional dependencies that are
// not configured report "disabled" without failing readiness.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
	defer cancel()

	checks := []dependencyCheck{
		{name: "postgres", probe: h.postgres},
		{name: "redis", probe: h.redis, optional: true},
	}
	results := make([]string, len(checks))
	failed := make([]bool, len(checks))

	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i], failed[i] = check.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	depStatus := fiber.Map{}
	ready := true
	for i, check := range checks {
		depStatus[check.name] = results[i]
		ready = ready && !failed[i]
	}

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": depStatus,
		})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": depStatus,
		},
	})
}

const readyTimeout = 2 * time.Second

type dependencyCheck struct {
	name     string
	probe    Pinger
	optional bool
}

func (d dependencyCheck) run(ctx context.Context) (status string, failed bool) {
	var err error
	if d.probe == nil {
		err = persistence.ErrNotConfigured
	} else {
		err = d.probe.Ping(ctx)
	}
	switch {
	case err == nil:
		return "ok", false
	case d.optional && errors.Is(err, persistence.ErrNotConfigured):
		return "disabled", false
	default:
		return err.Error(), true
	}
}
