package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only the orchestrator's own components (database, turn service) are
// checked. External dependencies (tenant tools, the model runtime) are
// excluded to prevent the orchestrator from being restarted when an
// external service is unhealthy.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	var dbHealth *store.DBHealth
	if s.db != nil {
		health, err := store.CheckDB(reqCtx, s.db)
		dbHealth = &health
		if err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.turns != nil {
		if s.turns.Draining() {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["turns"] = HealthCheck{Status: healthStatusDegraded, Message: "draining"}
		} else {
			checks["turns"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	response := &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Checks:   checks,
		Database: dbHealth,
	}

	if s.warnings != nil {
		response.Warnings = s.warnings.All()
		// Sort for deterministic output.
		sort.Slice(response.Warnings, func(i, j int) bool {
			if !response.Warnings[i].CreatedAt.Equal(response.Warnings[j].CreatedAt) {
				return response.Warnings[i].CreatedAt.Before(response.Warnings[j].CreatedAt)
			}
			return response.Warnings[i].ID < response.Warnings[j].ID
		})
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, response)
}
