package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parlo-ai/parlo/pkg/reply"
	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/pkg/tenant"
	"github.com/parlo-ai/parlo/pkg/turn"
)

// mapServiceError maps service-layer errors to HTTP error responses on the
// admin and inspection endpoints. The turn endpoint uses turnError instead,
// which keeps the envelope shape.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *tenant.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, tenant.ErrTenantMismatch) {
		return echo.NewHTTPError(http.StatusForbidden, "resource belongs to another workspace")
	}
	if errors.Is(err, tenant.ErrWorkspaceNotFound) || errors.Is(err, store.ErrConversationNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// turnErrorStatus classifies a failed turn into a status code.
func turnErrorStatus(err error) int {
	switch {
	case errors.Is(err, turn.ErrDraining):
		return http.StatusServiceUnavailable
	case errors.Is(err, tenant.ErrTenantMismatch):
		return http.StatusForbidden
	case errors.Is(err, tenant.ErrWorkspaceNotFound):
		return http.StatusNotFound
	case tenant.IsValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// turnError renders a failed turn. The body stays envelope-shaped with a
// user-safe assistant text; internals are logged with the correlation id,
// never sent to the caller.
func (s *Server) turnError(c *echo.Context, workspaceID string, err error) error {
	status := turnErrorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("Turn failed",
			"workspace_id", workspaceID,
			"request_id", c.Response().Header().Get(headerRequestID),
			"error", err)
	}
	return c.JSON(status, turnFailure(status, c.Request().Header.Get(headerRequestID)))
}

// turnReject renders a request that never reached the turn service, keeping
// the same envelope-shaped body the service produces.
func (s *Server) turnReject(c *echo.Context, status int, requestID, reason string) error {
	slog.Warn("Turn request rejected",
		"status", status,
		"reason", reason,
		"request_id", c.Response().Header().Get(headerRequestID))
	return c.JSON(status, turnFailure(status, requestID))
}

// turnFailure builds the envelope-shaped error body. The language falls back
// to the platform default since resolving the workspace may be the very
// thing that failed.
func turnFailure(status int, requestID string) *turn.Envelope {
	safe := reply.SafeGeneric(nil)
	if status == http.StatusServiceUnavailable {
		safe = reply.SafeDelay(nil)
	}
	return &turn.Envelope{
		Assistant: turn.Assistant{
			Text:             safe.Text,
			SuggestedReplies: safe.QuickReplies,
		},
		ToolCalls: []turn.ToolCallSummary{},
		Telemetry: turn.TelemetrySummary{
			Degraded:  true,
			RequestID: requestID,
		},
	}
}
