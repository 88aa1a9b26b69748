package api

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/parlo-ai/parlo/pkg/models"
)

// forceHalfOpenHandler handles POST /api/v1/admin/breakers/force-half-open.
// Moves a circuit to HALF_OPEN so the next call probes the tool immediately
// instead of waiting out the cooldown.
func (s *Server) forceHalfOpenHandler(c *echo.Context) error {
	var req ForceHalfOpenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.WorkspaceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace_id is required")
	}
	if req.ToolName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool_name is required")
	}
	if s.breakers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "breakers not configured")
	}

	prior := s.breakers.ForceHalfOpen(req.WorkspaceID, req.ToolName)
	slog.Info("Breaker forced half-open",
		"workspace_id", req.WorkspaceID,
		"tool_name", req.ToolName,
		"prior_state", prior)

	return c.JSON(http.StatusOK, &BreakerResponse{
		WorkspaceID: req.WorkspaceID,
		ToolName:    req.ToolName,
		State:       "HALF_OPEN",
		PriorState:  prior,
	})
}

// conversationHandler handles GET /api/v1/conversations/:id.
// Tenant-scoped state inspection: the caller names its workspace in
// X-Workspace-ID and only sees conversations owned by it. Ephemeral slots
// (leading underscore) stay internal.
func (s *Server) conversationHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	workspaceID := c.Request().Header.Get(headerWorkspaceID)
	if workspaceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, headerWorkspaceID+" header is required")
	}

	conv, err := s.store.LoadConversation(c.Request().Context(), workspaceID, conversationID)
	if err != nil {
		return mapServiceError(err)
	}

	slots := make(map[string]models.SlotValue, len(conv.State.Slots))
	for name, value := range conv.State.Slots {
		if strings.HasPrefix(name, "_") {
			continue
		}
		slots[name] = value
	}

	return c.JSON(http.StatusOK, &ConversationResponse{
		ConversationID: conv.ConversationID,
		WorkspaceID:    conv.WorkspaceID,
		Channel:        conv.Channel,
		Intent:         string(conv.State.Intent),
		NextAction:     string(conv.State.NextAction),
		Slots:          slots,
		History:        conv.State.History,
		UpdatedAt:      conv.UpdatedAt,
	})
}

// workspaceToolsHandler handles GET /api/v1/workspaces/:id/tools.
// Returns each tool's effective policy after process defaults were merged
// in, together with its circuit's current state.
func (s *Server) workspaceToolsHandler(c *echo.Context) error {
	workspaceID := c.Param("id")
	if workspaceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace id is required")
	}

	ws, err := s.tenants.Resolve(c.Request().Context(), workspaceID)
	if err != nil {
		return mapServiceError(err)
	}

	tools := make([]ToolPolicyItem, 0, len(ws.Tools))
	for name, spec := range ws.Tools {
		item := ToolPolicyItem{
			Name:            name,
			Transport:       string(spec.Transport),
			Mutating:        spec.Mutating,
			RetrySafe:       spec.RetrySafe,
			MaxAttempts:     spec.Attempts(),
			TimeoutMS:       spec.TimeoutMS,
			Idempotent:      spec.Idempotent,
			ConcurrencyCap:  spec.ConcurrencyCap,
			RatePerMinute:   spec.RatePerMinute,
			MaxRequestBytes: spec.MaxRequestBytes,
		}
		if s.breakers != nil {
			item.BreakerState = s.breakers.StateName(workspaceID, name)
		}
		tools = append(tools, item)
	}

	// Sort for deterministic output.
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})

	return c.JSON(http.StatusOK, &ToolPolicyResponse{
		WorkspaceID: workspaceID,
		Tools:       tools,
	})
}
