package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/pkg/tenant"
	"github.com/parlo-ai/parlo/pkg/turn"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        &tenant.ValidationError{Field: "workspace_id", Message: "must not be empty"},
			expectCode: http.StatusBadRequest,
			expectMsg:  "workspace_id",
		},
		{
			name:       "tenant mismatch maps to 403",
			err:        fmt.Errorf("load conversation: %w", &tenant.MismatchError{WorkspaceID: "ws-a", ResourceWorkspaceID: "ws-b"}),
			expectCode: http.StatusForbidden,
			expectMsg:  "another workspace",
		},
		{
			name:       "workspace not found maps to 404",
			err:        fmt.Errorf("resolve workspace: %w", tenant.ErrWorkspaceNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "conversation not found maps to 404",
			err:        store.ErrConversationNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}

func TestTurnErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect int
	}{
		{"draining maps to 503", turn.ErrDraining, http.StatusServiceUnavailable},
		{"tenant mismatch maps to 403", &tenant.MismatchError{WorkspaceID: "ws-a", ResourceWorkspaceID: "ws-b"}, http.StatusForbidden},
		{"workspace not found maps to 404", fmt.Errorf("resolve workspace: %w", tenant.ErrWorkspaceNotFound), http.StatusNotFound},
		{"validation maps to 400", &tenant.ValidationError{Field: "workspace_id", Message: "must not be empty"}, http.StatusBadRequest},
		{"anything else maps to 500", fmt.Errorf("commit turn: boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, turnErrorStatus(tt.err))
		})
	}
}

func TestTurnFailure(t *testing.T) {
	t.Run("body keeps the envelope contract", func(t *testing.T) {
		env := turnFailure(http.StatusBadRequest, "req-1")
		assert.NotEmpty(t, env.Assistant.Text)
		assert.NotNil(t, env.ToolCalls)
		assert.Empty(t, env.ToolCalls)
		assert.True(t, env.Telemetry.Degraded)
		assert.Equal(t, "req-1", env.Telemetry.RequestID)
	})

	t.Run("unavailable uses the delay phrasing", func(t *testing.T) {
		env := turnFailure(http.StatusServiceUnavailable, "")
		assert.Equal(t, "Estamos teniendo demoras, ¿querés que te contactemos?", env.Assistant.Text)
		assert.NotEmpty(t, env.Assistant.SuggestedReplies)
	})
}
