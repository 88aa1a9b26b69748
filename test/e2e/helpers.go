package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/api"
	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/turn"
)

// TurnHeaders identifies one conversation for PostTurn. RequestID is optional;
// turns without one are never replayed.
type TurnHeaders struct {
	WorkspaceID    string
	ConversationID string
	Channel        string
	RequestID      string
}

// headers returns the standard booking-workspace identity for a conversation.
func headers(conversationID string) TurnHeaders {
	return TurnHeaders{
		WorkspaceID:    "ws-pelu-001",
		ConversationID: conversationID,
		Channel:        "whatsapp",
	}
}

// PostTurn sends one turn through POST /api/v1/turns and decodes the
// envelope, failing the test on any non-200 response.
func (app *TestApp) PostTurn(h TurnHeaders, body api.TurnRequestBody) turn.Envelope {
	app.t.Helper()
	data, status := app.postTurnRaw(h, body)
	require.Equal(app.t, http.StatusOK, status, "turn response: %s", data)

	var env turn.Envelope
	require.NoError(app.t, json.Unmarshal(data, &env))
	return env
}

// Say posts a bare utterance with no client state.
func (app *TestApp) Say(h TurnHeaders, text string) turn.Envelope {
	app.t.Helper()
	return app.PostTurn(h, api.TurnRequestBody{UserMessage: api.UserMessage{Text: text}})
}

// postTurnRaw performs the HTTP round trip and returns the raw body and
// status, for tests that assert on error responses.
func (app *TestApp) postTurnRaw(h TurnHeaders, body api.TurnRequestBody) ([]byte, int) {
	app.t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(app.t, err)

	req, err := http.NewRequest(http.MethodPost, app.BaseURL+"/api/v1/turns", bytes.NewReader(payload))
	require.NoError(app.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workspace-ID", h.WorkspaceID)
	req.Header.Set("X-Conversation-ID", h.ConversationID)
	if h.Channel != "" {
		req.Header.Set("X-Channel", h.Channel)
	}
	if h.RequestID != "" {
		req.Header.Set("X-Request-ID", h.RequestID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(app.t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(app.t, err)
	return data, resp.StatusCode
}

// GetConversation reads the server-side conversation snapshot through the
// admin API.
func (app *TestApp) GetConversation(workspaceID, conversationID string) api.ConversationResponse {
	app.t.Helper()

	var out api.ConversationResponse
	app.getJSON("/api/v1/conversations/"+conversationID, workspaceID, &out)
	return out
}

// GetWorkspaceTools reads the effective tool policies, breaker states
// included.
func (app *TestApp) GetWorkspaceTools(workspaceID string) api.ToolPolicyResponse {
	app.t.Helper()

	var out api.ToolPolicyResponse
	app.getJSON("/api/v1/workspaces/"+workspaceID+"/tools", workspaceID, &out)
	return out
}

// GetBody fetches a path and returns the response body, requiring a 200.
func (app *TestApp) GetBody(path string) string {
	app.t.Helper()

	resp, err := http.Get(app.BaseURL + path)
	require.NoError(app.t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(app.t, err)
	require.Equal(app.t, http.StatusOK, resp.StatusCode, "GET %s: %s", path, data)
	return string(data)
}

func (app *TestApp) getJSON(path, workspaceID string, out any) {
	app.t.Helper()

	req, err := http.NewRequest(http.MethodGet, app.BaseURL+path, nil)
	require.NoError(app.t, err)
	if workspaceID != "" {
		req.Header.Set("X-Workspace-ID", workspaceID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(app.t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(app.t, err)
	require.Equal(app.t, http.StatusOK, resp.StatusCode, "GET %s: %s", path, data)
	require.NoError(app.t, json.Unmarshal(data, out))
}

// ForceHalfOpen drives the breaker admin endpoint and returns the response.
func (app *TestApp) ForceHalfOpen(workspaceID, tool string) api.BreakerResponse {
	app.t.Helper()

	payload, err := json.Marshal(api.ForceHalfOpenRequest{WorkspaceID: workspaceID, ToolName: tool})
	require.NoError(app.t, err)

	resp, err := http.Post(app.BaseURL+"/api/v1/admin/breakers/force-half-open", "application/json", bytes.NewReader(payload))
	require.NoError(app.t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(app.t, err)
	require.Equal(app.t, http.StatusOK, resp.StatusCode, "force-half-open: %s", data)

	var out api.BreakerResponse
	require.NoError(app.t, json.Unmarshal(data, &out))
	return out
}

// RequireWellFormed asserts the envelope invariants every turn must satisfy:
// non-empty bounded assistant text, a route and a turn id.
func RequireWellFormed(t *testing.T, env turn.Envelope) {
	t.Helper()
	require.NotEmpty(t, env.Assistant.Text)
	require.LessOrEqual(t, len([]rune(env.Assistant.Text)), models.MaxReplyRunes)
	require.NotEmpty(t, env.Telemetry.Route)
	require.NotEmpty(t, env.Telemetry.TurnID)
}

// slotString unwraps a string slot from a patch or conversation snapshot.
func slotString(t *testing.T, slots map[string]models.SlotValue, name string) string {
	t.Helper()
	v, ok := slots[name]
	require.True(t, ok, "slot %q missing", name)
	s, isStr := v.AsString()
	require.True(t, isStr, "slot %q is not a string", name)
	return s
}

// --- scripted completion builders ---

func entryJSON(t *testing.T, v any) model.ScriptEntry {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return model.ScriptEntry{JSON: string(data)}
}

// extraction scripts one extractor completion.
func extraction(t *testing.T, intent string, confidence float64, slots map[string]any) model.ScriptEntry {
	t.Helper()
	if slots == nil {
		slots = map[string]any{}
	}
	return entryJSON(t, map[string]any{
		"intent":     intent,
		"confidence": confidence,
		"slots":      slots,
	})
}

// plannedAction is one scripted plan action.
func plannedAction(tool string, args map[string]any) map[string]any {
	return map[string]any{"tool_name": tool, "arguments": args}
}

// planned scripts one planner completion.
func planned(t *testing.T, directive, nextAction string, actions ...map[string]any) model.ScriptEntry {
	t.Helper()
	if actions == nil {
		actions = []map[string]any{}
	}
	return entryJSON(t, map[string]any{
		"actions":            actions,
		"response_directive": directive,
		"missing_slots":      []string{},
		"next_action":        nextAction,
	})
}
