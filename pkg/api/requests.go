package api

// TurnRequestBody is the HTTP request body for POST /api/v1/turns.
type TurnRequestBody struct {
	UserMessage UserMessage  `json:"user_message"`
	State       *ClientState `json:"state,omitempty"`
	Context     *TurnContext `json:"context,omitempty"`
}

// UserMessage carries the inbound utterance.
type UserMessage struct {
	Text string `json:"text"`
}

// ClientState is the caller's view of the conversation slots. It seeds brand
// new conversations only; the server copy wins for existing ones.
type ClientState struct {
	Slots map[string]any `json:"slots,omitempty"`
}

// TurnContext carries request-scoped hints.
type TurnContext struct {
	Vertical string `json:"vertical,omitempty"`
}

// ForceHalfOpenRequest is the body for POST /api/v1/admin/breakers/force-half-open.
type ForceHalfOpenRequest struct {
	WorkspaceID string `json:"workspace_id"`
	ToolName    string `json:"tool_name"`
}
