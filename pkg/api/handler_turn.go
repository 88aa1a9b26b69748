package api

import (
	"fmt"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/turn"
)

// MaxUtteranceBytes is the maximum allowed size for one user message (32 KiB).
const MaxUtteranceBytes = 32 * 1024

// turnHandler handles POST /api/v1/turns.
//
// Runs one conversational turn and replies with the response envelope. Error
// paths keep the envelope shape too: the caller always gets a non-empty
// assistant.text it can show to the end user, with the error class carried
// by the status code alone.
func (s *Server) turnHandler(c *echo.Context) error {
	header := c.Request().Header
	workspaceID := header.Get(headerWorkspaceID)
	conversationID := header.Get(headerConversationID)
	requestID := header.Get(headerRequestID)

	if workspaceID == "" {
		return s.turnReject(c, http.StatusBadRequest, requestID,
			fmt.Sprintf("%s header is required", headerWorkspaceID))
	}
	if conversationID == "" {
		return s.turnReject(c, http.StatusBadRequest, requestID,
			fmt.Sprintf("%s header is required", headerConversationID))
	}

	var body TurnRequestBody
	if err := c.Bind(&body); err != nil {
		return s.turnReject(c, http.StatusBadRequest, requestID, "malformed request body")
	}

	text := strings.TrimSpace(body.UserMessage.Text)
	if text == "" {
		return s.turnReject(c, http.StatusBadRequest, requestID, "user_message.text is required")
	}
	if len(body.UserMessage.Text) > MaxUtteranceBytes {
		return s.turnReject(c, http.StatusRequestEntityTooLarge, requestID,
			fmt.Sprintf("user_message.text exceeds maximum size of %d bytes", MaxUtteranceBytes))
	}

	var slots map[string]models.SlotValue
	if body.State != nil && len(body.State.Slots) > 0 {
		slots = make(map[string]models.SlotValue, len(body.State.Slots))
		for name, raw := range body.State.Slots {
			slots[name] = models.FromInterface(raw)
		}
	}

	var vertical string
	if body.Context != nil {
		vertical = body.Context.Vertical
	}

	env, err := s.turns.HandleTurn(c.Request().Context(), turn.Request{
		WorkspaceID:    workspaceID,
		ConversationID: conversationID,
		Channel:        header.Get(headerChannel),
		RequestID:      requestID,
		Utterance:      text,
		Vertical:       vertical,
		Slots:          slots,
	})
	if err != nil {
		return s.turnError(c, workspaceID, err)
	}
	return c.JSON(http.StatusOK, env)
}
