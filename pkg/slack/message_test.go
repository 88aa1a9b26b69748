package slack

import (
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/store"
)

func actionEvent() store.OutboxEvent {
	return store.OutboxEvent{
		ID:             7,
		WorkspaceID:    "ws-pelu-001",
		ConversationID: "conv-1",
		TurnID:         "turn-abc",
		Kind:           "action_executed",
		Payload: map[string]any{
			"tool_name":   "book_appointment",
			"fingerprint": "a1b2c3",
			"result": map[string]any{
				"booking_id": "bk-123",
				"date":       "2025-10-16",
			},
		},
	}
}

func TestBuildActionMessage(t *testing.T) {
	fallback, blocks := BuildActionMessage(actionEvent(), "https://ops.parlo.example.com")

	require.Len(t, blocks, 4)

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, ":white_check_mark:")
	assert.Contains(t, header.Text.Text, "Action executed")
	assert.Contains(t, header.Text.Text, "book_appointment")

	detail := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, detail.Text.Text, "booking_id: bk-123")
	assert.Contains(t, detail.Text.Text, "date: 2025-10-16")
	assert.Less(t, strings.Index(detail.Text.Text, "booking_id"), strings.Index(detail.Text.Text, "date"),
		"result lines are sorted by key")

	context, ok := blocks[2].(*goslack.ContextBlock)
	require.True(t, ok)
	require.Len(t, context.ContextElements.Elements, 1)
	contextText := context.ContextElements.Elements[0].(*goslack.TextBlockObject)
	assert.Contains(t, contextText.Text, "ctx:ws-pelu-001/conv-1")
	assert.Contains(t, contextText.Text, "turn turn-abc")

	action := blocks[3].(*goslack.ActionBlock)
	require.Len(t, action.Elements.ElementSet, 1)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "View Conversation", btn.Text.Text)
	assert.Equal(t, "https://ops.parlo.example.com/conversations/conv-1", btn.URL)

	assert.Contains(t, fallback, "Action executed: book_appointment")
	assert.Contains(t, fallback, "ctx:ws-pelu-001/conv-1", "fallback carries the thread fingerprint")
}

func TestBuildActionMessage_NoDashboard(t *testing.T) {
	_, blocks := BuildActionMessage(actionEvent(), "")

	require.Len(t, blocks, 3, "no button without a dashboard URL")
	for _, block := range blocks {
		_, isAction := block.(*goslack.ActionBlock)
		assert.False(t, isAction)
	}
}

func TestBuildActionMessage_UnknownKind(t *testing.T) {
	event := actionEvent()
	event.Kind = "owner_digest"
	event.Payload = map[string]any{}

	fallback, blocks := BuildActionMessage(event, "")

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":bell:")
	assert.Contains(t, header.Text.Text, "owner_digest")
	assert.Contains(t, fallback, "owner_digest")

	require.Len(t, blocks, 2, "no detail section without a result payload")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.Contains(t, result, "truncated")
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		text := strings.Repeat("🔥", maxBlockTextLength+10)
		result := truncateForSlack(text)
		assert.Contains(t, result, "truncated")
		assert.True(t, utf8.ValidString(result), "result should be valid UTF-8")
		prefix := strings.Split(result, "\n\n_...")[0]
		assert.Equal(t, maxBlockTextLength, utf8.RuneCountInString(prefix))
	})
}
