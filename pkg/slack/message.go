package slack

import (
	"fmt"
	"sort"

	goslack "github.com/slack-go/slack"

	"github.com/parlo-ai/parlo/pkg/store"
)

const maxBlockTextLength = 2900

var kindEmoji = map[string]string{
	"action_executed": ":white_check_mark:",
}

var kindLabel = map[string]string{
	"action_executed": "Action executed",
}

func conversationURL(conversationID, dashboardURL string) string {
	return fmt.Sprintf("%s/conversations/%s", dashboardURL, conversationID)
}

// BuildActionMessage creates Block Kit blocks for one outbox event, plus the
// fallback text carrying the thread fingerprint. Only tool names and result
// payloads appear; user utterances never reach the channel.
func BuildActionMessage(event store.OutboxEvent, dashboardURL string) (string, []goslack.Block) {
	emoji := kindEmoji[event.Kind]
	if emoji == "" {
		emoji = ":bell:"
	}
	label := kindLabel[event.Kind]
	if label == "" {
		label = event.Kind
	}

	toolName, _ := event.Payload["tool_name"].(string)
	headerText := fmt.Sprintf("%s *%s*", emoji, label)
	if toolName != "" {
		headerText += fmt.Sprintf(" — `%s`", toolName)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	if detail := resultLines(event.Payload); detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(detail), false, false),
			nil, nil,
		))
	}

	fingerprint := threadFingerprint(event.WorkspaceID, event.ConversationID)
	contextText := fmt.Sprintf("%s · turn %s", fingerprint, event.TurnID)
	blocks = append(blocks, goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType, contextText, false, false),
	))

	if dashboardURL != "" {
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Conversation", false, false))
		btn.URL = conversationURL(event.ConversationID, dashboardURL)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	fallback := label
	if toolName != "" {
		fallback += ": " + toolName
	}
	fallback += " (" + fingerprint + ")"
	return fallback, blocks
}

// resultLines renders the tool result payload as sorted bullet lines.
func resultLines(payload map[string]any) string {
	result, _ := payload["result"].(map[string]any)
	if len(result) == 0 {
		return ""
	}
	keys := make([]string, 0, len(result))
	for key := range result {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("• %s: %v", key, result[key]))
	}
	text := lines[0]
	for _, line := range lines[1:] {
		text += "\n" + line
	}
	return text
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxBlockTextLength {
		return text
	}
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated)_"
}
