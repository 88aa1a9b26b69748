package models

import "strings"

// MaxReplyRunes bounds a single reply message for messaging-channel delivery
const MaxReplyRunes = 480

// ClampReplyText trims and truncates text to MaxReplyRunes, appending an
// ellipsis when content was cut.
func ClampReplyText(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= MaxReplyRunes {
		return text
	}
	return string(runes[:MaxReplyRunes-1]) + "…"
}
