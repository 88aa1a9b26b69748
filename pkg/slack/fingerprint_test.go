package slack

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

func TestThreadFingerprint(t *testing.T) {
	assert.Equal(t, "ctx:ws-pelu-001/conv-1", threadFingerprint("ws-pelu-001", "conv-1"))
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase",
			input:    "Booking CONFIRMED for workspace",
			expected: "booking confirmed for workspace",
		},
		{
			name:     "collapse whitespace",
			input:    "booking   confirmed\t\tfor\n\nworkspace",
			expected: "booking confirmed for workspace",
		},
		{
			name:     "trim",
			input:    "  hello  ",
			expected: "hello",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "mixed case and whitespace",
			input:    "  Action   executed:   book_appointment   (CTX:ws-1/conv-2)  ",
			expected: "action executed: book_appointment (ctx:ws-1/conv-2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeText(tt.input))
		})
	}
}

func TestCollectMessageText(t *testing.T) {
	tests := []struct {
		name     string
		msg      goslack.Message
		expected string
	}{
		{
			name: "text only",
			msg: goslack.Message{
				Msg: goslack.Msg{Text: "hello world"},
			},
			expected: "hello world",
		},
		{
			name: "text with attachment text",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Text: "notification",
					Attachments: []goslack.Attachment{
						{Text: "booking confirmed"},
					},
				},
			},
			expected: "notification booking confirmed",
		},
		{
			name: "text with attachment fallback",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Text: "notification",
					Attachments: []goslack.Attachment{
						{Fallback: "booking confirmed fallback"},
					},
				},
			},
			expected: "notification booking confirmed fallback",
		},
		{
			name: "attachment with both text and fallback",
			msg: goslack.Message{
				Msg: goslack.Msg{
					Attachments: []goslack.Attachment{
						{Text: "att text", Fallback: "att fallback"},
					},
				},
			},
			expected: "att text att fallback",
		},
		{
			name:     "empty message",
			msg:      goslack.Message{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, collectMessageText(tt.msg))
		})
	}
}
