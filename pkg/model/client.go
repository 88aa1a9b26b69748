// Package model provides the completion client used by the staged pipeline
// and the legacy handler. Stages describe the call declaratively (prompt,
// response schema, sampling knobs) and receive raw JSON back; parsing into
// stage-specific types stays in the caller.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrSchemaViolation indicates the model returned JSON that does not conform
// to the response schema attached to the request. Callers match it with
// errors.Is; the wrapped message carries the validator detail.
var ErrSchemaViolation = errors.New("model output violates response schema")

// Request describes a single completion call.
type Request struct {
	// Model is the provider-side model name for this stage.
	Model string
	// SystemPrompt is prepended as the system message when non-empty.
	SystemPrompt string
	// Prompt is the user message.
	Prompt string
	// JSONSchema, when non-nil, is a JSON Schema document the response must
	// satisfy. The client validates the completion against it and returns
	// ErrSchemaViolation on mismatch.
	JSONSchema []byte
	// Temperature is passed through to the provider.
	Temperature float32
	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Client produces completions. Implementations must honor ctx cancellation
// and deadlines; the turn deadline is enforced through the context.
type Client interface {
	Complete(ctx context.Context, req Request) (json.RawMessage, error)
}
