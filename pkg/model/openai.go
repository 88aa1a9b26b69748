package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"

	"github.com/parlo-ai/parlo/pkg/config"
)

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// Responses are requested in JSON mode and validated post-hoc against the
// request's JSON Schema, since json_object mode only guarantees well-formed
// JSON, not conformance.
type OpenAIClient struct {
	client  *openai.Client
	timeout time.Duration

	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewOpenAIClient builds a client from the model section of the config.
// The API key is read from the environment variable named by APIKeyEnv.
func NewOpenAIClient(cfg config.ModelConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(os.Getenv(cfg.APIKeyEnv))
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(clientConfig),
		timeout:  cfg.RequestTimeout,
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	completion := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.JSONSchema) > 0 {
		completion.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, completion)
	if err != nil {
		return nil, fmt.Errorf("chat completion (model %s): %w", req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion (model %s): empty choices", req.Model)
	}

	raw := json.RawMessage(strings.TrimSpace(resp.Choices[0].Message.Content))
	if len(req.JSONSchema) > 0 {
		if err := c.validate(req.JSONSchema, raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// validate checks raw against schemaJSON, compiling and caching the schema on
// first use.
func (c *OpenAIClient) validate(schemaJSON []byte, raw json.RawMessage) error {
	schema, err := c.compiledSchema(schemaJSON)
	if err != nil {
		return err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrSchemaViolation, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

func (c *OpenAIClient) compiledSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	key := string(schemaJSON)

	c.mu.RLock()
	schema, ok := c.compiled[key]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	schema, err := jsonschema.CompileString("response.json", key)
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}

	c.mu.Lock()
	c.compiled[key] = schema
	c.mu.Unlock()
	return schema, nil
}
