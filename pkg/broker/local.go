package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// LocalFunc is an in-process tool implementation. Returning an error maps to
// a retryable 500; a map carrying "success": false maps to a non-retryable
// 400 with the map as payload; anything else is a 200 with the value (or its
// "data" field, when the structured form is used) as payload.
type LocalFunc func(ctx context.Context, call models.ToolCall) (any, error)

// LocalRegistry serves tools that run inside the process, mainly the e2e
// harness and built-in catalog lookups.
type LocalRegistry struct {
	mu    sync.RWMutex
	funcs map[string]LocalFunc
}

// NewLocalRegistry creates an empty registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{funcs: make(map[string]LocalFunc)}
}

// Register adds or replaces a tool implementation.
func (r *LocalRegistry) Register(name string, fn LocalFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Invoke implements Transport.
func (r *LocalRegistry) Invoke(ctx context.Context, call models.ToolCall, _ tenant.ToolSpec) (Result, error) {
	r.mu.RLock()
	fn, ok := r.funcs[call.Tool]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("no local tool registered for %q", call.Tool)
	}

	out, err := fn(ctx, call)
	if err != nil {
		body, _ := json.Marshal(map[string]string{"error": err.Error()})
		return Result{StatusCode: http.StatusInternalServerError, Body: body}, nil
	}

	if structured, ok := out.(map[string]any); ok {
		if success, has := structured["success"].(bool); has {
			if !success {
				body, err := json.Marshal(structured)
				if err != nil {
					return Result{}, fmt.Errorf("encode local result: %w", err)
				}
				return Result{StatusCode: http.StatusBadRequest, Body: body}, nil
			}
			if data, has := structured["data"]; has {
				out = data
			}
		}
	}

	body, err := json.Marshal(out)
	if err != nil {
		return Result{}, fmt.Errorf("encode local result: %w", err)
	}
	return Result{StatusCode: http.StatusOK, Body: body}, nil
}
