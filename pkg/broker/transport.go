package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// ErrResponseTooLarge marks a response body that exceeded the tool's
// configured maximum. Never retried.
var ErrResponseTooLarge = errors.New("tool response exceeds size limit")

// Result is one attempt's outcome at the transport level. A non-2xx status
// is a Result, not an error; errors are reserved for transport failures
// (timeouts, connection resets) where no status exists.
type Result struct {
	StatusCode int
	Body       json.RawMessage
	// RetryAfter is the server-requested delay parsed from a Retry-After
	// header, zero when absent.
	RetryAfter time.Duration
}

// Transport performs a single dispatch attempt.
type Transport interface {
	Invoke(ctx context.Context, call models.ToolCall, spec tenant.ToolSpec) (Result, error)
}

// HTTPTool dispatches tool calls as JSON POSTs to the tool's endpoint.
// One shared client serves all tools; per-attempt deadlines come from ctx.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates an HTTPTool with a shared client.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{}}
}

// Invoke implements Transport. The request body is the canonical argument
// JSON; workspace and call identity travel in headers so tools never parse
// them out of the payload.
func (t *HTTPTool) Invoke(ctx context.Context, call models.ToolCall, spec tenant.ToolSpec) (Result, error) {
	body, err := models.CanonicalArgs(call.Args)
	if err != nil {
		return Result{}, fmt.Errorf("encode arguments: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tool-Name", call.Tool)
	req.Header.Set("X-Tool-Retry-Safe", strconv.FormatBool(spec.RetrySafe))
	req.Header.Set("X-Workspace-ID", call.WorkspaceID)
	req.Header.Set("X-Request-ID", call.TurnID)

	switch spec.Auth {
	case tenant.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+os.Getenv(spec.CredentialEnv))
	case tenant.AuthAPIKey:
		req.Header.Set("X-API-Key", os.Getenv(spec.CredentialEnv))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	payload, err := readBounded(resp.Body, spec.MaxResponseBytes)
	if err != nil {
		return Result{}, err
	}

	return Result{
		StatusCode: resp.StatusCode,
		Body:       payload,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}, nil
}

// readBounded reads at most max bytes, returning ErrResponseTooLarge if the
// body keeps going. max <= 0 means unbounded.
func readBounded(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	payload, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return nil, err
	}
	if len(payload) > max {
		return nil, ErrResponseTooLarge
	}
	return payload, nil
}

// parseRetryAfter handles both forms the header allows: delay-seconds and
// HTTP-date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
