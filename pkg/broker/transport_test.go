package broker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

func testCall(tool string) models.ToolCall {
	return models.ToolCall{
		WorkspaceID:    "ws-pelu-001",
		ConversationID: "conv-1",
		TurnID:         "turn-1",
		Tool:           tool,
		Args:           map[string]any{"service": "corte", "date": "2025-10-16"},
	}
}

func TestHTTPTool_Invoke(t *testing.T) {
	var gotHeaders http.Header
	var gotBody string
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"booking_id":"b-123"}`))
	}))
	defer srv.Close()

	spec := tenant.DefaultToolSpec()
	spec.Name = "book_appointment"
	spec.Endpoint = srv.URL
	spec.RetrySafe = false

	res, err := NewHTTPTool().Invoke(context.Background(), testCall("book_appointment"), spec)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"booking_id":"b-123"}`, string(res.Body))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "book_appointment", gotHeaders.Get("X-Tool-Name"))
	assert.Equal(t, "false", gotHeaders.Get("X-Tool-Retry-Safe"))
	assert.Equal(t, "ws-pelu-001", gotHeaders.Get("X-Workspace-ID"))
	assert.Equal(t, "turn-1", gotHeaders.Get("X-Request-ID"))
	// Canonical form: keys sorted, no insertion-order leakage.
	assert.Equal(t, `{"date":"2025-10-16","service":"corte"}`, gotBody)
}

func TestHTTPTool_Auth(t *testing.T) {
	tests := []struct {
		name       string
		auth       tenant.AuthKind
		wantHeader string
		wantValue  string
	}{
		{
			name:       "bearer token from env",
			auth:       tenant.AuthBearer,
			wantHeader: "Authorization",
			wantValue:  "Bearer sekrit-token",
		},
		{
			name:       "api key from env",
			auth:       tenant.AuthAPIKey,
			wantHeader: "X-API-Key",
			wantValue:  "sekrit-token",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_TOOL_CREDENTIAL", "sekrit-token")
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tc.wantHeader)
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			spec := tenant.DefaultToolSpec()
			spec.Endpoint = srv.URL
			spec.Auth = tc.auth
			spec.CredentialEnv = "TEST_TOOL_CREDENTIAL"

			_, err := NewHTTPTool().Invoke(context.Background(), testCall("get_availability"), spec)

			require.NoError(t, err)
			assert.Equal(t, tc.wantValue, got)
		})
	}
}

func TestHTTPTool_RetryAfterSeconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	spec := tenant.DefaultToolSpec()
	spec.Endpoint = srv.URL

	res, err := NewHTTPTool().Invoke(context.Background(), testCall("get_availability"), spec)

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, 7*time.Second, res.RetryAfter)
}

func TestHTTPTool_RetryAfterHTTPDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", time.Now().Add(5*time.Second).UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	spec := tenant.DefaultToolSpec()
	spec.Endpoint = srv.URL

	res, err := NewHTTPTool().Invoke(context.Background(), testCall("get_availability"), spec)

	require.NoError(t, err)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, 5*time.Second)
}

func TestHTTPTool_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	spec := tenant.DefaultToolSpec()
	spec.Endpoint = srv.URL
	spec.MaxResponseBytes = 64

	_, err := NewHTTPTool().Invoke(context.Background(), testCall("get_availability"), spec)

	require.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: 0},
		{name: "seconds", value: "5", want: 5 * time.Second},
		{name: "zero seconds", value: "0", want: 0},
		{name: "negative clamps to zero", value: "-3", want: 0},
		{name: "http date in the future", value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{name: "http date in the past", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "garbage", value: "soonish", want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseRetryAfter(tc.value, now))
		})
	}
}

func TestLocalRegistry_Invoke(t *testing.T) {
	reg := NewLocalRegistry()
	reg.Register("get_availability", func(ctx context.Context, call models.ToolCall) (any, error) {
		return map[string]any{
			"success": true,
			"data":    map[string]any{"slots": []any{"10:00", "11:30"}},
		}, nil
	})
	reg.Register("book_appointment", func(ctx context.Context, call models.ToolCall) (any, error) {
		return map[string]any{"success": false, "error": "slot already taken"}, nil
	})
	reg.Register("flaky", func(ctx context.Context, call models.ToolCall) (any, error) {
		return nil, context.DeadlineExceeded
	})

	t.Run("success unwraps data", func(t *testing.T) {
		res, err := reg.Invoke(context.Background(), testCall("get_availability"), tenant.ToolSpec{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.JSONEq(t, `{"slots":["10:00","11:30"]}`, string(res.Body))
	})

	t.Run("declared failure maps to 400", func(t *testing.T) {
		res, err := reg.Invoke(context.Background(), testCall("book_appointment"), tenant.ToolSpec{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.Contains(t, string(res.Body), "slot already taken")
	})

	t.Run("returned error maps to 500", func(t *testing.T) {
		res, err := reg.Invoke(context.Background(), testCall("flaky"), tenant.ToolSpec{})
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	})

	t.Run("unknown tool is a transport error", func(t *testing.T) {
		_, err := reg.Invoke(context.Background(), testCall("nope"), tenant.ToolSpec{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no local tool registered")
	})
}
