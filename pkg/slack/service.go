package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/parlo-ai/parlo/pkg/store"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts outbox events to the operator channel.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// Notify posts one outbox event. Later events from the same conversation
// thread onto the first notification when it is still in recent history; a
// failed thread lookup posts unthreaded rather than failing the event. The
// returned error keeps the event undelivered so the dispatcher retries it.
func (s *Service) Notify(ctx context.Context, event store.OutboxEvent) error {
	if s == nil {
		return nil
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, threadFingerprint(event.WorkspaceID, event.ConversationID))
	if err != nil {
		s.logger.Warn("Thread lookup failed, posting unthreaded",
			"workspace_id", event.WorkspaceID,
			"conversation_id", event.ConversationID,
			"error", err)
	}

	fallback, blocks := BuildActionMessage(event, s.dashboardURL)
	return s.client.PostMessage(ctx, fallback, blocks, threadTS, 5*time.Second)
}
