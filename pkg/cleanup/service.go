// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/store"
)

// Service periodically enforces retention policies:
//   - Removes state-history rows past the retention window
//   - Removes delivered outbox events past their TTL
//   - Removes expired action-execution ledger rows
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	store  store.Store
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service on the wall clock.
func NewService(cfg *config.RetentionConfig, st store.Store) *Service {
	return NewServiceAt(cfg, st, time.Now)
}

// NewServiceAt is NewService with an injected clock for tests.
func NewServiceAt(cfg *config.RetentionConfig, st store.Store, now func() time.Time) *Service {
	return &Service{
		config: cfg,
		store:  st,
		now:    now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"state_retention_days", s.config.StateRetentionDays,
		"outbox_ttl", s.config.OutboxTTL,
		"execution_ttl", s.config.ExecutionTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneHistory(ctx)
	s.pruneOutbox(ctx)
	s.pruneExecutions(ctx)
}

func (s *Service) pruneHistory(ctx context.Context) {
	horizon := s.now().Add(-time.Duration(s.config.StateRetentionDays) * 24 * time.Hour)
	count, err := s.store.PruneHistory(ctx, horizon)
	if err != nil {
		slog.Error("Retention: history prune failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned state history", "count", count)
	}
}

func (s *Service) pruneOutbox(ctx context.Context) {
	horizon := s.now().Add(-s.config.OutboxTTL)
	count, err := s.store.PruneOutbox(ctx, horizon)
	if err != nil {
		slog.Error("Retention: outbox prune failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned delivered outbox events", "count", count)
	}
}

func (s *Service) pruneExecutions(ctx context.Context) {
	// Ledger rows carry their own expiry; ExecutionTTL adds a grace
	// window past it so recent duplicates stay inspectable.
	horizon := s.now().Add(-s.config.ExecutionTTL)
	count, err := s.store.PruneActionExecutions(ctx, horizon)
	if err != nil {
		slog.Error("Retention: execution prune failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned expired action executions", "count", count)
	}
}
