package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/parlo-ai/parlo/pkg/store"
)

// Notifier delivers one outbox event somewhere external.
type Notifier interface {
	Notify(ctx context.Context, event store.OutboxEvent) error
}

// DispatcherConfig controls the outbox polling loop.
type DispatcherConfig struct {
	// Interval is how often pending events are polled.
	Interval time.Duration

	// BatchSize caps how many events one tick drains.
	BatchSize int
}

// Dispatcher drains the store outbox through a Notifier. Events stay
// undelivered on failure and are retried on the next tick, so delivery is
// at-least-once.
type Dispatcher struct {
	config   DispatcherConfig
	store    store.Store
	notifier Notifier

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates an outbox dispatcher. Zero config fields get
// defaults of 10s and 32.
func NewDispatcher(cfg DispatcherConfig, st store.Store, notifier Notifier) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Dispatcher{
		config:   cfg,
		store:    st,
		notifier: notifier,
	}
}

// Start launches the background dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go d.run(ctx)

	slog.Info("Outbox dispatcher started",
		"interval", d.config.Interval,
		"batch_size", d.config.BatchSize)
}

// Stop signals the dispatch loop to exit and waits for it to finish.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	slog.Info("Outbox dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	d.dispatchPending(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchPending(ctx)
		}
	}
}

func (d *Dispatcher) dispatchPending(ctx context.Context) {
	pending, err := d.store.PendingOutbox(ctx, d.config.BatchSize)
	if err != nil {
		slog.Error("Outbox: pending query failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	var delivered []int64
	for _, event := range pending {
		if err := d.notifier.Notify(ctx, event); err != nil {
			slog.Error("Outbox: delivery failed",
				"event_id", event.ID,
				"kind", event.Kind,
				"workspace_id", event.WorkspaceID,
				"error", err)
			continue
		}
		delivered = append(delivered, event.ID)
	}
	if len(delivered) == 0 {
		return
	}

	if err := d.store.MarkOutboxDelivered(ctx, delivered); err != nil {
		slog.Error("Outbox: delivery mark failed", "error", err)
		return
	}
	slog.Info("Outbox: delivered notifications", "count", len(delivered))
}
