// Package turn runs one conversational turn end to end: replay check, tenant
// resolution, per-conversation serialization, canary routing, pipeline
// execution under the turn deadline, and the atomic commit of the resulting
// state transition. The caller always gets a well-formed envelope with a
// non-empty assistant text; only tenant mismatches, unknown workspaces,
// draining and storage failures surface as errors.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-ai/parlo/pkg/cache"
	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/reply"
	"github.com/parlo-ai/parlo/pkg/routing"
	"github.com/parlo-ai/parlo/pkg/store"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// ErrDraining is returned for turns arriving during graceful shutdown.
var ErrDraining = errors.New("turn service is draining")

// StagedRunner runs the staged six-stage pipeline.
type StagedRunner interface {
	RunTurn(ctx context.Context, snap models.TurnSnapshot, ws *tenant.Workspace) (*models.TurnResult, error)
}

// LegacyRunner runs the single-model legacy path. It never fails.
type LegacyRunner interface {
	RunTurn(ctx context.Context, snap models.TurnSnapshot, ws *tenant.Workspace) *models.TurnResult
}

// Service handles inbound turns.
type Service struct {
	cfg     *config.Config
	store   store.Store
	tenants *tenant.Cache
	router  *routing.Router
	staged  StagedRunner
	legacy  LegacyRunner
	emitter *telemetry.Emitter

	locks  *conversationLocks
	replay *cache.TTL[Envelope]

	now func() time.Time

	inFlight atomic.Int64
	draining atomic.Bool
	wg       sync.WaitGroup
}

// NewService creates a turn service.
func NewService(
	cfg *config.Config,
	st store.Store,
	tenants *tenant.Cache,
	router *routing.Router,
	staged StagedRunner,
	legacy LegacyRunner,
	emitter *telemetry.Emitter,
) *Service {
	return NewServiceAt(cfg, st, tenants, router, staged, legacy, emitter, time.Now)
}

// NewServiceAt is NewService with an injected clock, used by scenario tests
// that pin "today" for relative date resolution.
func NewServiceAt(
	cfg *config.Config,
	st store.Store,
	tenants *tenant.Cache,
	router *routing.Router,
	staged StagedRunner,
	legacy LegacyRunner,
	emitter *telemetry.Emitter,
	now func() time.Time,
) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		tenants: tenants,
		router:  router,
		staged:  staged,
		legacy:  legacy,
		emitter: emitter,
		locks:   newConversationLocks(),
		replay: cache.New[Envelope](cache.Options{
			TTL:     cfg.Pipeline.ReplayTTL,
			MaxSize: cfg.Pipeline.ReplayMaxEntries,
		}),
		now: now,
	}
}

// HandleTurn serves one turn.
func (s *Service) HandleTurn(ctx context.Context, req Request) (*Envelope, error) {
	if s.draining.Load() {
		return nil, ErrDraining
	}
	s.wg.Add(1)
	defer s.wg.Done()

	key := replayKey(req)
	if env, ok := s.replay.Get(key); ok {
		env.Telemetry.Replayed = true
		if s.emitter != nil {
			s.emitter.EmitTurnReplayed(req.WorkspaceID, req.RequestID, routing.ConversationHash(req.ConversationID))
		}
		return &env, nil
	}

	inFlight := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	ws, err := s.tenants.Resolve(ctx, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	decision := s.router.Route(req.WorkspaceID, req.ConversationID, s.stagedEnabled(ws), s.canaryPercent(ws))

	if max := s.cfg.Pipeline.MaxTurnsInFlight; max > 0 && inFlight > int64(max) {
		if s.emitter != nil {
			s.emitter.EmitTurnShed(req.WorkspaceID, "max_turns_in_flight")
		}
		return s.safeEnvelope(req, ws, decision, uuid.NewString()), nil
	}

	release := s.locks.acquire(req.ConversationID)
	defer release()

	prior, channel, err := s.loadPrior(ctx, req, ws)
	if err != nil {
		s.noteMismatch(err)
		return nil, err
	}

	snap := models.TurnSnapshot{
		TurnID:         uuid.NewString(),
		WorkspaceID:    req.WorkspaceID,
		ConversationID: req.ConversationID,
		Channel:        channel,
		RequestID:      req.RequestID,
		Utterance:      req.Utterance,
		Vertical:       req.Vertical,
		Now:            s.now(),
		State:          prior,
	}

	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.Pipeline.TurnDeadline)
	defer cancel()

	result, route, done := s.run(turnCtx, snap, ws, decision.Route)
	if !done {
		env := s.safeEnvelope(req, ws, decision, snap.TurnID)
		if s.emitter != nil {
			s.emitter.EmitTurnCompleted(req.WorkspaceID, string(route), "degraded", env.Telemetry.Timings, false)
		}
		return env, nil
	}

	patch := models.DiffStates(snap.State, result.State, ws.DeclaresSlot)
	patch.CacheInvalidationKeys = result.CacheInvalidations

	// The commit runs on the parent context: a turn that burned its whole
	// deadline in the pipeline must still persist its transition.
	if err := s.store.CommitTurn(ctx, store.TurnCommit{
		WorkspaceID:    req.WorkspaceID,
		ConversationID: req.ConversationID,
		Channel:        channel,
		TurnID:         snap.TurnID,
		RequestID:      req.RequestID,
		Event:          commitEvent(result),
		PriorState:     snap.State,
		NextState:      result.State,
		Outbox:         outboxEvents(ws, result),
	}); err != nil {
		s.noteMismatch(err)
		return nil, fmt.Errorf("commit turn: %w", err)
	}

	env := &Envelope{
		Assistant: Assistant{
			Text:             result.Reply.Text,
			SuggestedReplies: result.Reply.QuickReplies,
		},
		ToolCalls: toolCallSummaries(result.Plan, result.Observations),
		Patch:     patch,
		Telemetry: TelemetrySummary{
			Route:         string(route),
			Bucket:        decision.Bucket,
			Intent:        string(result.State.Intent),
			Confidence:    result.Confidence,
			Timings:       result.Timings,
			LowConfidence: result.LowConfidence,
			Fallback:      result.Fallback,
			TurnID:        snap.TurnID,
			RequestID:     req.RequestID,
		},
	}

	if s.emitter != nil {
		outcome := "completed"
		if result.Fallback {
			outcome = "fallback"
		}
		s.emitter.EmitTurnCompleted(req.WorkspaceID, string(route), outcome, result.Timings, result.LowConfidence)
	}

	if key != "" {
		s.replay.Set(key, *env)
	}
	return env, nil
}

// Stop drains the service: new turns are rejected with ErrDraining and
// in-flight turns get until ctx expires to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.draining.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Turn service drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("turn drain interrupted: %w", ctx.Err())
	}
}

// Draining reports whether the service has started shutting down.
func (s *Service) Draining() bool { return s.draining.Load() }

// InFlight returns the number of turns currently being served.
func (s *Service) InFlight() int64 { return s.inFlight.Load() }

// run executes the routed pipeline under the turn deadline. done=false means
// the deadline fired before any result: the pipeline goroutine is left to
// wind down on its own and its result is dropped. The returned route is the
// path actually taken, including a legacy fallback.
func (s *Service) run(ctx context.Context, snap models.TurnSnapshot, ws *tenant.Workspace, route routing.Route) (*models.TurnResult, routing.Route, bool) {
	results := make(chan *models.TurnResult, 1)
	go func() {
		if route == routing.RouteStaged {
			result, err := s.staged.RunTurn(ctx, snap, ws)
			if err == nil {
				results <- result
				return
			}
			slog.Error("Staged pipeline failed, serving legacy fallback",
				"workspace_id", snap.WorkspaceID,
				"request_id", snap.RequestID,
				"turn_id", snap.TurnID,
				"error", err)
			fallback := s.legacy.RunTurn(ctx, snap, ws)
			fallback.Fallback = true
			results <- fallback
			return
		}
		results <- s.legacy.RunTurn(ctx, snap, ws)
	}()

	select {
	case result := <-results:
		actual := route
		if result.Fallback {
			actual = routing.RouteLegacy
		}
		return result, actual, true
	case <-ctx.Done():
		return nil, route, false
	}
}

// loadPrior returns a private copy of the conversation state plus the channel
// to record. A missing conversation starts from empty state seeded with the
// declared slots the client sent.
func (s *Service) loadPrior(ctx context.Context, req Request, ws *tenant.Workspace) (models.State, string, error) {
	conv, err := s.store.LoadConversation(ctx, req.WorkspaceID, req.ConversationID)
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		state := models.NewState()
		for name, value := range req.Slots {
			if ws.DeclaresSlot(name) {
				state.Slots[name] = value.Clone()
			}
		}
		return state, req.Channel, nil
	case err != nil:
		return models.State{}, "", fmt.Errorf("load conversation: %w", err)
	}

	channel := conv.Channel
	if channel == "" {
		channel = req.Channel
	}
	return conv.State, channel, nil
}

// safeEnvelope is the degraded response for shed and deadline-exceeded turns.
// No state transition is committed: the caller may simply retry.
func (s *Service) safeEnvelope(req Request, ws *tenant.Workspace, decision routing.Decision, turnID string) *Envelope {
	safe := reply.SafeDelay(ws)
	return &Envelope{
		Assistant: Assistant{
			Text:             safe.Text,
			SuggestedReplies: safe.QuickReplies,
		},
		ToolCalls: []ToolCallSummary{},
		Telemetry: TelemetrySummary{
			Route:     string(decision.Route),
			Bucket:    decision.Bucket,
			Timings:   models.StageTimings{TotalMS: s.cfg.Pipeline.TurnDeadline.Milliseconds()},
			Degraded:  true,
			TurnID:    turnID,
			RequestID: req.RequestID,
		},
	}
}

// stagedEnabled combines the global kill switch with the workspace flag.
func (s *Service) stagedEnabled(ws *tenant.Workspace) bool {
	return s.cfg.Rollout.StagedEnabled && ws.StagedEnabled
}

// canaryPercent resolves the workspace's canary share, falling back to the
// environment default when the workspace leaves it unset.
func (s *Service) canaryPercent(ws *tenant.Workspace) int {
	if ws.CanaryPercent > 0 {
		return ws.CanaryPercent
	}
	return s.cfg.Rollout.DefaultCanaryPercent
}

// noteMismatch emits the security event when err is a cross-tenant access.
func (s *Service) noteMismatch(err error) {
	var mismatch *tenant.MismatchError
	if errors.As(err, &mismatch) && s.emitter != nil {
		s.emitter.EmitTenantMismatch(mismatch.WorkspaceID, mismatch.ResourceWorkspaceID)
	}
}

func commitEvent(result *models.TurnResult) string {
	if result.Fallback {
		return "turn_fallback"
	}
	return "turn_completed"
}

// outboxEvents turns every successful mutating-tool observation into a
// side-effect event for downstream delivery.
func outboxEvents(ws *tenant.Workspace, result *models.TurnResult) []store.OutboxEvent {
	var events []store.OutboxEvent
	for _, obs := range result.Observations {
		if obs.Kind != models.ResultSuccess {
			continue
		}
		spec, ok := ws.Tool(obs.Tool)
		if !ok || !spec.Mutating {
			continue
		}
		events = append(events, store.OutboxEvent{
			Kind: "action_executed",
			Payload: map[string]any{
				"tool_name":   obs.Tool,
				"fingerprint": obs.Fingerprint,
				"result":      obs.Payload,
			},
		})
	}
	return events
}

func replayKey(req Request) string {
	if req.RequestID == "" {
		return ""
	}
	return req.WorkspaceID + "\x00" + req.ConversationID + "\x00" + req.RequestID
}
