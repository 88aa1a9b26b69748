package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/parlo-ai/parlo/pkg/broker"
	"github.com/parlo-ai/parlo/pkg/config"
	"github.com/parlo-ai/parlo/pkg/dialogue"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/policy"
	"github.com/parlo-ai/parlo/pkg/reply"
	"github.com/parlo-ai/parlo/pkg/telemetry"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// Orchestrator runs the staged pipeline for one turn. Stages execute
// sequentially; tool calls run in plan order with an incremental reduce
// between them so later calls see earlier results.
type Orchestrator struct {
	extractor *Extractor
	planner   *Planner
	policy    *policy.Engine
	broker    *broker.Broker
	reducer   *dialogue.Reducer
	responder *reply.Generator
	emitter   *telemetry.Emitter
	cfg       config.PipelineConfig
}

// NewOrchestrator wires the six stages together.
func NewOrchestrator(
	extractor *Extractor,
	planner *Planner,
	policyEngine *policy.Engine,
	toolBroker *broker.Broker,
	reducer *dialogue.Reducer,
	responder *reply.Generator,
	emitter *telemetry.Emitter,
	cfg config.PipelineConfig,
) *Orchestrator {
	return &Orchestrator{
		extractor: extractor,
		planner:   planner,
		policy:    policyEngine,
		broker:    toolBroker,
		reducer:   reducer,
		responder: responder,
		emitter:   emitter,
		cfg:       cfg,
	}
}

// RunTurn executes one turn end to end. A panic anywhere in the staged path
// becomes an error return so the turn service can serve the legacy path
// instead.
func (o *Orchestrator) RunTurn(ctx context.Context, snap models.TurnSnapshot, ws *tenant.Workspace) (result *models.TurnResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("staged pipeline panicked: %v", r)
		}
	}()

	start := time.Now()
	var timings models.StageTimings

	stageStart := time.Now()
	extraction := o.extractor.Extract(ctx, snap, ws)
	timings.ExtractMS = time.Since(stageStart).Milliseconds()
	lowConfidence := extraction.LowConfidence(o.cfg.LowConfidenceThreshold)

	working := dialogue.MergeExtraction(snap.State, extraction)

	stageStart = time.Now()
	plan := o.planner.Plan(ctx, snap, working, ws)
	timings.PlanMS = time.Since(stageStart).Milliseconds()

	stageStart = time.Now()
	allowed, denials := o.policy.Filter(ctx, plan, working, ws)
	timings.PolicyMS = time.Since(stageStart).Milliseconds()

	// A plan awaiting user confirmation dispatches nothing this turn.
	if plan.NeedsConfirmation {
		allowed = nil
	}

	observations := make([]models.Observation, 0, len(allowed)+len(denials))
	for _, denial := range denials {
		observations = append(observations, denial)
		stageStart = time.Now()
		working = o.reducer.ReduceOne(working, denial)
		timings.ReduceMS += time.Since(stageStart).Milliseconds()
	}

	for _, action := range allowed {
		spec, ok := ws.Tool(action.Tool)
		if !ok {
			continue
		}
		call := models.ToolCall{
			WorkspaceID:    snap.WorkspaceID,
			ConversationID: snap.ConversationID,
			TurnID:         snap.TurnID,
			Tool:           action.Tool,
			Args:           action.Args,
		}

		stageStart = time.Now()
		obs := o.broker.Execute(ctx, call, spec)
		timings.BrokerMS += time.Since(stageStart).Milliseconds()
		observations = append(observations, obs)

		stageStart = time.Now()
		working = o.reducer.ReduceOne(working, obs)
		timings.ReduceMS += time.Since(stageStart).Milliseconds()
	}

	stageStart = time.Now()
	rep := o.responder.Generate(ctx, reply.Turn{
		Workspace:     ws,
		State:         working,
		Plan:          plan,
		Observations:  observations,
		LowConfidence: lowConfidence,
	})
	timings.NLGMS = time.Since(stageStart).Milliseconds()

	working.NextAction = rep.NextAction
	if rep.NextAction == models.NextActionSlotFill {
		working.Attempts++
	}
	timings.TotalMS = time.Since(start).Milliseconds()

	return &models.TurnResult{
		Reply:              rep,
		Plan:               plan,
		Observations:       observations,
		State:              working,
		CacheInvalidations: cacheInvalidations(ws, observations),
		Timings:            timings,
		Confidence:         extraction.Confidence,
		LowConfidence:      lowConfidence,
	}, nil
}

// cacheInvalidations names the caller-side caches made stale by this turn:
// any successful mutating tool invalidates the workspace's availability
// view.
func cacheInvalidations(ws *tenant.Workspace, observations []models.Observation) []string {
	var keys []string
	seen := map[string]bool{}
	for _, obs := range observations {
		if obs.Kind != models.ResultSuccess {
			continue
		}
		spec, ok := ws.Tool(obs.Tool)
		if !ok || !spec.Mutating {
			continue
		}
		key := "availability:" + ws.WorkspaceID
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
