package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/model"
	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

func bookingState() models.State {
	st := models.NewState()
	st.Intent = models.IntentBook
	st.Slots["service"] = models.StringSlot("Corte")
	st.Slots["date"] = models.StringSlot("2025-10-16")
	st.Slots["time"] = models.StringSlot("15:00")
	return st
}

func TestPlanner_MissingRequiredSlotsSkipsModel(t *testing.T) {
	client := model.NewScripted()
	p := NewPlanner(client, pipelineModelConfig(), nil)

	st := models.NewState()
	st.Intent = models.IntentBook
	st.Slots["service"] = models.StringSlot("Corte")

	plan := p.Plan(context.Background(), snapshotFor("quiero un corte"), st, pipelineWorkspace())

	assert.Equal(t, 0, client.CallCount(), "slot-fill turns must not spend a model call")
	assert.Empty(t, plan.Actions)
	assert.ElementsMatch(t, []string{"date", "time"}, plan.MissingSlots)
	assert.Equal(t, models.NextActionSlotFill, plan.NextAction)
}

func TestPlanner_ModelPlan(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("planner-v1", model.ScriptEntry{
		JSON: `{
			"actions":[{"tool_name":"book_appointment","arguments":{"service":"Corte","date":"2025-10-16","time":"15:00"}}],
			"response_directive":"confirm the booking",
			"missing_slots":[],
			"next_action":"EXECUTE_ACTION"
		}`,
	})
	p := NewPlanner(client, pipelineModelConfig(), nil)

	plan := p.Plan(context.Background(), snapshotFor("dale, confirmá"), bookingState(), pipelineWorkspace())

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, "book_appointment", plan.Actions[0].Tool)
	assert.Equal(t, "ws-pelu-001", plan.Actions[0].Args["workspace_id"], "tenancy is stamped on every action")
	assert.Equal(t, "confirm the booking", plan.ResponseDirective)
	assert.Equal(t, models.NextActionExecuteAction, plan.NextAction)
	assert.False(t, plan.Fallback)
}

func TestPlanner_ParsesNeedsConfirmation(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("planner-v1", model.ScriptEntry{
		JSON: `{
			"actions":[{"tool_name":"book_appointment","arguments":{"service":"Corte","date":"2025-10-16","time":"15:00"}}],
			"response_directive":"",
			"missing_slots":[],
			"next_action":"EXECUTE_ACTION",
			"needs_confirmation":true
		}`,
	})
	p := NewPlanner(client, pipelineModelConfig(), nil)

	plan := p.Plan(context.Background(), snapshotFor("reservame el corte"), bookingState(), pipelineWorkspace())

	assert.True(t, plan.NeedsConfirmation, "planner's hold-for-confirmation flag survives parsing")
	require.Len(t, plan.Actions, 1)
}

func TestPlanner_DropsUnwhitelistedTools(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("planner-v1", model.ScriptEntry{
		JSON: `{
			"actions":[
				{"tool_name":"delete_all_data","arguments":{}},
				{"tool_name":"get_hours","arguments":{}}
			],
			"response_directive":"",
			"missing_slots":[],
			"next_action":"RETRIEVE_CONTEXT"
		}`,
	})
	p := NewPlanner(client, pipelineModelConfig(), nil)

	st := models.NewState()
	st.Intent = models.IntentFaqHours
	plan := p.Plan(context.Background(), snapshotFor("a qué hora abren?"), st, pipelineWorkspace())

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, "get_hours", plan.Actions[0].Tool)
}

func TestPlanner_TruncatesToActionCap(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("planner-v1", model.ScriptEntry{
		JSON: `{
			"actions":[
				{"tool_name":"get_hours","arguments":{}},
				{"tool_name":"get_availability","arguments":{"service":"Corte","date":"2025-10-16"}},
				{"tool_name":"get_hours","arguments":{}},
				{"tool_name":"get_hours","arguments":{}}
			],
			"response_directive":"",
			"missing_slots":[],
			"next_action":"RETRIEVE_CONTEXT"
		}`,
	})
	p := NewPlanner(client, pipelineModelConfig(), nil)

	st := models.NewState()
	st.Intent = models.IntentOther
	plan := p.Plan(context.Background(), snapshotFor("contame todo"), st, pipelineWorkspace())

	assert.Len(t, plan.Actions, models.MaxPlanActions)
}

func TestPlanner_InvalidNextActionInferred(t *testing.T) {
	client := model.NewScripted()
	client.AddRouted("planner-v1", model.ScriptEntry{
		JSON: `{
			"actions":[{"tool_name":"get_hours","arguments":{}}],
			"response_directive":"",
			"missing_slots":[],
			"next_action":"DO_SOMETHING"
		}`,
	})
	p := NewPlanner(client, pipelineModelConfig(), nil)

	st := models.NewState()
	st.Intent = models.IntentFaqHours
	plan := p.Plan(context.Background(), snapshotFor("horarios?"), st, pipelineWorkspace())

	assert.Equal(t, models.NextActionExecuteAction, plan.NextAction)
}

func TestPlanner_ModelFailureUsesFallbackTable(t *testing.T) {
	client := model.NewScripted()
	p := NewPlanner(client, pipelineModelConfig(), nil)

	tests := []struct {
		name       string
		intent     models.Intent
		wantTool   string
		wantAction models.NextAction
	}{
		{name: "greeting", intent: models.IntentGreeting, wantAction: models.NextActionGreet},
		{name: "handoff", intent: models.IntentHumanHandoff, wantAction: models.NextActionAskHuman},
		{name: "faq hours", intent: models.IntentFaqHours, wantTool: "get_hours", wantAction: models.NextActionRetrieveContext},
		{name: "other", intent: models.IntentOther, wantAction: models.NextActionAnswer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client.AddRouted("planner-v1", model.ScriptEntry{Err: errors.New("model unavailable")})
			st := models.NewState()
			st.Intent = tc.intent

			plan := p.Plan(context.Background(), snapshotFor("..."), st, pipelineWorkspace())

			assert.True(t, plan.Fallback)
			assert.Equal(t, tc.wantAction, plan.NextAction)
			if tc.wantTool == "" {
				assert.Empty(t, plan.Actions)
			} else {
				require.Len(t, plan.Actions, 1)
				assert.Equal(t, tc.wantTool, plan.Actions[0].Tool)
				assert.Equal(t, "ws-pelu-001", plan.Actions[0].Args["workspace_id"])
			}
		})
	}
}

func TestPlanner_FallbackBookingPlansAvailability(t *testing.T) {
	p := NewPlanner(nil, pipelineModelConfig(), nil)

	plan := p.Plan(context.Background(), snapshotFor("quiero un corte mañana a las 3"), bookingState(), pipelineWorkspace())

	require.Len(t, plan.Actions, 1)
	assert.True(t, plan.Fallback)
	assert.Equal(t, "get_availability", plan.Actions[0].Tool)
	assert.Equal(t, "Corte", plan.Actions[0].Args["service"], "declared args fill from same-name slots")
	assert.Equal(t, "2025-10-16", plan.Actions[0].Args["date"])
	assert.Equal(t, models.NextActionRetrieveContext, plan.NextAction)
}

func TestPlanner_TenantFallbackRuleWins(t *testing.T) {
	ws := pipelineWorkspace()
	ws.FallbackPlans = []tenant.FallbackPlanRule{
		{
			Intent:       models.IntentBook,
			RequireSlots: []string{"service", "date", "time"},
			Actions: []tenant.FallbackPlanAction{
				{
					Tool:          "book_appointment",
					ArgsFromSlots: map[string]string{"service": "service", "date": "date", "time": "time"},
				},
			},
			NextAction: models.NextActionExecuteAction,
			Directive:  "confirm politely",
		},
	}
	p := NewPlanner(nil, pipelineModelConfig(), nil)

	plan := p.Plan(context.Background(), snapshotFor("dale"), bookingState(), ws)

	require.Len(t, plan.Actions, 1)
	assert.True(t, plan.Fallback)
	assert.Equal(t, "book_appointment", plan.Actions[0].Tool)
	assert.Equal(t, "Corte", plan.Actions[0].Args["service"])
	assert.Equal(t, "ws-pelu-001", plan.Actions[0].Args["workspace_id"])
	assert.Equal(t, "confirm politely", plan.ResponseDirective)
	assert.Equal(t, models.NextActionExecuteAction, plan.NextAction)
}
