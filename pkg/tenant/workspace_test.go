package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-ai/parlo/pkg/models"
)

func TestWorkspaceValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Workspace)
		wantErr string
	}{
		{name: "valid", mutate: func(*Workspace) {}},
		{
			name:    "empty workspace id",
			mutate:  func(w *Workspace) { w.WorkspaceID = "" },
			wantErr: "workspace_id",
		},
		{
			name:    "canary percent out of range",
			mutate:  func(w *Workspace) { w.CanaryPercent = 101 },
			wantErr: "canary_percent",
		},
		{
			name:    "bad timezone",
			mutate:  func(w *Workspace) { w.Timezone = "Mars/Olympus" },
			wantErr: "timezone",
		},
		{
			name: "fallback plan references unknown tool",
			mutate: func(w *Workspace) {
				w.FallbackPlans = []FallbackPlanRule{{
					Intent:  models.IntentBook,
					Actions: []FallbackPlanAction{{Tool: "not_whitelisted"}},
				}}
			},
			wantErr: "fallback_plans",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := testWorkspace("ws_1")
			tt.mutate(ws)
			err := ws.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCatalogFindService(t *testing.T) {
	catalog := ServiceCatalog{Services: []ServiceEntry{
		{Name: "Corte", Price: 3500},
		{Name: "Color", Price: 8000},
		{Name: "Corte y Barba", Price: 5000},
	}}

	tests := []struct {
		name      string
		utterance string
		want      string
		found     bool
	}{
		{name: "exact lowercase", utterance: "quiero un corte mañana", want: "Corte", found: true},
		{name: "mixed case", utterance: "Necesito COLOR el viernes", want: "Color", found: true},
		{name: "no match", utterance: "hola, buenos días", found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := catalog.FindService(tt.utterance)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestToolSpecAttempts(t *testing.T) {
	assert.Equal(t, 1, ToolSpec{RetrySafe: false, MaxAttempts: 5}.Attempts())
	assert.Equal(t, 5, ToolSpec{RetrySafe: true, MaxAttempts: 5}.Attempts())
	assert.Equal(t, 1, ToolSpec{RetrySafe: true}.Attempts())
}

func TestFallbackPlanRule(t *testing.T) {
	rule := FallbackPlanRule{
		Intent:       models.IntentBook,
		RequireSlots: []string{"service_type", "preferred_date"},
		Actions: []FallbackPlanAction{{
			Tool: "check_service_availability",
			ArgsFromSlots: map[string]string{
				"service": "service_type",
				"date":    "preferred_date",
			},
			StaticArgs: map[string]any{"channel": "orchestrator"},
		}},
		NextAction: models.NextActionExecuteAction,
	}

	state := models.NewState()
	state.Slots["service_type"] = models.StringSlot("Corte")

	assert.False(t, rule.Matches(models.IntentBook, state), "missing preferred_date")
	assert.False(t, rule.Matches(models.IntentCancel, state), "wrong intent")

	state.Slots["preferred_date"] = models.StringSlot("2025-10-16")
	require.True(t, rule.Matches(models.IntentBook, state))

	actions := rule.Build(state)
	require.Len(t, actions, 1)
	assert.Equal(t, "check_service_availability", actions[0].Tool)
	assert.Equal(t, "Corte", actions[0].Args["service"])
	assert.Equal(t, "2025-10-16", actions[0].Args["date"])
	assert.Equal(t, "orchestrator", actions[0].Args["channel"])
}
