package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// Builder builds system and user messages for every model call in a turn.
// Stateless and thread-safe; all context arrives as parameters.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Extractor builds the extraction stage messages. now must already be in the
// tenant's timezone so relative dates resolve correctly.
func (b *Builder) Extractor(ws *tenant.Workspace, utterance string, st models.State, now time.Time) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, extractorSystemTemplate, workspaceLabel(ws), intentVocabulary())
	sb.WriteString("\n\n")
	sb.WriteString(FormatSlotSchema(ws.SlotSchema))
	sb.WriteString("\n")
	sb.WriteString(FormatServiceCatalog(ws.Catalog))
	system = sb.String()

	var ub strings.Builder
	ub.WriteString(FormatClock(now))
	ub.WriteString("\n")
	ub.WriteString(FormatKnownSlots(st))
	ub.WriteString("\n## User Message\n")
	ub.WriteString(utterance)
	ub.WriteString("\n\n")
	ub.WriteString(extractionTask)
	user = ub.String()

	return system, user
}

// Planner builds the planning stage messages.
func (b *Builder) Planner(ws *tenant.Workspace, utterance string, st models.State) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, plannerSystemTemplate, workspaceLabel(ws), models.MaxPlanActions, nextActionVocabulary())
	sb.WriteString("\n\n")
	sb.WriteString(FormatToolCatalog(ws))
	system = sb.String()

	var ub strings.Builder
	ub.WriteString(FormatKnownSlots(st))
	ub.WriteString("\n")
	ub.WriteString(FormatHistory(st.History))
	ub.WriteString("\n## User Message\n")
	ub.WriteString(utterance)
	ub.WriteString("\n\n")
	ub.WriteString(planningTask)
	user = ub.String()

	return system, user
}

// Responder builds the response generation messages. directive is the
// planner's instruction; draft, when non-empty, is a template-rendered reply
// the model should rephrase rather than replace.
func (b *Builder) Responder(ws *tenant.Workspace, directive, draft string, st models.State, observations []models.Observation) (system, user string) {
	system = fmt.Sprintf(responderSystemTemplate, workspaceLabel(ws), replyLanguage(ws), models.MaxReplyRunes)

	var ub strings.Builder
	ub.WriteString(FormatKnownSlots(st))
	ub.WriteString("\n")
	ub.WriteString(formatObservationSummary(observations))
	ub.WriteString("\n## Directive\n")
	if directive != "" {
		ub.WriteString(directive)
	} else {
		ub.WriteString("Answer the user helpfully based on the state above.")
	}
	ub.WriteString("\n")
	if draft != "" {
		ub.WriteString("\n## Draft To Rephrase\n")
		ub.WriteString(draft)
		ub.WriteString("\n")
	}
	ub.WriteString("\n")
	ub.WriteString(respondTask)
	user = ub.String()

	return system, user
}

// Legacy builds the single-prompt legacy handler messages.
func (b *Builder) Legacy(ws *tenant.Workspace, utterance string, st models.State, now time.Time) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, legacySystemTemplate, workspaceLabel(ws), replyLanguage(ws), nextActionVocabulary())
	sb.WriteString("\n\n")
	sb.WriteString(FormatServiceCatalog(ws.Catalog))
	system = sb.String()

	var ub strings.Builder
	ub.WriteString(FormatClock(now))
	ub.WriteString("\n")
	ub.WriteString(FormatKnownSlots(st))
	ub.WriteString("\n## User Message\n")
	ub.WriteString(utterance)
	ub.WriteString("\n\n")
	ub.WriteString(legacyTask)
	user = ub.String()

	return system, user
}

// formatObservationSummary renders this turn's tool outcomes for the
// responder. Payloads are passed through as-is; they are tenant tool data,
// not end-user PII channels.
func formatObservationSummary(observations []models.Observation) string {
	if len(observations) == 0 {
		return "## This Turn's Tool Results\nNo tools ran this turn.\n"
	}

	var sb strings.Builder
	sb.WriteString("## This Turn's Tool Results\n")
	for _, obs := range observations {
		fmt.Fprintf(&sb, "- %s → %s", obs.Tool, obs.Kind)
		if len(obs.Payload) > 0 {
			if rendered, err := json.Marshal(obs.Payload); err == nil {
				sb.WriteString(": ")
				sb.Write(rendered)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
