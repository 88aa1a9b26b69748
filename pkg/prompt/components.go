package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

// FormatSlotSchema renders the tenant's declared slots for the extractor.
func FormatSlotSchema(schema map[string]tenant.SlotSpec) string {
	if len(schema) == 0 {
		return "## Slot Schema\nNo slots are declared. Extract none.\n"
	}

	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("## Slot Schema\n")
	for _, name := range names {
		spec := schema[name]
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString(" (")
		sb.WriteString(string(spec.Type))
		if spec.Format != "" {
			sb.WriteString(", format ")
			sb.WriteString(spec.Format)
		}
		if len(spec.Enum) > 0 {
			sb.WriteString(", one of: ")
			sb.WriteString(strings.Join(spec.Enum, " | "))
		}
		if spec.MaxLength > 0 {
			fmt.Fprintf(&sb, ", max %d chars", spec.MaxLength)
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}

// FormatKnownSlots renders the accumulated conversation state.
func FormatKnownSlots(st models.State) string {
	var sb strings.Builder
	sb.WriteString("## Conversation State\n")
	if st.Intent != "" {
		sb.WriteString("Intent so far: ")
		sb.WriteString(string(st.Intent))
		sb.WriteString("\n")
	}
	if st.Objective != "" {
		sb.WriteString("Objective: ")
		sb.WriteString(st.Objective)
		sb.WriteString("\n")
	}

	if len(st.Slots) == 0 {
		sb.WriteString("No known slots yet.\n")
		return sb.String()
	}

	names := make([]string, 0, len(st.Slots))
	for name := range st.Slots {
		names = append(names, name)
	}
	sort.Strings(names)

	sb.WriteString("Known slots:\n")
	for _, name := range names {
		rendered, err := json.Marshal(st.Slots[name])
		if err != nil {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.Write(rendered)
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatToolCatalog renders the workspace's whitelisted tools with their
// argument contracts for the planner.
func FormatToolCatalog(ws *tenant.Workspace) string {
	if len(ws.Tools) == 0 {
		return "## Available Tools\nNo tools are available. Plan no actions.\n"
	}

	names := make([]string, 0, len(ws.Tools))
	for name := range ws.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("## Available Tools\n")
	for i, name := range names {
		spec := ws.Tools[name]
		fmt.Fprintf(&sb, "%d. %s", i+1, name)
		if spec.Mutating {
			sb.WriteString(" (mutating)")
		}
		sb.WriteString("\n")
		sb.WriteString(formatArgSpecs(spec.Args))
		if i < len(names)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func formatArgSpecs(args map[string]tenant.ArgSpec) string {
	if len(args) == 0 {
		return "    Arguments: none\n"
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("    Arguments:\n")
	for _, name := range names {
		arg := args[name]
		sb.WriteString("    - ")
		sb.WriteString(name)
		sb.WriteString(" (")
		sb.WriteString(arg.Type)
		if arg.Required {
			sb.WriteString(", required")
		}
		if arg.Format != "" {
			sb.WriteString(", format ")
			sb.WriteString(arg.Format)
		}
		if len(arg.Enum) > 0 {
			sb.WriteString(", one of: ")
			sb.WriteString(strings.Join(arg.Enum, " | "))
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}

// FormatServiceCatalog renders the tenant's offering for grounding answers
// about services, prices and hours.
func FormatServiceCatalog(c tenant.ServiceCatalog) string {
	if len(c.Services) == 0 && c.Hours == "" {
		return "## Business Catalog\nNo catalog on file.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Business Catalog\n")
	for _, svc := range c.Services {
		sb.WriteString("- ")
		sb.WriteString(svc.Name)
		if svc.Price > 0 {
			sb.WriteString(" $")
			sb.WriteString(strconv.FormatFloat(svc.Price, 'f', -1, 64))
		}
		if svc.DurationMin > 0 {
			fmt.Fprintf(&sb, " (%d min)", svc.DurationMin)
		}
		sb.WriteString("\n")
	}
	if c.Hours != "" {
		sb.WriteString("Hours: ")
		sb.WriteString(c.Hours)
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatHistory renders recent tool outcomes so the planner avoids repeating
// completed work.
func FormatHistory(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "## Recent Tool Results\nNo tool calls yet in this conversation.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Recent Tool Results\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s → %s (%s)\n", e.Tool, e.Kind, e.At.Format(time.RFC3339))
	}
	return sb.String()
}

// FormatClock renders the current local time. Callers pass the time already
// shifted into the tenant's timezone.
func FormatClock(now time.Time) string {
	return fmt.Sprintf("## Current Time\n%s\n", now.Format("Monday 2006-01-02 15:04 (MST)"))
}

// workspaceLabel names the business in prompts.
func workspaceLabel(ws *tenant.Workspace) string {
	if ws.Name != "" {
		return ws.Name
	}
	return ws.WorkspaceID
}

// replyLanguage resolves the tenant's reply language, defaulting to Spanish.
func replyLanguage(ws *tenant.Workspace) string {
	switch strings.ToLower(ws.Language) {
	case "en":
		return "English"
	case "pt":
		return "Portuguese"
	case "", "es":
		return "Spanish"
	default:
		return ws.Language
	}
}

func intentVocabulary() string {
	intents := []models.Intent{
		models.IntentGreeting, models.IntentBook, models.IntentCancel,
		models.IntentReschedule, models.IntentFaqHours, models.IntentFaqServices,
		models.IntentFaqPrices, models.IntentHumanHandoff, models.IntentOther,
	}
	parts := make([]string, len(intents))
	for i, intent := range intents {
		parts[i] = string(intent)
	}
	return strings.Join(parts, ", ")
}

func nextActionVocabulary() string {
	actions := []models.NextAction{
		models.NextActionGreet, models.NextActionSlotFill,
		models.NextActionRetrieveContext, models.NextActionExecuteAction,
		models.NextActionAnswer, models.NextActionAskHuman,
	}
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}
