package reply

import (
	"encoding/json"
	"strconv"
	"strings"
	"text/template"

	"github.com/parlo-ai/parlo/pkg/models"
)

// renderTemplate executes one template row against the turn. Rows see the
// turn through functions, not fields: {{slot "x"}}, {{hasSlot "x"}},
// {{missing}}, {{services}}, {{hours}}, {{workspace}}. A row that fails to
// parse or execute renders empty, which the caller replaces with the
// generic reply.
func renderTemplate(text string, turn Turn) string {
	tmpl, err := template.New("reply").Funcs(renderFuncs(turn)).Parse(text)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, nil); err != nil {
		return ""
	}
	return buf.String()
}

func renderFuncs(turn Turn) template.FuncMap {
	lang := language(turn.Workspace)
	return template.FuncMap{
		"slot": func(name string) string {
			v, ok := turn.State.Slot(name)
			if !ok {
				return ""
			}
			return displaySlot(v)
		},
		"hasSlot": func(name string) bool {
			return turn.State.HasSlot(name)
		},
		"missing": func() string {
			return describeMissing(turn.Plan.MissingSlots, lang)
		},
		"services": func() string {
			return describeServices(turn)
		},
		"hours": func() string {
			if turn.Workspace == nil {
				return ""
			}
			return turn.Workspace.Catalog.Hours
		},
		"workspace": func() string {
			if turn.Workspace == nil {
				return ""
			}
			if turn.Workspace.Name != "" {
				return turn.Workspace.Name
			}
			return turn.Workspace.WorkspaceID
		},
	}
}

// displaySlot renders a slot value for user-facing text.
func displaySlot(v models.SlotValue) string {
	switch v.Kind() {
	case models.SlotKindString:
		s, _ := v.AsString()
		return s
	case models.SlotKindNumber:
		n, _ := v.AsNumber()
		return strconv.FormatFloat(n, 'f', -1, 64)
	case models.SlotKindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case models.SlotKindList:
		items, _ := v.AsList()
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, displaySlot(item))
		}
		return strings.Join(parts, ", ")
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// describeMissing phrases the missing slot list for a slot-fill prompt.
func describeMissing(names []string, lang string) string {
	if len(names) == 0 {
		if lang == "en" {
			return "a bit more detail"
		}
		return "algún dato más"
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, slotDisplayName(name, lang))
	}
	return joinHuman(parts, lang)
}

func slotDisplayName(name, lang string) string {
	if lang == "en" {
		switch name {
		case "service":
			return "the service"
		case "date":
			return "the date"
		case "time":
			return "the time"
		case "phone":
			return "your phone number"
		case "name":
			return "your name"
		case "email":
			return "your email"
		case "party_size":
			return "how many people"
		default:
			return name
		}
	}
	switch name {
	case "service":
		return "el servicio"
	case "date":
		return "la fecha"
	case "time":
		return "el horario"
	case "phone":
		return "tu teléfono"
	case "name":
		return "tu nombre"
	case "email":
		return "tu email"
	case "party_size":
		return "para cuántas personas"
	default:
		return name
	}
}

func joinHuman(parts []string, lang string) string {
	and := " y "
	if lang == "en" {
		and = " and "
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + and + parts[len(parts)-1]
	}
}

func describeServices(turn Turn) string {
	if turn.Workspace == nil || len(turn.Workspace.Catalog.Services) == 0 {
		return ""
	}
	parts := make([]string, 0, len(turn.Workspace.Catalog.Services))
	for _, svc := range turn.Workspace.Catalog.Services {
		if svc.Price > 0 {
			parts = append(parts, svc.Name+" $"+strconv.FormatFloat(svc.Price, 'f', -1, 64))
			continue
		}
		parts = append(parts, svc.Name)
	}
	return strings.Join(parts, ", ")
}
