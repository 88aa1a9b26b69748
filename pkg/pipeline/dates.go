package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/parlo-ai/parlo/pkg/models"
	"github.com/parlo-ai/parlo/pkg/tenant"
)

const isoDateLayout = "2006-01-02"

var relativeHoursPattern = regexp.MustCompile(`^(?:in|en)\s+(\d{1,3})\s+(?:hours?|horas?)$`)

// normalizeExtractedTimes rewrites date- and time-formatted slots to their
// ISO forms in the workspace timezone, resolving relative expressions
// against now. Values it cannot interpret are left as extracted; the policy
// engine rejects malformed dates later with a phrased denial.
func normalizeExtractedTimes(extraction *models.ExtractionResult, schema map[string]tenant.SlotSpec, now time.Time, loc *time.Location) {
	for name, value := range extraction.Slots {
		spec, declared := schema[name]
		if !declared {
			continue
		}
		raw, isString := value.AsString()
		if !isString {
			continue
		}
		switch spec.Format {
		case "date":
			if normalized, ok := normalizeDate(raw, now, loc); ok {
				extraction.Slots[name] = models.StringSlot(normalized)
			}
		case "time":
			if normalized, ok := normalizeTime(raw, now, loc); ok {
				extraction.Slots[name] = models.StringSlot(normalized)
			}
		}
	}
}

// normalizeDate resolves a date expression to YYYY-MM-DD in loc. Handles the
// relative vocabulary in Spanish and English plus already-ISO input.
func normalizeDate(raw string, now time.Time, loc *time.Location) (string, bool) {
	text := simplify(raw)
	local := now.In(loc)

	switch text {
	case "hoy", "today":
		return local.Format(isoDateLayout), true
	case "mañana", "manana", "tomorrow":
		return local.AddDate(0, 0, 1).Format(isoDateLayout), true
	case "pasado mañana", "pasado manana", "day after tomorrow", "the day after tomorrow":
		return local.AddDate(0, 0, 2).Format(isoDateLayout), true
	}

	if hours, ok := relativeHours(text); ok {
		return local.Add(time.Duration(hours) * time.Hour).Format(isoDateLayout), true
	}

	if _, err := time.ParseInLocation(isoDateLayout, text, loc); err == nil {
		return text, true
	}
	return "", false
}

// normalizeTime resolves a clock expression to HH:MM. Accepts "a las 3pm",
// "at 3pm", "15:00", "3:30pm", bare hours, rioplatense "15hs" and relative
// "in N hours".
func normalizeTime(raw string, now time.Time, loc *time.Location) (string, bool) {
	text := simplify(raw)
	for _, prefix := range []string{"a las ", "a la ", "at "} {
		text = strings.TrimPrefix(text, prefix)
	}
	text = strings.TrimSpace(strings.TrimSuffix(text, "hs"))

	if hours, ok := relativeHours(text); ok {
		return now.In(loc).Add(time.Duration(hours) * time.Hour).Format("15:04"), true
	}

	for _, layout := range []string{"15:04", "3:04pm", "3pm", "15"} {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.Format("15:04"), true
		}
	}
	return "", false
}

func relativeHours(text string) (int, bool) {
	m := relativeHoursPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// simplify lowercases and collapses whitespace, keeping punctuation so ISO
// dates and clock times survive.
func simplify(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// tokenize lowercases and strips punctuation for keyword matching.
func tokenize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
