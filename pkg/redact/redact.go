// Package redact replaces personally identifiable information in telemetry
// payloads with deterministic tokens. Redaction happens before any log or
// metric emission: the same input always produces the same token, so redacted
// events stay correlatable without carrying the original value.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// CompiledPattern holds a pre-compiled regex with the label used in its
// replacement tokens.
type CompiledPattern struct {
	Name  string
	Regex *regexp.Regexp
	Label string

	// Skip filters out matches that only look like PII (ISO dates trip the
	// phone pattern). A nil Skip accepts every match.
	Skip func(match string) bool
}

var (
	emailRegex = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRegex = regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{1,4}\)?(?:[\s.\-]?\d{2,4}){2,}`)

	// Date and clock shapes overlap the phone pattern but are not PII.
	isoDateLike = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:[T\s]\d{2}:\d{2}(?::\d{2})?)?$`)
)

// freeTextFields are argument names whose entire value is caller-authored
// text. They are replaced wholesale: pattern sweeps cannot prove free text
// holds no PII.
var freeTextFields = map[string]string{
	"text":           "TEXT",
	"message":        "TEXT",
	"notes":          "TEXT",
	"comment":        "TEXT",
	"query":          "TEXT",
	"utterance":      "TEXT",
	"reason":         "TEXT",
	"customer_name":  "NAME",
	"contact_name":   "NAME",
	"customer_phone": "PHONE",
	"phone":          "PHONE",
	"phone_number":   "PHONE",
	"customer_email": "EMAIL",
	"email":          "EMAIL",
}

// Service applies deterministic redaction to strings and tool-argument maps.
// Created once at startup; safe for concurrent use.
type Service struct {
	enabled  bool
	patterns []*CompiledPattern
	freeText map[string]string
}

// NewService builds the redaction service. When disabled every method is a
// passthrough; extraFreeTextFields extend the built-in free-text field set
// (values redacted wholesale under the TEXT label).
func NewService(enabled bool, extraFreeTextFields ...string) *Service {
	s := &Service{
		enabled: enabled,
		patterns: []*CompiledPattern{
			{
				Name:  "email",
				Regex: emailRegex,
				Label: "EMAIL",
			},
			{
				Name:  "phone",
				Regex: phoneRegex,
				Label: "PHONE",
				Skip:  func(match string) bool { return isoDateLike.MatchString(match) },
			},
		},
		freeText: make(map[string]string, len(freeTextFields)+len(extraFreeTextFields)),
	}
	for field, label := range freeTextFields {
		s.freeText[field] = label
	}
	for _, field := range extraFreeTextFields {
		s.freeText[strings.ToLower(field)] = "TEXT"
	}

	slog.Info("Redaction service initialized",
		"enabled", enabled,
		"patterns", len(s.patterns),
		"free_text_fields", len(s.freeText))

	return s
}

// Enabled reports whether redaction is active
func (s *Service) Enabled() bool { return s.enabled }

// Token renders the deterministic replacement for a value: the label plus the
// first 8 hex characters of the value's SHA-256.
func Token(label, value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("[%s:%s]", label, hex.EncodeToString(sum[:])[:8])
}

// Text sweeps a string with every pattern, replacing matches with tokens
func (s *Service) Text(in string) string {
	if !s.enabled || in == "" {
		return in
	}
	out := in
	for _, p := range s.patterns {
		out = p.Regex.ReplaceAllStringFunc(out, func(match string) string {
			if p.Skip != nil && p.Skip(match) {
				return match
			}
			return Token(p.Label, match)
		})
	}
	return out
}

// Args returns a redacted deep copy of a tool argument map. Free-text fields
// are replaced wholesale; every other string value gets the pattern sweep.
// The input map is never mutated.
func (s *Service) Args(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	if !s.enabled {
		return args
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		out[key] = s.redactValue(key, value)
	}
	return out
}

func (s *Service) redactValue(key string, value any) any {
	if label, ok := s.freeText[strings.ToLower(key)]; ok {
		return Token(label, fmt.Sprint(value))
	}
	switch t := value.(type) {
	case string:
		return s.Text(t)
	case map[string]any:
		nested := make(map[string]any, len(t))
		for k, v := range t {
			nested[k] = s.redactValue(k, v)
		}
		return nested
	case []any:
		list := make([]any, len(t))
		for i, v := range t {
			// List elements inherit the parent key's classification.
			list[i] = s.redactValue(key, v)
		}
		return list
	default:
		return value
	}
}
