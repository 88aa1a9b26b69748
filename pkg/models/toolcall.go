package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ToolCall is one fully-resolved action handed to the broker for execution
type ToolCall struct {
	WorkspaceID    string         `json:"workspace_id"`
	ConversationID string         `json:"conversation_id"`
	TurnID         string         `json:"turn_id"`
	Tool           string         `json:"tool_name"`
	Args           map[string]any `json:"arguments"`
}

// CanonicalArgs renders arguments as canonical JSON: round-tripped through
// plain decoded values so object keys serialize in sorted order regardless of
// the source representation.
func CanonicalArgs(args map[string]any) ([]byte, error) {
	if args == nil {
		return []byte("{}"), nil
	}
	first, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("canonicalize arguments: %w", err)
	}
	var plain any
	if err := json.Unmarshal(first, &plain); err != nil {
		return nil, fmt.Errorf("canonicalize arguments: %w", err)
	}
	out, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("canonicalize arguments: %w", err)
	}
	return out, nil
}

// Fingerprint is the stable identity of this call: SHA-256 over workspace id,
// tool name and canonical argument JSON. Equal inputs always produce equal
// fingerprints; key order and whitespace never matter.
func (c ToolCall) Fingerprint() string {
	canonical, err := CanonicalArgs(c.Args)
	if err != nil {
		// Unmarshalable arguments cannot be deduplicated; fall back to a
		// fingerprint unique to this call so caching is skipped, not corrupted.
		canonical = []byte(fmt.Sprintf("unhashable:%s:%s:%s", c.WorkspaceID, c.TurnID, c.Tool))
	}
	var buf bytes.Buffer
	buf.WriteString(c.WorkspaceID)
	buf.WriteByte(0)
	buf.WriteString(c.Tool)
	buf.WriteByte(0)
	buf.Write(canonical)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}
