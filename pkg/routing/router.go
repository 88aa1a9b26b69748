// Package routing decides which pipeline serves a conversation: the staged
// six-stage pipeline or the legacy single-model path. The decision is a pure
// function of the conversation id and the tenant's rollout settings, so a
// conversation stays on one path across turns and across processes.
package routing

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"

	"github.com/parlo-ai/parlo/pkg/telemetry"
)

// Route names one of the two serving paths.
type Route string

const (
	// RouteStaged serves the turn through the staged pipeline
	RouteStaged Route = "STAGED"
	// RouteLegacy serves the turn through the legacy single-model path
	RouteLegacy Route = "LEGACY"
)

// Decision is the routing verdict for one turn.
type Decision struct {
	Route Route `json:"route"`

	// Bucket is the conversation's stable canary bucket in [0, 100).
	Bucket int `json:"bucket"`

	// ConversationHash is a short digest of the conversation id, safe for
	// telemetry correlation without exposing the id itself.
	ConversationHash string `json:"conversation_id_hash"`
}

// Bucket maps a conversation id onto its stable canary bucket: the first 8
// bytes of the id's MD5 digest read big-endian, mod 100.
func Bucket(conversationID string) int {
	sum := md5.Sum([]byte(conversationID))
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}

// ConversationHash returns the 8-character digest prefix used in telemetry.
func ConversationHash(conversationID string) string {
	sum := md5.Sum([]byte(conversationID))
	return hex.EncodeToString(sum[:])[:8]
}

// Decide computes the route without side effects.
//
// Rules, in order: staged disabled always routes LEGACY; canaryPercent of 0
// with staged enabled means full rollout, 100% STAGED (zero is not "off",
// staged_enabled is); otherwise bucket < canaryPercent routes STAGED.
func Decide(conversationID string, stagedEnabled bool, canaryPercent int) Decision {
	d := Decision{
		Bucket:           Bucket(conversationID),
		ConversationHash: ConversationHash(conversationID),
	}
	switch {
	case !stagedEnabled:
		d.Route = RouteLegacy
	case canaryPercent <= 0:
		d.Route = RouteStaged
	case d.Bucket < canaryPercent:
		d.Route = RouteStaged
	default:
		d.Route = RouteLegacy
	}
	return d
}

// Router wraps Decide with telemetry emission.
type Router struct {
	emitter *telemetry.Emitter
}

// NewRouter creates a Router. emitter may be nil in tests.
func NewRouter(emitter *telemetry.Emitter) *Router {
	return &Router{emitter: emitter}
}

// Route decides the serving path for a turn and emits the turn.routed event.
func (r *Router) Route(workspaceID, conversationID string, stagedEnabled bool, canaryPercent int) Decision {
	d := Decide(conversationID, stagedEnabled, canaryPercent)
	if r.emitter != nil {
		r.emitter.EmitTurnRouted(workspaceID, string(d.Route), d.Bucket, d.ConversationHash)
	}
	return d
}
