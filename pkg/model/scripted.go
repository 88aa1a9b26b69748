package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ScriptEntry defines a single scripted completion.
type ScriptEntry struct {
	// JSON is returned verbatim as the completion body.
	JSON string
	// Err, when set, is returned instead of a completion.
	Err error
	// Delay, when positive, blocks the call before responding so deadline
	// behavior can be exercised. Context cancellation wins over the delay.
	Delay time.Duration
}

// Scripted implements Client with a dual-dispatch script: per-model routing
// for multi-stage turns plus a sequential fallback for single-call tests.
// Calls are captured for assertion.
type Scripted struct {
	mu         sync.Mutex
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry // model name → per-model script
	routeIndex map[string]int
	captured   []Request
}

// NewScripted creates an empty Scripted client.
func NewScripted() *Scripted {
	return &Scripted{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential adds an entry consumed in insertion order by calls that have
// no routed entry left for their model.
func (s *Scripted) AddSequential(entry ScriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequential = append(s.sequential, entry)
}

// AddRouted adds an entry consumed by the next call for the given model name.
func (s *Scripted) AddRouted(modelName string, entry ScriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[modelName] = append(s.routes[modelName], entry)
}

// Complete implements Client.
func (s *Scripted) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	s.mu.Lock()
	s.captured = append(s.captured, req)
	entry, err := s.nextEntry(req.Model)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if entry.Delay > 0 {
		select {
		case <-time.After(entry.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if entry.Err != nil {
		return nil, entry.Err
	}
	return json.RawMessage(entry.JSON), nil
}

// Calls returns a copy of every captured request in call order.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.captured))
	copy(out, s.captured)
	return out
}

// CallCount returns the total number of Complete calls made.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captured)
}

// nextEntry selects the next script entry: routed first, then sequential.
// Must be called with s.mu held.
func (s *Scripted) nextEntry(modelName string) (*ScriptEntry, error) {
	if entries, ok := s.routes[modelName]; ok {
		idx := s.routeIndex[modelName]
		if idx < len(entries) {
			s.routeIndex[modelName] = idx + 1
			return &entries[idx], nil
		}
	}
	if s.seqIndex < len(s.sequential) {
		entry := &s.sequential[s.seqIndex]
		s.seqIndex++
		return entry, nil
	}
	return nil, fmt.Errorf("scripted model client: no more entries (model=%q, sequential=%d/%d)",
		modelName, s.seqIndex, len(s.sequential))
}
