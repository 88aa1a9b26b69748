// Package models contains the turn-level domain types shared across the
// pipeline: snapshots, extraction results, plans, tool calls, observations
// and conversation state.
package models

// Intent is the caller's classified goal for a turn
type Intent string

const (
	// IntentGreeting is a salutation with no actionable request
	IntentGreeting Intent = "greeting"
	// IntentBook requests a new appointment
	IntentBook Intent = "book"
	// IntentCancel requests cancelling an existing appointment
	IntentCancel Intent = "cancel"
	// IntentReschedule requests moving an existing appointment
	IntentReschedule Intent = "reschedule"
	// IntentFaqHours asks about opening hours
	IntentFaqHours Intent = "faq_hours"
	// IntentFaqServices asks what services are offered
	IntentFaqServices Intent = "faq_services"
	// IntentFaqPrices asks about prices
	IntentFaqPrices Intent = "faq_prices"
	// IntentHumanHandoff asks for a human operator
	IntentHumanHandoff Intent = "human_handoff"
	// IntentOther is the catch-all for unrecognized goals
	IntentOther Intent = "other"
)

// IsKnown reports whether the intent is one of the built-in labels
func (i Intent) IsKnown() bool {
	switch i {
	case IntentGreeting, IntentBook, IntentCancel, IntentReschedule,
		IntentFaqHours, IntentFaqServices, IntentFaqPrices,
		IntentHumanHandoff, IntentOther:
		return true
	default:
		return false
	}
}

// NormalizeIntent maps arbitrary labels onto the known set, falling back to IntentOther
func NormalizeIntent(label string) Intent {
	i := Intent(label)
	if i.IsKnown() {
		return i
	}
	return IntentOther
}

// NextAction is the conversation-level step the assistant should take next
type NextAction string

const (
	// NextActionGreet greets and offers help
	NextActionGreet NextAction = "GREET"
	// NextActionSlotFill asks the caller for missing slot values
	NextActionSlotFill NextAction = "SLOT_FILL"
	// NextActionRetrieveContext fetches read-only data before answering
	NextActionRetrieveContext NextAction = "RETRIEVE_CONTEXT"
	// NextActionExecuteAction performs a state-changing operation
	NextActionExecuteAction NextAction = "EXECUTE_ACTION"
	// NextActionAnswer answers from data already in hand
	NextActionAnswer NextAction = "ANSWER"
	// NextActionAskHuman hands the conversation to a human operator
	NextActionAskHuman NextAction = "ASK_HUMAN"
)

// IsValid checks if the next action is valid
func (a NextAction) IsValid() bool {
	switch a {
	case NextActionGreet, NextActionSlotFill, NextActionRetrieveContext,
		NextActionExecuteAction, NextActionAnswer, NextActionAskHuman:
		return true
	default:
		return false
	}
}

// ResultKind classifies the outcome of one tool invocation
type ResultKind string

const (
	// ResultSuccess is a 2xx (or local) result with a usable payload
	ResultSuccess ResultKind = "SUCCESS"
	// ResultFailure is a permanent failure after retries were exhausted or skipped
	ResultFailure ResultKind = "FAILURE"
	// ResultTimeout means every attempt exceeded the per-attempt timeout
	ResultTimeout ResultKind = "TIMEOUT"
	// ResultCircuitOpen means the breaker rejected the call without dispatching it
	ResultCircuitOpen ResultKind = "CIRCUIT_OPEN"
	// ResultDuplicate means a cached result was replayed instead of re-executing
	ResultDuplicate ResultKind = "DUPLICATE"
	// ResultDeniedByPolicy means the policy engine refused the action pre-dispatch
	ResultDeniedByPolicy ResultKind = "DENIED_BY_POLICY"
)

// IsValid checks if the result kind is valid
func (k ResultKind) IsValid() bool {
	switch k {
	case ResultSuccess, ResultFailure, ResultTimeout,
		ResultCircuitOpen, ResultDuplicate, ResultDeniedByPolicy:
		return true
	default:
		return false
	}
}

// IsTerminalFailure reports whether the kind should surface as a failed action
// to the reducer (DUPLICATE and SUCCESS both carry usable payloads).
func (k ResultKind) IsTerminalFailure() bool {
	switch k {
	case ResultFailure, ResultTimeout, ResultCircuitOpen, ResultDeniedByPolicy:
		return true
	default:
		return false
	}
}
