// Package agent implements the banking-alerts assistant: intent classification,
// slot validation, action execution and the staged turn orchestrator that streams
// bot replies to the client.
package agent

import (
	"strings"
)

// Intent is the action a customer asked for.
type Intent string

const (
	IntentSubscribe   Intent = "SUBSCRIBE"
	IntentUnsubscribe Intent = "UNSUBSCRIBE"
	IntentDetails     Intent = "DETAILS"
	IntentUnknown     Intent = "UNKNOWN"
)

// Slot names used by classification params and validation.
const (
	SlotAccountNumber = "accountNumber"
	SlotChannel       = "channel"
)

// Bot utterances emitted by the orchestrator.
const (
	MsgAcknowledge        = "Please wait while we process your request..."
	MsgClarify            = "Sorry, I couldn't understand your request. Could you please rephrase your query?"
	MsgValidating         = "Validation in progress..."
	MsgValidationOK       = "Validation is successful."
	MsgNeedMoreInfoPrefix = "To proceed, please provide the following information: "
	MsgNotEligible        = "Sorry, you are not eligible for this alert."
	MsgValidationFailed   = "Validation failed. Please try again."
	MsgInternalError      = "An error occurred while processing your request. Please try again."
)

// Summaries double as re-entry markers in the session history, so they must
// never change once sessions carrying them exist.
var summaries = []struct {
	intent  Intent
	summary string
}{
	{IntentSubscribe, "You are requesting to subscribe to an alert."},
	{IntentUnsubscribe, "You are requesting to unsubscribe from an alert."},
	{IntentDetails, "You are requesting details about an alert."},
}

// SummaryFor returns the canonical summary of an intent, or "" for UNKNOWN.
func SummaryFor(intent Intent) string {
	for _, s := range summaries {
		if s.intent == intent {
			return s.summary
		}
	}
	return ""
}

// IntentFromSummary returns the intent whose summary text begins the message.
func IntentFromSummary(text string) (Intent, bool) {
	for _, s := range summaries {
		if strings.HasPrefix(text, s.summary) {
			return s.intent, true
		}
	}
	return IntentUnknown, false
}

// ParseIntent maps a loosely formatted intent name to an Intent.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToUpper(strings.TrimSpace(s))) {
	case IntentSubscribe:
		return IntentSubscribe
	case IntentUnsubscribe:
		return IntentUnsubscribe
	case IntentDetails:
		return IntentDetails
	default:
		return IntentUnknown
	}
}

// Classification is the per-turn interpretation of a user utterance.
type Classification struct {
	Intent  Intent            `json:"intent"`
	Summary string            `json:"summary,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// Known reports whether the classification resolved to an actionable intent.
func (c Classification) Known() bool {
	return c.Intent != IntentUnknown && c.Intent != ""
}

// Unknown returns the classification used when nothing could be understood.
func Unknown() Classification {
	return Classification{Intent: IntentUnknown, Params: map[string]string{}}
}

// newClassification builds a classification carrying the canonical summary.
func newClassification(intent Intent) Classification {
	return Classification{
		Intent:  intent,
		Summary: SummaryFor(intent),
		Params:  map[string]string{},
	}
}

// VerdictKind is the outcome of validation.
type VerdictKind string

const (
	VerdictOK           VerdictKind = "OK"
	VerdictNeedMoreInfo VerdictKind = "NEED_MORE_INFO"
	VerdictNotEligible  VerdictKind = "NOT_ELIGIBLE"
	VerdictOtherFailure VerdictKind = "OTHER_FAILURE"
)

// Verdict is the validator's answer for a classification.
type Verdict struct {
	Kind VerdictKind
	// MissingInfo lists the absent slot names; set only for NEED_MORE_INFO.
	MissingInfo string
}

// ActionResult is returned by an Executor.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MessageRequest is the body of POST /api/message.
type MessageRequest struct {
	Message string `json:"message" validate:"required"`
}
