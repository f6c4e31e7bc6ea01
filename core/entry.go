package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EntryKind categorizes durable log entries.
type EntryKind string

const (
	// EntryConversationStarted opens a conversation's log.
	EntryConversationStarted EntryKind = "conversation_started"
	// EntryTurnStarted records creation of a turn and its input.
	EntryTurnStarted EntryKind = "turn_started"
	// EntryStepCompleted checkpoints one pipeline step outcome.
	EntryStepCompleted EntryKind = "step_completed"
	// EntryTurnCompleted records a turn reaching Done or Failed.
	EntryTurnCompleted EntryKind = "turn_completed"
	// EntryAgentSwitched records a handoff to another agent.
	EntryAgentSwitched EntryKind = "agent_switched"
	// EntryReviewRequested records a turn entering human review.
	EntryReviewRequested EntryKind = "review_requested"
	// EntryReviewResolved records the approve/reject outcome of a review.
	EntryReviewResolved EntryKind = "review_resolved"
	// EntryCancelled records conversation cancellation.
	EntryCancelled EntryKind = "cancelled"
)

// LogEntry is one append-only record in the durable log. Replaying all
// entries of a conversation in sequence order reproduces its exact state
// without re-invoking external side effects.
type LogEntry struct {
	Seq         int64           `json:"seq"`
	Kind        EntryKind       `json:"kind"`
	TurnID      string          `json:"turn_id,omitempty"`
	Step        Step            `json:"step,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ConversationStartedPayload opens a conversation.
type ConversationStartedPayload struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
}

// TurnStartedPayload records a new turn and the security context that
// authorized it.
type TurnStartedPayload struct {
	TurnID   string          `json:"turn_id"`
	Sequence int             `json:"sequence"`
	Input    string          `json:"input"`
	AgentID  string          `json:"agent_id"`
	Security SecurityContext `json:"security"`
}

// StepCompletedPayload carries the serialized output of one step attempt.
// The shape of Output depends on the step: Context for enrich,
// ReasoningResponse for reason, Verdict for validate and a string slice of
// fact references for persist.
type StepCompletedPayload struct {
	TurnID  string          `json:"turn_id"`
	Step    Step            `json:"step"`
	Attempt int             `json:"attempt"`
	Output  json.RawMessage `json:"output"`
}

// TurnCompletedPayload records a turn's terminal status.
type TurnCompletedPayload struct {
	TurnID      string     `json:"turn_id"`
	Status      TurnStatus `json:"status"`
	FailureCode string     `json:"failure_code,omitempty"`
}

// AgentSwitchedPayload records a handoff target.
type AgentSwitchedPayload struct {
	AgentID string `json:"agent_id"`
}

// ReviewRequestedPayload names the turn held for human review.
type ReviewRequestedPayload struct {
	TurnID string `json:"turn_id"`
}

// ReviewResolvedPayload records the human decision.
type ReviewResolvedPayload struct {
	TurnID   string `json:"turn_id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// CancelledPayload records why a conversation was cancelled, if given.
type CancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewLogEntry marshals payload and wraps it into an entry. Seq is assigned
// by the single writer (the coordinator's conversation loop).
func NewLogEntry(seq int64, kind EntryKind, payload any, ts time.Time) (LogEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return LogEntry{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return LogEntry{Seq: seq, Kind: kind, Payload: raw, Timestamp: ts}, nil
}

// DecodePayload unmarshals the entry payload into v.
func DecodePayload(e LogEntry, v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s payload at seq %d: %v", ErrFatal, e.Kind, e.Seq, err)
	}
	return nil
}

// Fingerprint returns the canonical-JSON SHA-256 of v. Step entries carry the
// fingerprint of their input so replay can detect divergence between the
// recorded execution and the reconstructed one.
func Fingerprint(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
