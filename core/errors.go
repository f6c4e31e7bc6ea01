package core

import "errors"

var (
	// ErrNotFound is returned when a conversation id is unknown to the
	// coordinator and its journal.
	ErrNotFound = errors.New("conversation not found")

	// ErrAlreadyExists is returned when a conversation id is reused for a
	// different tenant.
	ErrAlreadyExists = errors.New("conversation already exists")

	// ErrInvalidState is returned when a signal does not apply to the
	// conversation's current status (e.g. send_message on a completed
	// conversation).
	ErrInvalidState = errors.New("signal invalid for conversation state")

	// ErrUnauthorized is returned by the security supplier for unknown or
	// expired session tokens, and by the coordinator for tenant mismatches.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMemoryUnavailable marks a transient memory gateway failure. Pipeline
	// steps retry it with backoff; it only surfaces once retries are exhausted.
	ErrMemoryUnavailable = errors.New("memory gateway unavailable")

	// ErrReasoningTimeout marks a reasoning call that exceeded its deadline.
	// Retryable with a smaller attempt bound than memory failures.
	ErrReasoningTimeout = errors.New("reasoning timed out")

	// ErrReasoningRejected marks a non-retryable refusal from the reasoning
	// gateway. The turn fails immediately.
	ErrReasoningRejected = errors.New("reasoning rejected request")

	// ErrValidationExhausted is recorded when a turn's response failed policy
	// validation more times than the configured bound.
	ErrValidationExhausted = errors.New("validation attempts exhausted")

	// ErrQueueFull is returned when a conversation's signal queue cannot
	// accept another delivery.
	ErrQueueFull = errors.New("signal queue full")

	// ErrQuarantined is returned for conversations halted by a fatal replay
	// or journal error. No further signals are accepted until an operator
	// intervenes.
	ErrQuarantined = errors.New("conversation quarantined")

	// ErrFatal marks journal corruption or a replay mismatch. It is never
	// retried; the affected conversation is quarantined.
	ErrFatal = errors.New("fatal journal error")
)
