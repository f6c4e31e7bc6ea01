package core

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a conversation as exposed by get_status.
type Status string

const (
	// StatusActive accepts send_message and switch_agent signals.
	StatusActive Status = "active"
	// StatusTurnInFlight means a turn pipeline is currently executing.
	StatusTurnInFlight Status = "turn_in_flight"
	// StatusAwaitingSignal means a turn exhausted validation and a human must
	// approve or reject it before the conversation continues.
	StatusAwaitingSignal Status = "awaiting_signal"
	// StatusCompleted is terminal (cancelled or finished).
	StatusCompleted Status = "completed"
	// StatusFailed is terminal; external intervention is required to resume.
	StatusFailed Status = "failed"
	// StatusQuarantined means a fatal journal/replay error halted the
	// conversation. No signals are accepted.
	StatusQuarantined Status = "quarantined"
)

// Terminal reports whether the status admits no further signals besides
// operator intervention.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusQuarantined
}

// Conversation is the durable entity owned exclusively by the coordinator.
// It is mutated only through coordinator-processed signals and turn
// completions, and is never deleted: terminal states are soft.
//
// Contract:
//   - Turns are strictly ordered; turn n+1 is never created before turn n
//     reached a terminal status or the conversation entered AwaitingSignal
//   - Snapshot returns a deep copy so queries observe a consistent state
//     even while a turn is in flight
type Conversation struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Turns       []Turn `json:"turns"`
	Status      Status `json:"status"`
	ActiveAgent string `json:"active_agent"`
	// PendingReview names the turn awaiting approve/reject while the
	// conversation sits in AwaitingSignal.
	PendingReview string    `json:"pending_review,omitempty"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`

	mu sync.RWMutex
}

// NewConversation creates an Active conversation for the tenant with the
// given initial agent.
func NewConversation(id, tenantID, agentID string, now time.Time) *Conversation {
	return &Conversation{
		ID:          id,
		TenantID:    tenantID,
		Status:      StatusActive,
		ActiveAgent: agentID,
		Created:     now,
		Updated:     now,
	}
}

// Snapshot returns a deep copy of the conversation for query handlers.
func (c *Conversation) Snapshot() Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Conversation{
		ID:            c.ID,
		TenantID:      c.TenantID,
		Status:        c.Status,
		ActiveAgent:   c.ActiveAgent,
		PendingReview: c.PendingReview,
		Created:       c.Created,
		Updated:       c.Updated,
		Turns:         make([]Turn, 0, len(c.Turns)),
	}
	for _, t := range c.Turns {
		snap.Turns = append(snap.Turns, t.Clone())
	}
	return snap
}

// TurnCount returns the number of turns created so far.
func (c *Conversation) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Turns)
}

// CurrentStatus returns the status under the read lock.
func (c *Conversation) CurrentStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Status
}

// SetStatus transitions the conversation status and bumps Updated.
func (c *Conversation) SetStatus(s Status, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status = s
	c.Updated = now
}

// SetActiveAgent records a handoff. It never touches an in-flight turn; the
// new agent applies from the next turn on.
func (c *Conversation) SetActiveAgent(agentID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ActiveAgent = agentID
	c.Updated = now
}

// SetPendingReview marks the turn that requires approve/reject.
func (c *Conversation) SetPendingReview(turnID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PendingReview = turnID
	c.Updated = now
}

// AppendTurn adds a new turn. The caller must have established that the
// previous turn is terminal.
func (c *Conversation) AppendTurn(t Turn, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Turns = append(c.Turns, t)
	c.Updated = now
}

// UpdateTurn replaces the stored copy of the turn with the given id.
func (c *Conversation) UpdateTurn(t Turn, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Turns {
		if c.Turns[i].ID == t.ID {
			c.Turns[i] = t
			break
		}
	}
	c.Updated = now
}

// Turn returns a copy of the turn with the given id.
func (c *Conversation) Turn(id string) (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.Turns {
		if c.Turns[i].ID == id {
			return c.Turns[i].Clone(), true
		}
	}
	return Turn{}, false
}

// LastTurn returns a copy of the most recent turn.
func (c *Conversation) LastTurn() (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1].Clone(), true
}

// NextSequence returns the monotonic sequence number for a new turn.
func (c *Conversation) NextSequence() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Turns) + 1
}
