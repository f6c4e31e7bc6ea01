package testutil

import (
	"fmt"
	"time"

	"github.com/zimaxnet/engram/core"
)

// Epoch is the stable base time used by test clocks.
var Epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// Clock returns a deterministic clock that advances one second per call.
func Clock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return Epoch.Add(time.Duration(n) * time.Second)
	}
}

// Security returns a security context for the given tenant with sensible
// defaults for tests.
func Security(tenantID string) core.SecurityContext {
	return core.SecurityContext{
		UserID:    "user-1",
		TenantID:  tenantID,
		Roles:     []string{"member"},
		Scopes:    []string{"search"},
		SessionID: "sess-1",
	}
}

// Agent returns an agent descriptor open to the given tenant.
func Agent(id, tenantID string) core.AgentDescriptor {
	return core.AgentDescriptor{
		ID:           id,
		DisplayName:  id,
		Capabilities: []string{"search"},
		Tenants:      []string{tenantID},
	}
}

// TurnBuilder helps construct turns with fluent chaining for tests.
// Example:
//
//	turn := NewTurnBuilder("t-1", 1).Input("hello").Done("hi").Build()
type TurnBuilder struct {
	turn core.Turn
}

// NewTurnBuilder creates a builder for a turn with the given id and sequence.
func NewTurnBuilder(id string, seq int) *TurnBuilder {
	return &TurnBuilder{turn: core.Turn{
		ID:        id,
		Sequence:  seq,
		AgentID:   "agent-1",
		Status:    core.TurnPending,
		StartedAt: Epoch,
	}}
}

// Input sets the user input (chainable).
func (b *TurnBuilder) Input(s string) *TurnBuilder {
	b.turn.Input = s
	return b
}

// Agent sets the handling agent (chainable).
func (b *TurnBuilder) Agent(id string) *TurnBuilder {
	b.turn.AgentID = id
	return b
}

// Done marks the turn completed with the given response text (chainable).
func (b *TurnBuilder) Done(response string) *TurnBuilder {
	b.turn.Status = core.TurnDone
	b.turn.Response = &core.ReasoningResponse{Text: response, Confidence: 1.0}
	b.turn.Verdict = &core.Verdict{Passed: true}
	b.turn.CompletedAt = Epoch.Add(time.Second)
	return b
}

// Failed marks the turn failed with the given code (chainable).
func (b *TurnBuilder) Failed(code string) *TurnBuilder {
	b.turn.Status = core.TurnFailed
	b.turn.FailureCode = code
	b.turn.CompletedAt = Epoch.Add(time.Second)
	return b
}

// Build returns the constructed turn.
func (b *TurnBuilder) Build() core.Turn { return b.turn }

// Turns builds n completed turns with generated ids and inputs.
func Turns(n int) []core.Turn {
	out := make([]core.Turn, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, NewTurnBuilder(fmt.Sprintf("t-%d", i), i).
			Input(fmt.Sprintf("input %d", i)).
			Done(fmt.Sprintf("response %d", i)).
			Build())
	}
	return out
}
