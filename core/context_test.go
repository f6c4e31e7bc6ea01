package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityContext_RolesAndScopes(t *testing.T) {
	sec := SecurityContext{Roles: []string{"member"}, Scopes: []string{"search"}}

	assert.True(t, sec.HasRole("member"))
	assert.False(t, sec.HasRole("admin"))
	assert.True(t, sec.HasScope("search"))
	assert.False(t, sec.HasScope("delete"))
}

func TestContext_CloneIsDeep(t *testing.T) {
	rc := Context{
		Security: SecurityContext{Roles: []string{"member"}},
		Episodic: EpisodicState{Recent: []Exchange{{TurnID: "t-1", Input: "hi"}}},
		Semantic: SemanticKnowledge{
			Facts:    []Fact{{ID: "f-1", Content: "original"}},
			Entities: map[string]string{"k": "v"},
		},
		Operational: OperationalState{PlanSteps: []string{"step"}},
		Input:       "question",
	}

	clone := rc.Clone()
	clone.Security.Roles[0] = "changed"
	clone.Episodic.Recent[0].Input = "changed"
	clone.Semantic.Facts[0].Content = "changed"
	clone.Semantic.Entities["k"] = "changed"
	clone.Operational.PlanSteps[0] = "changed"

	assert.Equal(t, "member", rc.Security.Roles[0])
	assert.Equal(t, "hi", rc.Episodic.Recent[0].Input)
	assert.Equal(t, "original", rc.Semantic.Facts[0].Content)
	assert.Equal(t, "v", rc.Semantic.Entities["k"])
	assert.Equal(t, "step", rc.Operational.PlanSteps[0])
}

func TestContext_WithCorrectionLeavesReceiverUntouched(t *testing.T) {
	rc := Context{Input: "question"}

	revised := rc.WithCorrection("response was empty")
	twice := revised.WithCorrection("still wrong")

	assert.Empty(t, rc.Operational.Corrections)
	assert.Equal(t, []string{"response was empty"}, revised.Operational.Corrections)
	assert.Equal(t, []string{"response was empty", "still wrong"}, twice.Operational.Corrections)
}

func TestTurn_CloneIsDeep(t *testing.T) {
	rc := Context{Input: "q"}
	turn := Turn{
		ID:       "t-1",
		Context:  &rc,
		Response: &ReasoningResponse{Text: "a", ToolCalls: []ToolCall{{Name: "search"}}},
		Verdict:  &Verdict{Passed: false, Findings: []string{"finding"}},
		FactRefs: []string{"ref-1"},
	}

	clone := turn.Clone()
	clone.Context.Input = "changed"
	clone.Response.ToolCalls[0].Name = "changed"
	clone.Verdict.Findings[0] = "changed"
	clone.FactRefs[0] = "changed"

	assert.Equal(t, "q", turn.Context.Input)
	assert.Equal(t, "search", turn.Response.ToolCalls[0].Name)
	assert.Equal(t, "finding", turn.Verdict.Findings[0])
	assert.Equal(t, "ref-1", turn.FactRefs[0])
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusTurnInFlight.Terminal())
	assert.False(t, StatusAwaitingSignal.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusQuarantined.Terminal())
}

func TestTurnStatus_Terminal(t *testing.T) {
	assert.True(t, TurnDone.Terminal())
	assert.True(t, TurnFailed.Terminal())
	assert.False(t, TurnPending.Terminal())
	assert.False(t, TurnReasoning.Terminal())
}
