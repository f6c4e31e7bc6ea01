package assembler

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zimaxnet/engram/core"
	"github.com/zimaxnet/engram/internal/testutil"
)

func sampleLayers() (core.SecurityContext, core.EpisodicState, core.SemanticKnowledge, core.OperationalState) {
	sec := testutil.Security("acme")
	epi := core.EpisodicState{
		ConversationID: "conv-1",
		Recent: []core.Exchange{
			{TurnID: "t-1", Input: "hi", Response: "hello", AgentID: "agent-1"},
		},
		Summary: "earlier small talk.",
	}
	sem := core.SemanticKnowledge{
		Facts:    []core.Fact{{ID: "f-1", Content: "the sky is blue", Confidence: 0.9}},
		Entities: map[string]string{"sky": "object"},
	}
	op := core.OperationalState{
		ConversationID: "conv-1",
		TurnID:         "t-2",
		Status:         core.StatusTurnInFlight,
		ActiveAgent:    "agent-1",
	}
	return sec, epi, sem, op
}

func TestAssemble_Deterministic(t *testing.T) {
	sec, epi, sem, op := sampleLayers()

	first := Assemble(sec, epi, sem, op, "what color is the sky?", 8)
	second := Assemble(sec, epi, sem, op, "what color is the sky?", 8)

	assert.Equal(t, first, second)
	assert.Equal(t, core.Fingerprint(first), core.Fingerprint(second))
}

func TestAssemble_CopiesLayers(t *testing.T) {
	sec, epi, sem, op := sampleLayers()

	rc := Assemble(sec, epi, sem, op, "question", 8)

	// Mutating the assembled context must not leak into the inputs.
	rc.Security.Roles[0] = "changed"
	rc.Episodic.Recent[0].Input = "changed"
	rc.Semantic.Facts[0].Content = "changed"
	rc.Semantic.Entities["sky"] = "changed"
	rc.Operational.Corrections = append(rc.Operational.Corrections, "changed")

	assert.Equal(t, "member", sec.Roles[0])
	assert.Equal(t, "hi", epi.Recent[0].Input)
	assert.Equal(t, "the sky is blue", sem.Facts[0].Content)
	assert.Equal(t, "object", sem.Entities["sky"])
	assert.Empty(t, op.Corrections)
}

func TestFoldWindow_KeepsShortWindowIntact(t *testing.T) {
	epi := core.EpisodicState{
		Recent: []core.Exchange{{TurnID: "t-1"}, {TurnID: "t-2"}},
	}
	folded := FoldWindow(epi, 4)
	assert.Len(t, folded.Recent, 2)
	assert.Empty(t, folded.Summary)
}

func TestFoldWindow_EvictsOldestIntoSummary(t *testing.T) {
	var epi core.EpisodicState
	for i := 1; i <= 5; i++ {
		epi.Recent = append(epi.Recent, core.Exchange{
			TurnID:   fmt.Sprintf("t-%d", i),
			Input:    fmt.Sprintf("input %d", i),
			Response: fmt.Sprintf("response %d", i),
			AgentID:  "agent-1",
		})
	}

	folded := FoldWindow(epi, 3)

	require.Len(t, folded.Recent, 3)
	assert.Equal(t, "t-3", folded.Recent[0].TurnID)
	assert.Equal(t, "t-5", folded.Recent[2].TurnID)
	assert.Contains(t, folded.Summary, "[t-1]")
	assert.Contains(t, folded.Summary, "[t-2]")
	assert.NotContains(t, folded.Summary, "[t-3]")
}

func TestFoldWindow_SummaryGrowsAcrossFolds(t *testing.T) {
	epi := core.EpisodicState{
		Summary: "old context.",
		Recent: []core.Exchange{
			{TurnID: "t-7", Input: "a", Response: "b", AgentID: "agent-1"},
			{TurnID: "t-8", Input: "c", Response: "d", AgentID: "agent-1"},
		},
	}

	folded := FoldWindow(epi, 1)

	assert.Contains(t, folded.Summary, "old context.")
	assert.Contains(t, folded.Summary, "[t-7]")
	require.Len(t, folded.Recent, 1)
	assert.Equal(t, "t-8", folded.Recent[0].TurnID)
}

func TestFoldWindow_NonPositiveLimitUsesDefault(t *testing.T) {
	var epi core.EpisodicState
	for i := 0; i < DefaultMaxRecentTurns+2; i++ {
		epi.Recent = append(epi.Recent, core.Exchange{TurnID: fmt.Sprintf("t-%d", i)})
	}
	folded := FoldWindow(epi, 0)
	assert.Len(t, folded.Recent, DefaultMaxRecentTurns)
}

func TestFoldWindow_TruncatesSnippetOnRuneBoundary(t *testing.T) {
	// Three-byte runes put the truncation point mid-rune.
	long := strings.Repeat("日", 40)
	epi := core.EpisodicState{
		Recent: []core.Exchange{
			{TurnID: "t-1", Input: "hi", Response: long, AgentID: "agent-1"},
			{TurnID: "t-2", Input: "again", Response: "short", AgentID: "agent-1"},
		},
	}

	folded := FoldWindow(epi, 1)

	assert.True(t, utf8.ValidString(folded.Summary), "summary contains invalid UTF-8: %q", folded.Summary)
	assert.Contains(t, folded.Summary, "日")
}
