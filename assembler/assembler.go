// Package assembler builds the four-layer turn context. Assemble is a pure
// function: no I/O, no clocks, no randomness. The coordinator re-runs it
// during replay with inputs reconstructed from the journal and must get the
// byte-identical result without touching any external service.
package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zimaxnet/engram/core"
)

// DefaultMaxRecentTurns bounds the episodic window when the caller passes a
// non-positive limit.
const DefaultMaxRecentTurns = 8

// summarySnippetLen bounds how much of a folded response survives into the
// rolling summary.
const summarySnippetLen = 80

// Assemble merges the four layers into a fresh Context. Every layer is
// deep-copied so the returned context can be handed to the reasoning step
// without aliasing caller state. The episodic window is folded to maxRecent
// exchanges, oldest first, with evicted exchanges appended to the rolling
// summary.
func Assemble(
	sec core.SecurityContext,
	epi core.EpisodicState,
	sem core.SemanticKnowledge,
	op core.OperationalState,
	input string,
	maxRecent int,
) core.Context {
	return core.Context{
		Security:    sec.Clone(),
		Episodic:    FoldWindow(epi.Clone(), maxRecent),
		Semantic:    sem.Clone(),
		Operational: op.Clone(),
		Input:       input,
	}
}

// FoldWindow enforces the bounded recent-turn window. Exchanges beyond the
// limit are evicted oldest-first and folded into the summary. Deterministic:
// identical inputs give identical outputs, and UpdatedAt is never touched
// here (it comes from replayed state).
func FoldWindow(epi core.EpisodicState, maxRecent int) core.EpisodicState {
	if maxRecent <= 0 {
		maxRecent = DefaultMaxRecentTurns
	}
	if len(epi.Recent) <= maxRecent {
		return epi
	}
	evicted := epi.Recent[:len(epi.Recent)-maxRecent]
	epi.Summary = appendToSummary(epi.Summary, evicted)
	epi.Recent = append([]core.Exchange(nil), epi.Recent[len(epi.Recent)-maxRecent:]...)
	return epi
}

func appendToSummary(summary string, evicted []core.Exchange) string {
	var b strings.Builder
	b.WriteString(summary)
	for _, ex := range evicted {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "[%s] user: %s / %s: %s.", ex.TurnID, ex.Input, ex.AgentID, snippet(ex.Response))
	}
	return b.String()
}

func snippet(s string) string {
	if len(s) <= summarySnippetLen {
		return s
	}
	cut := summarySnippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
