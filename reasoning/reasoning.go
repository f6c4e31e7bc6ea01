// Package reasoning adapts external reasoning providers to the
// core.ReasoningGateway contract. Vendor adapters live in subpackages
// (anthropic, openai); this package holds the shared prompt rendering and a
// deterministic mock for tests and examples.
package reasoning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zimaxnet/engram/core"
)

// SystemPrompt renders the non-conversational context layers (agent
// identity, rolling summary, retrieved knowledge, plan and validator
// corrections) into a single system instruction. Deterministic for identical
// contexts: maps are rendered in sorted key order.
func SystemPrompt(rc core.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are agent %q in conversation %s.",
		rc.Operational.ActiveAgent, rc.Operational.ConversationID)

	if rc.Episodic.Summary != "" {
		b.WriteString("\n\nEarlier conversation summary: ")
		b.WriteString(rc.Episodic.Summary)
	}

	if len(rc.Semantic.Facts) > 0 {
		b.WriteString("\n\nRelevant knowledge:")
		for _, f := range rc.Semantic.Facts {
			fmt.Fprintf(&b, "\n- %s (confidence %.2f)", f.Content, f.Confidence)
		}
	}

	if len(rc.Semantic.Entities) > 0 {
		keys := make([]string, 0, len(rc.Semantic.Entities))
		for k := range rc.Semantic.Entities {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nKnown entities:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, rc.Semantic.Entities[k])
		}
	}

	if len(rc.Operational.PlanSteps) > 0 {
		b.WriteString("\n\nCurrent plan:")
		for _, s := range rc.Operational.PlanSteps {
			fmt.Fprintf(&b, "\n- %s", s)
		}
	}

	if len(rc.Operational.Corrections) > 0 {
		b.WriteString("\n\nYour previous answer was rejected. Address these findings:")
		for _, c := range rc.Operational.Corrections {
			fmt.Fprintf(&b, "\n- %s", c)
		}
	}

	return b.String()
}
