package pipeline

import (
	"fmt"
	"strings"

	"github.com/zimaxnet/engram/core"
)

// ValidatorOptions configures the response policy checks.
type ValidatorOptions struct {
	// RestrictedTerms fails validation when found in the response text
	// (case insensitive).
	RestrictedTerms []string
	// MinConfidence fails validation when the reasoning confidence falls
	// below it. Zero disables the check.
	MinConfidence float64
	// AllowEmpty permits empty response text (off by default).
	AllowEmpty bool
}

// Validator applies policy checks to reasoning output. It is pure and
// deterministic: identical inputs always produce the identical verdict,
// which replay relies on.
type Validator struct {
	opts ValidatorOptions
}

// NewValidator constructs a Validator with optional overrides.
func NewValidator(optFns ...func(o *ValidatorOptions)) *Validator {
	opts := ValidatorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Validator{opts: opts}
}

// Validate checks the response against policy: non-empty text, no restricted
// content, tool calls within the agent's capabilities and a sufficient
// confidence. Findings are phrased as correction instructions so they can be
// handed back to the reasoning step verbatim.
func (v *Validator) Validate(rc core.Context, resp core.ReasoningResponse, agent core.AgentDescriptor) core.Verdict {
	var findings []string

	if !v.opts.AllowEmpty && strings.TrimSpace(resp.Text) == "" && len(resp.ToolCalls) == 0 {
		findings = append(findings, "response must not be empty")
	}

	lower := strings.ToLower(resp.Text)
	for _, term := range v.opts.RestrictedTerms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			findings = append(findings, fmt.Sprintf("response contains restricted content %q", term))
		}
	}

	for _, tc := range resp.ToolCalls {
		if !agent.HasCapability(tc.Name) {
			findings = append(findings, fmt.Sprintf("tool %q is outside agent %q capabilities", tc.Name, agent.ID))
		} else if len(rc.Security.Scopes) > 0 && !rc.Security.HasScope(tc.Name) {
			findings = append(findings, fmt.Sprintf("caller lacks scope for tool %q", tc.Name))
		}
	}

	if v.opts.MinConfidence > 0 && resp.Confidence < v.opts.MinConfidence {
		findings = append(findings, fmt.Sprintf("confidence %.2f below required %.2f", resp.Confidence, v.opts.MinConfidence))
	}

	return core.Verdict{Passed: len(findings) == 0, Findings: findings}
}
