package core

import "time"

// TurnStatus tracks a turn through the pipeline.
type TurnStatus string

const (
	// TurnPending means the turn was created but no step ran yet.
	TurnPending TurnStatus = "pending"
	// TurnEnriching means the context assembly / retrieval step is running.
	TurnEnriching TurnStatus = "enriching"
	// TurnReasoning means the reasoning gateway call is running.
	TurnReasoning TurnStatus = "reasoning"
	// TurnValidating means policy checks are running against the response.
	TurnValidating TurnStatus = "validating"
	// TurnPersisting means facts and transcript are being appended to memory.
	TurnPersisting TurnStatus = "persisting"
	// TurnDone is terminal: the turn completed and is immutable.
	TurnDone TurnStatus = "done"
	// TurnFailed is terminal: the turn failed and is immutable.
	TurnFailed TurnStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TurnStatus) Terminal() bool { return s == TurnDone || s == TurnFailed }

// Step names the four durable pipeline stages.
type Step string

const (
	// StepEnrich assembles the context and retrieves semantic knowledge.
	StepEnrich Step = "enrich"
	// StepReason invokes the reasoning gateway.
	StepReason Step = "reason"
	// StepValidate applies policy checks to the reasoning output.
	StepValidate Step = "validate"
	// StepPersist appends facts and the transcript to long-term memory.
	StepPersist Step = "persist"
)

// ToolCall is a tool invocation request surfaced by the reasoning gateway.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ReasoningResponse is the structured output of one reasoning attempt.
type ReasoningResponse struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Confidence float64    `json:"confidence"`
}

// Verdict is the outcome of one validation attempt.
type Verdict struct {
	Passed   bool     `json:"passed"`
	Findings []string `json:"findings,omitempty"`
}

// Turn is one request/response cycle. Sequence is monotonic within a
// conversation. Once the status is terminal the turn must not be mutated;
// stores hand out copies to enforce this.
type Turn struct {
	ID          string             `json:"id"`
	Sequence    int                `json:"sequence"`
	Input       string             `json:"input"`
	AgentID     string             `json:"agent_id"`
	Status      TurnStatus         `json:"status"`
	Context     *Context           `json:"context,omitempty"`
	Response    *ReasoningResponse `json:"response,omitempty"`
	Verdict     *Verdict           `json:"verdict,omitempty"`
	FactRefs    []string           `json:"fact_refs,omitempty"`
	FailureCode string             `json:"failure_code,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	c := t
	if t.Context != nil {
		ctx := t.Context.Clone()
		c.Context = &ctx
	}
	if t.Response != nil {
		resp := *t.Response
		resp.ToolCalls = append([]ToolCall(nil), t.Response.ToolCalls...)
		c.Response = &resp
	}
	if t.Verdict != nil {
		v := *t.Verdict
		v.Findings = append([]string(nil), t.Verdict.Findings...)
		c.Verdict = &v
	}
	c.FactRefs = append([]string(nil), t.FactRefs...)
	return c
}

// ResponseText returns the reasoning output text, or "" before reason ran.
func (t Turn) ResponseText() string {
	if t.Response == nil {
		return ""
	}
	return t.Response.Text
}
