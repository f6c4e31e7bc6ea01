package core

import "time"

// SecurityContext identifies the caller of a turn. Produced by a
// TokenSupplier from a session token; the tenant id must match the
// conversation's tenant for every turn.
type SecurityContext struct {
	UserID    string   `json:"user_id"`
	TenantID  string   `json:"tenant_id"`
	Roles     []string `json:"roles,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// HasRole reports whether the caller carries the given role.
func (s SecurityContext) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasScope reports whether the caller was granted the given scope.
func (s SecurityContext) HasScope(scope string) bool {
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for independent mutation.
func (s SecurityContext) Clone() SecurityContext {
	c := s
	c.Roles = append([]string(nil), s.Roles...)
	c.Scopes = append([]string(nil), s.Scopes...)
	return c
}

// Exchange is one completed request/response pair inside the episodic window.
type Exchange struct {
	TurnID   string `json:"turn_id"`
	Input    string `json:"input"`
	Response string `json:"response"`
	AgentID  string `json:"agent_id"`
}

// EpisodicState is the conversation-local memory layer: a bounded window of
// recent exchanges plus a rolling summary of everything evicted from it.
type EpisodicState struct {
	ConversationID string     `json:"conversation_id"`
	Recent         []Exchange `json:"recent,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep copy safe for independent mutation.
func (e EpisodicState) Clone() EpisodicState {
	c := e
	c.Recent = append([]Exchange(nil), e.Recent...)
	return c
}

// Fact is a single retrieved knowledge item with a retrieval confidence.
type Fact struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// SemanticKnowledge is the read-only retrieval layer assembled per turn from
// the memory gateway. It is snapshotted at enrich time and never mutated.
type SemanticKnowledge struct {
	Facts    []Fact            `json:"facts,omitempty"`
	Entities map[string]string `json:"entities,omitempty"`
	GraphRef []string          `json:"graph_refs,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (k SemanticKnowledge) Clone() SemanticKnowledge {
	c := k
	c.Facts = append([]Fact(nil), k.Facts...)
	c.GraphRef = append([]string(nil), k.GraphRef...)
	if k.Entities != nil {
		c.Entities = make(map[string]string, len(k.Entities))
		for key, v := range k.Entities {
			c.Entities[key] = v
		}
	}
	return c
}

// OperationalState is the workflow layer: where the conversation is, which
// agent is active and what the current plan looks like. Corrections carries
// validator findings handed back to the reasoning step on a revision attempt.
type OperationalState struct {
	ConversationID string   `json:"conversation_id"`
	TurnID         string   `json:"turn_id"`
	Status         Status   `json:"status"`
	ActiveAgent    string   `json:"active_agent"`
	PlanSteps      []string `json:"plan_steps,omitempty"`
	ActiveTools    []string `json:"active_tools,omitempty"`
	Corrections    []string `json:"corrections,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (o OperationalState) Clone() OperationalState {
	c := o
	c.PlanSteps = append([]string(nil), o.PlanSteps...)
	c.ActiveTools = append([]string(nil), o.ActiveTools...)
	c.Corrections = append([]string(nil), o.Corrections...)
	return c
}

// Context is the four-layer structure handed to the reasoning gateway.
// It is assembled fresh for every turn and treated as immutable once handed
// to a pipeline step; revisions operate on clones (copy-on-write).
type Context struct {
	Security    SecurityContext   `json:"security"`
	Episodic    EpisodicState     `json:"episodic"`
	Semantic    SemanticKnowledge `json:"semantic"`
	Operational OperationalState  `json:"operational"`
	Input       string            `json:"input"`
}

// Clone returns a deep copy of all four layers.
func (c Context) Clone() Context {
	return Context{
		Security:    c.Security.Clone(),
		Episodic:    c.Episodic.Clone(),
		Semantic:    c.Semantic.Clone(),
		Operational: c.Operational.Clone(),
		Input:       c.Input,
	}
}

// WithCorrection returns a clone with a validator finding appended for the
// next reasoning attempt. The receiver is left untouched.
func (c Context) WithCorrection(finding string) Context {
	clone := c.Clone()
	clone.Operational.Corrections = append(clone.Operational.Corrections, finding)
	return clone
}
