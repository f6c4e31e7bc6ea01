// Package router maintains the registry of routable agents and validates
// handoff requests. It holds capability descriptors only; reasoning itself
// lives behind the reasoning gateway. A handoff never interrupts an
// in-flight turn: the coordinator applies the new agent from the next turn.
package router

import (
	"fmt"
	"sync"

	"github.com/zimaxnet/engram/core"
)

// Router is a thread-safe agent registry.
type Router struct {
	mu     sync.RWMutex
	agents map[string]core.AgentDescriptor
}

// New constructs a Router pre-populated with the given agents.
func New(agents ...core.AgentDescriptor) *Router {
	r := &Router{agents: make(map[string]core.AgentDescriptor, len(agents))}
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	return r
}

// Register adds or replaces an agent descriptor.
func (r *Router) Register(a core.AgentDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
}

// Resolve returns the descriptor for the given agent id.
func (r *Router) Resolve(agentID string) (core.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// Agents returns a copy of all registered descriptors.
func (r *Router) Agents() []core.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.AgentDescriptor, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Authorize checks that the agent exists and is permitted for the tenant and
// caller roles. Used both at conversation start and on switch_agent.
func (r *Router) Authorize(agentID, tenantID string, roles []string) (core.AgentDescriptor, error) {
	a, ok := r.Resolve(agentID)
	if !ok {
		return core.AgentDescriptor{}, fmt.Errorf("%w: agent %q", core.ErrNotFound, agentID)
	}
	if !a.AllowsTenant(tenantID) {
		return core.AgentDescriptor{}, fmt.Errorf("%w: agent %q not permitted for tenant %q", core.ErrUnauthorized, agentID, tenantID)
	}
	if !a.AllowsRoles(roles) {
		return core.AgentDescriptor{}, fmt.Errorf("%w: agent %q requires roles %v", core.ErrUnauthorized, agentID, a.Roles)
	}
	return a, nil
}
