package core

// AgentDescriptor describes a routable agent persona: its identity, what it
// can do and who may use it. Agents carry no reasoning logic of their own;
// reasoning lives behind the ReasoningGateway. Dynamic persona/tool sets map
// onto this registry-resolved descriptor rather than onto type hierarchies.
type AgentDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	// Capabilities lists the tool names this agent may request.
	Capabilities []string `json:"capabilities,omitempty"`
	// Tenants restricts which tenants may route to this agent. Empty means
	// every tenant is allowed.
	Tenants []string `json:"tenants,omitempty"`
	// Roles restricts which caller roles may hand off to this agent. Empty
	// means no role requirement.
	Roles []string `json:"roles,omitempty"`
}

// AllowsTenant reports whether the tenant may use this agent.
func (d AgentDescriptor) AllowsTenant(tenantID string) bool {
	if len(d.Tenants) == 0 {
		return true
	}
	for _, t := range d.Tenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

// AllowsRoles reports whether any of the caller's roles satisfies the
// agent's role requirement.
func (d AgentDescriptor) AllowsRoles(roles []string) bool {
	if len(d.Roles) == 0 {
		return true
	}
	for _, required := range d.Roles {
		for _, r := range roles {
			if r == required {
				return true
			}
		}
	}
	return false
}

// HasCapability reports whether the agent may use the named tool.
func (d AgentDescriptor) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
