package core

// SignalKind enumerates the out-of-band instructions a running conversation
// accepts. Signals are queued and processed strictly in arrival order
// relative to other signals for the same conversation.
type SignalKind string

const (
	// SignalSendMessage starts a new turn with the carried message.
	SignalSendMessage SignalKind = "send_message"
	// SignalSwitchAgent hands the conversation to another agent starting
	// with the next turn.
	SignalSwitchAgent SignalKind = "switch_agent"
	// SignalApprove resumes a turn held for human review.
	SignalApprove SignalKind = "approve"
	// SignalReject acknowledges a failed turn and terminates the conversation.
	SignalReject SignalKind = "reject"
	// SignalCancel completes the conversation from any state.
	SignalCancel SignalKind = "cancel"
)

// Signal is one out-of-band instruction. Only the fields relevant to the
// kind are populated.
type Signal struct {
	Kind     SignalKind      `json:"kind"`
	Security SecurityContext `json:"security"`
	// Message is the user input for send_message.
	Message string `json:"message,omitempty"`
	// AgentID is the handoff target for switch_agent.
	AgentID string `json:"agent_id,omitempty"`
	// TurnID identifies the reviewed turn for approve/reject.
	TurnID string `json:"turn_id,omitempty"`
	// Reason carries the human explanation for reject and cancel.
	Reason string `json:"reason,omitempty"`
}

// SendMessage builds a send_message signal.
func SendMessage(sec SecurityContext, message string) Signal {
	return Signal{Kind: SignalSendMessage, Security: sec, Message: message}
}

// SwitchAgent builds a switch_agent signal.
func SwitchAgent(sec SecurityContext, agentID string) Signal {
	return Signal{Kind: SignalSwitchAgent, Security: sec, AgentID: agentID}
}

// Approve builds an approve signal for the named turn.
func Approve(sec SecurityContext, turnID string) Signal {
	return Signal{Kind: SignalApprove, Security: sec, TurnID: turnID}
}

// Reject builds a reject signal for the named turn.
func Reject(sec SecurityContext, turnID, reason string) Signal {
	return Signal{Kind: SignalReject, Security: sec, TurnID: turnID, Reason: reason}
}

// Cancel builds a cancel signal.
func Cancel(sec SecurityContext) Signal {
	return Signal{Kind: SignalCancel, Security: sec}
}
