package core

import "context"

// MemoryGateway is the long-term memory collaborator. Implementations must
// be safe for concurrent use by many conversations and must keep Append
// idempotent on (conversationID, turnID): re-invocation with the same pair
// and content must not create duplicate facts.
type MemoryGateway interface {
	// Retrieve returns a read-only knowledge snapshot for the query scoped
	// to the tenant. Transient unavailability is reported as
	// ErrMemoryUnavailable (wrapped) so the pipeline can retry.
	Retrieve(ctx context.Context, tenantID, query string) (SemanticKnowledge, error)

	// Append stores the turn's extracted facts and transcript. Returns the
	// stable references of the stored facts.
	Append(ctx context.Context, conversationID, turnID string, facts []Fact, transcript string) ([]string, error)
}

// ReasoningGateway invokes the external reasoning component ("the brain").
// It is stateless from the coordinator's perspective and must respect the
// deadline on ctx; an exceeded deadline is surfaced as ErrReasoningTimeout
// and a refusal as ErrReasoningRejected.
type ReasoningGateway interface {
	Generate(ctx context.Context, rc Context) (ReasoningResponse, error)
}

// TokenSupplier resolves a session token into a security context, or fails
// with ErrUnauthorized.
type TokenSupplier interface {
	Resolve(ctx context.Context, token string) (SecurityContext, error)
}
