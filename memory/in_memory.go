// Package memory provides MemoryGateway implementations: a process-local
// store suitable for tests and demos, and a size-bounded caching decorator
// for any gateway. Production deployments typically wrap a semantic retrieval
// service behind the same interface.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zimaxnet/engram/core"
)

// storedFact is the internal representation persisted by InMemoryGateway.
type storedFact struct {
	ref     string
	tenant  string
	content string
	fact    core.Fact
}

// InMemoryGateway is a naive process-local MemoryGateway. Retrieval is a
// linear substring scan; Append is idempotent on (conversationID, turnID) as
// required by the pipeline's persist step. Concurrency: RWMutex.
type InMemoryGateway struct {
	mu      sync.RWMutex
	tenants map[string]string // conversationID -> tenantID, set on first append
	facts   []storedFact
	// appended keys ("conversationID/turnID") guard idempotence: a repeat
	// append returns the previously produced refs without storing anything.
	appended map[string][]string
}

// NewInMemoryGateway constructs an empty in-memory gateway.
func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		tenants:  make(map[string]string),
		appended: make(map[string][]string),
	}
}

// Retrieve performs a substring match over the tenant's stored facts and
// returns them ordered by descending confidence, then ref, so results are
// deterministic for identical store contents.
func (g *InMemoryGateway) Retrieve(_ context.Context, tenantID, query string) (core.SemanticKnowledge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var facts []core.Fact
	for _, sf := range g.facts {
		if sf.tenant != tenantID {
			continue
		}
		if query == "" || strings.Contains(strings.ToLower(sf.content), strings.ToLower(query)) {
			facts = append(facts, sf.fact)
		}
	}
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].Confidence != facts[j].Confidence {
			return facts[i].Confidence > facts[j].Confidence
		}
		return facts[i].ID < facts[j].ID
	})
	return core.SemanticKnowledge{Facts: facts}, nil
}

// Append stores the turn's facts and transcript. Idempotent: repeating the
// same (conversationID, turnID) returns the original refs and stores nothing.
func (g *InMemoryGateway) Append(_ context.Context, conversationID, turnID string, facts []core.Fact, transcript string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := conversationID + "/" + turnID
	if refs, ok := g.appended[key]; ok {
		return append([]string(nil), refs...), nil
	}

	tenant := g.tenants[conversationID]
	refs := make([]string, 0, len(facts)+1)
	for i, f := range facts {
		ref := fmt.Sprintf("%s/%s/fact-%d", conversationID, turnID, i)
		g.facts = append(g.facts, storedFact{ref: ref, tenant: tenant, content: f.Content, fact: f})
		refs = append(refs, ref)
	}
	if transcript != "" {
		ref := key + "/transcript"
		g.facts = append(g.facts, storedFact{
			ref:    ref,
			tenant: tenant, content: transcript,
			fact: core.Fact{ID: ref, Content: transcript, Confidence: 1.0},
		})
		refs = append(refs, ref)
	}
	g.appended[key] = refs
	return append([]string(nil), refs...), nil
}

// BindTenant associates a conversation with its tenant so appended facts are
// retrievable under that tenant's scope.
func (g *InMemoryGateway) BindTenant(conversationID, tenantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tenants[conversationID] = tenantID
}

// Seed inserts a fact directly, bypassing the idempotence ledger. Intended
// for tests and demos.
func (g *InMemoryGateway) Seed(tenantID string, fact core.Fact) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.facts = append(g.facts, storedFact{ref: fact.ID, tenant: tenantID, content: fact.Content, fact: fact})
}
