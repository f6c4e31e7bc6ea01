package memory

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zimaxnet/engram/core"
)

// CachingGateway memoizes Retrieve results in a size-bounded LRU keyed by
// (tenantID, query). Append writes through to the inner gateway and
// invalidates the tenant's cached lookups, keeping retrieval snapshots from
// going stale within a conversation.
type CachingGateway struct {
	inner core.MemoryGateway
	cache *lru.Cache[string, core.SemanticKnowledge]
}

// NewCachingGateway wraps inner with an LRU of the given size. Size must be
// positive; lru.New only fails on a non-positive size, so the error is
// surfaced rather than swallowed.
func NewCachingGateway(inner core.MemoryGateway, size int) (*CachingGateway, error) {
	cache, err := lru.New[string, core.SemanticKnowledge](size)
	if err != nil {
		return nil, err
	}
	return &CachingGateway{inner: inner, cache: cache}, nil
}

func cacheKey(tenantID, query string) string { return tenantID + "\x00" + query }

// Retrieve returns the cached snapshot when present, otherwise delegates and
// caches the result. Cached knowledge is cloned on the way out so callers
// cannot mutate the shared copy.
func (g *CachingGateway) Retrieve(ctx context.Context, tenantID, query string) (core.SemanticKnowledge, error) {
	if know, ok := g.cache.Get(cacheKey(tenantID, query)); ok {
		return know.Clone(), nil
	}
	know, err := g.inner.Retrieve(ctx, tenantID, query)
	if err != nil {
		return core.SemanticKnowledge{}, err
	}
	g.cache.Add(cacheKey(tenantID, query), know.Clone())
	return know, nil
}

// Append writes through and invalidates cached lookups. The tenant cannot be
// derived from the conversation id alone, so the whole cache is dropped;
// retrieval re-populates on the next enrich.
func (g *CachingGateway) Append(ctx context.Context, conversationID, turnID string, facts []core.Fact, transcript string) ([]string, error) {
	refs, err := g.inner.Append(ctx, conversationID, turnID, facts, transcript)
	if err != nil {
		return nil, err
	}
	g.cache.Purge()
	return refs, nil
}

// Len reports the number of cached lookups (used by tests).
func (g *CachingGateway) Len() int { return g.cache.Len() }

// BindTenant forwards the conversation/tenant association to the inner
// gateway when it supports one.
func (g *CachingGateway) BindTenant(conversationID, tenantID string) {
	if b, ok := g.inner.(interface {
		BindTenant(conversationID, tenantID string)
	}); ok {
		b.BindTenant(conversationID, tenantID)
	}
}
