package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zimaxnet/engram/core"
)

// countingGateway wraps InMemoryGateway and counts Retrieve calls so cache
// hits are observable.
type countingGateway struct {
	*InMemoryGateway
	retrieves int
}

func (g *countingGateway) Retrieve(ctx context.Context, tenantID, query string) (core.SemanticKnowledge, error) {
	g.retrieves++
	return g.InMemoryGateway.Retrieve(ctx, tenantID, query)
}

func TestCachingGateway_MemoizesRetrieve(t *testing.T) {
	ctx := context.Background()
	inner := &countingGateway{InMemoryGateway: NewInMemoryGateway()}
	inner.Seed("acme", core.Fact{ID: "f-1", Content: "shipping is free", Confidence: 0.9})

	g, err := NewCachingGateway(inner, 16)
	require.NoError(t, err)

	first, err := g.Retrieve(ctx, "acme", "shipping")
	require.NoError(t, err)
	second, err := g.Retrieve(ctx, "acme", "shipping")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.retrieves)
	assert.Equal(t, 1, g.Len())
}

func TestCachingGateway_KeysIncludeTenant(t *testing.T) {
	ctx := context.Background()
	inner := &countingGateway{InMemoryGateway: NewInMemoryGateway()}

	g, err := NewCachingGateway(inner, 16)
	require.NoError(t, err)

	_, err = g.Retrieve(ctx, "acme", "shipping")
	require.NoError(t, err)
	_, err = g.Retrieve(ctx, "globex", "shipping")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.retrieves)
	assert.Equal(t, 2, g.Len())
}

func TestCachingGateway_CachedKnowledgeIsIsolated(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemoryGateway()
	inner.Seed("acme", core.Fact{ID: "f-1", Content: "original", Confidence: 0.9})

	g, err := NewCachingGateway(inner, 16)
	require.NoError(t, err)

	first, err := g.Retrieve(ctx, "acme", "original")
	require.NoError(t, err)
	first.Facts[0].Content = "mutated"

	second, err := g.Retrieve(ctx, "acme", "original")
	require.NoError(t, err)
	assert.Equal(t, "original", second.Facts[0].Content)
}

func TestCachingGateway_AppendInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemoryGateway()
	inner.BindTenant("conv-1", "acme")
	inner.Seed("acme", core.Fact{ID: "f-1", Content: "shipping is free", Confidence: 0.9})

	g, err := NewCachingGateway(inner, 16)
	require.NoError(t, err)

	before, err := g.Retrieve(ctx, "acme", "shipping")
	require.NoError(t, err)
	require.Len(t, before.Facts, 1)

	_, err = g.Append(ctx, "conv-1", "t-1",
		[]core.Fact{{ID: "t-1/response", Content: "shipping is free over 50", Confidence: 1.0}}, "")
	require.NoError(t, err)
	assert.Zero(t, g.Len())

	after, err := g.Retrieve(ctx, "acme", "shipping")
	require.NoError(t, err)
	assert.Len(t, after.Facts, 2)
}
