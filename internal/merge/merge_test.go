package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/graphmeld/internal/kg"
	"github.com/vk/graphmeld/internal/schema"
)

type fakeResolver struct {
	terms map[string]*schema.Term
}

func (f *fakeResolver) Resolve(name string) (*schema.Term, error) {
	if t, ok := f.terms[name]; ok {
		return t, nil
	}
	return nil, &schema.UnknownTermError{Name: name}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{terms: map[string]*schema.Term{
		"named thing": {Name: "named thing", Kind: schema.ClassKind,
			Ancestry: []string{"named thing"}, RootedAncestry: true},
		"gene": {Name: "gene", Kind: schema.ClassKind,
			Ancestry: []string{"gene", "named thing"}, RootedAncestry: true},
		"disease": {Name: "disease", Kind: schema.ClassKind,
			Ancestry: []string{"disease", "named thing"}, RootedAncestry: true},
	}}
}

func newGraph(t *testing.T) *kg.Graph {
	t.Helper()
	g, err := kg.New(kg.Options{Mode: kg.InMemory})
	require.NoError(t, err)
	return g
}

func addNode(t *testing.T, g *kg.Graph, id, category string, props map[string]any) {
	t.Helper()
	if props == nil {
		props = map[string]any{}
	}
	require.NoError(t, g.AddNode(context.Background(),
		&kg.Node{ID: id, Categories: []string{category}, Properties: props}))
}

func addEdge(t *testing.T, g *kg.Graph, subject, predicate, object string) {
	t.Helper()
	require.NoError(t, g.AddEdge(context.Background(),
		&kg.Edge{Subject: subject, Predicate: predicate, Object: object, Properties: map[string]any{}}))
}

func newEngine(policy LeaderPolicy) *Engine {
	return New(newFakeResolver(), Config{Policy: policy, SameAsPredicates: []string{"same as"}})
}

// The concrete scenario from the exchange contract: graph A has n1, graph B
// has n2 plus a same-as edge n2 -> n1. After merge exactly one node survives
// carrying the union of both property sets, and edges that referenced n2 now
// reference the survivor.
func TestCollapse_TwoSourceSameAsScenario(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(LeaderByPrefix)

	a := newGraph(t)
	addNode(t, a, "HGNC:11603", "gene", map[string]any{"name": "TBX4"})

	b := newGraph(t)
	addNode(t, b, "NCBIGene:9496", "gene", map[string]any{"symbol": "TBX4", "name": "T-box 4"})
	addNode(t, b, "MONDO:0005002", "disease", nil)
	addEdge(t, b, "NCBIGene:9496", "same as", "HGNC:11603")
	addEdge(t, b, "NCBIGene:9496", "related to", "MONDO:0005002")

	merged := newGraph(t)
	require.NoError(t, eng.Ingest(ctx, merged, a, "graph-a"))
	require.NoError(t, eng.Ingest(ctx, merged, b, "graph-b"))

	outcome, err := eng.Collapse(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Cliques)
	assert.Equal(t, 1, outcome.Collapsed)
	assert.Empty(t, outcome.Conflicts)

	// HGNC sorts before NCBIGene, so the HGNC identifier leads.
	leader, ok, err := merged.Node("HGNC:11603")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "TBX4", leader.Properties["name"], "leader's scalar wins")
	assert.Equal(t, "TBX4", leader.Properties["symbol"], "absent scalar filled from member")

	_, gone, err := merged.Node("NCBIGene:9496")
	require.NoError(t, err)
	assert.False(t, gone)

	// The related-to edge now hangs off the leader.
	rewritten, ok, err := merged.Edge(kg.DeriveEdgeID("HGNC:11603", "related to", "MONDO:0005002", "graph-b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "HGNC:11603", rewritten.Subject)

	// The same-as edge is consumed by the collapse.
	assert.Equal(t, 1, merged.EdgeCount())

	_, err = merged.Finalize(ctx, kg.AbortOnDangling)
	require.NoError(t, err)
}

func TestCollapse_IdempotentSelfMerge(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(LeaderByPrefix)

	g := newGraph(t)
	addNode(t, g, "A:1", "gene", map[string]any{"name": "a"})
	addNode(t, g, "B:2", "gene", nil)
	addEdge(t, g, "A:1", "related to", "B:2")

	merged := newGraph(t)
	require.NoError(t, eng.Ingest(ctx, merged, g, "src"))
	require.NoError(t, eng.Ingest(ctx, merged, g, "src"))

	_, err := eng.Collapse(ctx, merged)
	require.NoError(t, err)

	assert.Equal(t, 2, merged.NodeCount())
	assert.Equal(t, 1, merged.EdgeCount())
	got, _, err := merged.Node("A:1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Properties["name"])
}

func TestCollapse_LeaderDeterministicAcrossIngestOrder(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(LeaderByPrefix)

	build := func(order []string) *kg.Graph {
		g := newGraph(t)
		for _, id := range order {
			addNode(t, g, id, "gene", map[string]any{"from": id})
		}
		addEdge(t, g, "ZFIN:1", "same as", "HGNC:2")
		_, err := eng.Collapse(ctx, g)
		require.NoError(t, err)
		return g
	}

	forward := build([]string{"ZFIN:1", "HGNC:2"})
	reverse := build([]string{"HGNC:2", "ZFIN:1"})

	for _, g := range []*kg.Graph{forward, reverse} {
		leader, ok, err := g.Node("HGNC:2")
		require.NoError(t, err)
		require.True(t, ok, "HGNC prefix sorts before ZFIN regardless of ingestion order")
		assert.NotNil(t, leader)
		assert.Equal(t, 1, g.NodeCount())
	}
}

func TestCollapse_FirstSeenPolicy(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(LeaderByFirstSeen)

	g := newGraph(t)
	addNode(t, g, "ZFIN:1", "gene", nil)
	addNode(t, g, "HGNC:2", "gene", nil)
	addEdge(t, g, "ZFIN:1", "same as", "HGNC:2")

	_, err := eng.Collapse(ctx, g)
	require.NoError(t, err)

	_, ok, err := g.Node("ZFIN:1")
	require.NoError(t, err)
	assert.True(t, ok, "first-seen identifier leads")
	_, ok, err = g.Node("HGNC:2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollapse_TransitiveClique(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(LeaderByPrefix)

	g := newGraph(t)
	for _, id := range []string{"C:3", "B:2", "A:1"} {
		addNode(t, g, id, "gene", nil)
	}
	addEdge(t, g, "C:3", "same as", "B:2")
	addEdge(t, g, "B:2", "same as", "A:1")

	outcome, err := eng.Collapse(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Cliques)
	assert.Equal(t, 2, outcome.Collapsed)

	_, ok, err := g.Node("A:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, g.NodeCount())
}

func TestCollapse_SiblingCategoriesReported(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(LeaderByPrefix)

	g := newGraph(t)
	addNode(t, g, "A:1", "gene", nil)
	addNode(t, g, "B:2", "disease", nil)
	addEdge(t, g, "A:1", "same as", "B:2")

	outcome, err := eng.Collapse(ctx, g)
	require.NoError(t, err)
	require.Len(t, outcome.Conflicts, 1)
	assert.Equal(t, "gene", outcome.Conflicts[0].LeaderCategory)
	assert.Equal(t, "disease", outcome.Conflicts[0].MemberCategory)

	// The clique still merges.
	leader, ok, err := g.Node("A:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"gene", "disease"}, leader.Categories)
}

func TestCollapse_AncestorCategoryIsNotAConflict(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(LeaderByPrefix)

	g := newGraph(t)
	addNode(t, g, "A:1", "gene", nil)
	addNode(t, g, "B:2", "named thing", nil)
	addEdge(t, g, "A:1", "same as", "B:2")

	outcome, err := eng.Collapse(ctx, g)
	require.NoError(t, err)
	assert.Empty(t, outcome.Conflicts)
}
