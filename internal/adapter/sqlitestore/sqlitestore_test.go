package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/graphmeld/internal/adapter"
	"github.com/vk/graphmeld/internal/kg"
)

func drain(t *testing.T, src adapter.Source) []adapter.RawRecord {
	t.Helper()
	out := make(chan adapter.RawRecord, 64)
	done := make(chan error, 1)
	go func() {
		done <- src.Read(context.Background(), out)
		close(out)
	}()
	var records []adapter.RawRecord
	for rec := range out {
		records = append(records, rec)
	}
	require.NoError(t, <-done)
	return records
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")

	sink := &Sink{}
	require.NoError(t, sink.Open(context.Background(), path))
	require.NoError(t, sink.WriteNode(context.Background(), &kg.Node{
		ID:         "HGNC:11603",
		Categories: []string{"gene", "biological entity"},
		Properties: map[string]any{"symbol": "TBX4", "exon_count": int64(9)},
	}))
	require.NoError(t, sink.WriteNode(context.Background(), &kg.Node{
		ID:         "MONDO:0005002",
		Categories: []string{"disease"},
		Properties: map[string]any{},
	}))
	require.NoError(t, sink.WriteEdge(context.Background(), &kg.Edge{
		ID:         "HGNC:11603|related to|MONDO:0005002",
		Subject:    "HGNC:11603",
		Predicate:  "related to",
		Object:     "MONDO:0005002",
		Properties: map[string]any{"provided_by": "graph-a"},
	}))
	require.NoError(t, sink.Finalize(context.Background()))

	src := &Source{}
	require.NoError(t, src.Open(context.Background(), path))
	defer src.Close()
	records := drain(t, src)
	require.Len(t, records, 3)

	var nodes, edges []adapter.RawRecord
	for _, rec := range records {
		if rec.Kind == adapter.KindNode {
			nodes = append(nodes, rec)
		} else {
			edges = append(edges, rec)
		}
	}
	require.Len(t, nodes, 2)
	require.Len(t, edges, 1)

	byID := make(map[string]adapter.RawRecord, len(nodes))
	for _, n := range nodes {
		byID[n.Fields[adapter.FieldID].(string)] = n
	}
	gene := byID["HGNC:11603"]
	assert.Equal(t, []any{"gene", "biological entity"}, gene.Fields[adapter.FieldCategory])
	assert.Equal(t, "TBX4", gene.Fields["symbol"])
	assert.Equal(t, int64(9), gene.Fields["exon_count"])

	edge := edges[0]
	assert.Equal(t, "HGNC:11603", edge.Fields[adapter.FieldSubject])
	assert.Equal(t, "related to", edge.Fields[adapter.FieldPredicate])
	assert.Equal(t, "MONDO:0005002", edge.Fields[adapter.FieldObject])
	assert.Equal(t, "graph-a", edge.Fields["provided_by"])
}

func TestSink_RewritesDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")

	sink := &Sink{}
	require.NoError(t, sink.Open(context.Background(), path))
	require.NoError(t, sink.WriteNode(context.Background(), &kg.Node{
		ID: "X:1", Properties: map[string]any{"name": "old"},
	}))
	require.NoError(t, sink.WriteNode(context.Background(), &kg.Node{
		ID: "X:1", Properties: map[string]any{"name": "new"},
	}))
	require.NoError(t, sink.Finalize(context.Background()))

	src := &Source{}
	require.NoError(t, src.Open(context.Background(), path))
	defer src.Close()
	records := drain(t, src)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Fields["name"])
}

func TestSink_FinalizeIdempotentOnEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")

	sink := &Sink{}
	require.NoError(t, sink.Open(context.Background(), path))
	require.NoError(t, sink.Finalize(context.Background()))
	require.NoError(t, sink.Finalize(context.Background()))

	src := &Source{}
	require.NoError(t, src.Open(context.Background(), path))
	defer src.Close()
	assert.Empty(t, drain(t, src))
}
