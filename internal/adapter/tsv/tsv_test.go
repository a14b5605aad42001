package tsv

import (
	"context"
	"os"
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
	base := filepath.Join(t.TempDir(), "graph")

	sink := &Sink{}
	require.NoError(t, sink.Open(context.Background(), base))
	require.NoError(t, sink.WriteNode(context.Background(), &kg.Node{
		ID:         "HGNC:11603",
		Categories: []string{"gene"},
		Properties: map[string]any{"symbol": "TBX4", "synonym": []any{"T-box 4", "TBX4A"}},
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
	require.NoError(t, src.Open(context.Background(), base))
	defer src.Close()
	records := drain(t, src)
	require.Len(t, records, 2)

	node := records[0]
	assert.Equal(t, adapter.KindNode, node.Kind)
	assert.Equal(t, "HGNC:11603", node.Fields[adapter.FieldID])
	assert.Equal(t, "gene", node.Fields[adapter.FieldCategory])
	assert.Equal(t, []any{"T-box 4", "TBX4A"}, node.Fields["synonym"])

	edge := records[1]
	assert.Equal(t, adapter.KindEdge, edge.Kind)
	assert.Equal(t, "HGNC:11603", edge.Fields[adapter.FieldSubject])
	assert.Equal(t, "related to", edge.Fields[adapter.FieldPredicate])
	assert.Equal(t, "MONDO:0005002", edge.Fields[adapter.FieldObject])
	assert.Equal(t, "graph-a", edge.Fields["provided_by"])
}

func TestFinalize_ZeroRecordsWritesHeaders(t *testing.T) {
	base := filepath.Join(t.TempDir(), "empty")

	sink := &Sink{}
	require.NoError(t, sink.Open(context.Background(), base))
	require.NoError(t, sink.Finalize(context.Background()))
	// Finalize is idempotent.
	require.NoError(t, sink.Finalize(context.Background()))

	nodes, err := os.ReadFile(base + "_nodes.tsv")
	require.NoError(t, err)
	assert.Equal(t, "id\tcategory\n", string(nodes))

	edges, err := os.ReadFile(base + "_edges.tsv")
	require.NoError(t, err)
	assert.Equal(t, "id\tsubject\tpredicate\tobject\n", string(edges))
}

func TestSource_MissingEdgesFileTolerated(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nodesonly")
	require.NoError(t, os.WriteFile(base+"_nodes.tsv", []byte("id\tcategory\nX:1\tgene\n"), 0o644))

	src := &Source{}
	require.NoError(t, src.Open(context.Background(), base))
	defer src.Close()
	records := drain(t, src)
	require.Len(t, records, 1)
	assert.Equal(t, adapter.KindNode, records[0].Kind)
}

func TestSource_EmptyCellsOmitted(t *testing.T) {
	base := filepath.Join(t.TempDir(), "sparse")
	require.NoError(t, os.WriteFile(base+"_nodes.tsv",
		[]byte("id\tcategory\tname\nX:1\tgene\t\n"), 0o644))

	src := &Source{}
	require.NoError(t, src.Open(context.Background(), base))
	defer src.Close()
	records := drain(t, src)
	require.Len(t, records, 1)
	_, present := records[0].Fields["name"]
	assert.False(t, present)
}
