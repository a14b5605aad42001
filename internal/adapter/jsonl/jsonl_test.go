package jsonl

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

func TestRoundTrip_PreservesPropertyTypes(t *testing.T) {
	base := filepath.Join(t.TempDir(), "graph")

	sink := &Sink{}
	require.NoError(t, sink.Open(context.Background(), base))
	require.NoError(t, sink.WriteNode(context.Background(), &kg.Node{
		ID:         "HGNC:11603",
		Categories: []string{"gene", "biological entity"},
		Properties: map[string]any{
			"symbol":     "TBX4",
			"essential":  true,
			"exon_count": int64(9),
			"gc_content": 0.41,
		},
	}))
	require.NoError(t, sink.WriteEdge(context.Background(), &kg.Edge{
		ID:        "HGNC:11603|related to|MONDO:0005002",
		Subject:   "HGNC:11603",
		Predicate: "related to",
		Object:    "MONDO:0005002",
	}))
	require.NoError(t, sink.Finalize(context.Background()))

	src := &Source{}
	require.NoError(t, src.Open(context.Background(), base))
	defer src.Close()
	records := drain(t, src)
	require.Len(t, records, 2)

	node := records[0]
	assert.Equal(t, adapter.KindNode, node.Kind)
	assert.Equal(t, []any{"gene", "biological entity"}, node.Fields[adapter.FieldCategory])
	assert.Equal(t, true, node.Fields["essential"])
	assert.Equal(t, int64(9), node.Fields["exon_count"])
	assert.Equal(t, 0.41, node.Fields["gc_content"])

	edge := records[1]
	assert.Equal(t, adapter.KindEdge, edge.Kind)
	assert.Equal(t, "related to", edge.Fields[adapter.FieldPredicate])
}

func TestSource_MissingEdgesFileTolerated(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nodesonly")
	require.NoError(t, os.WriteFile(base+"_nodes.jsonl",
		[]byte(`{"id":"X:1","category":"gene"}`+"\n"), 0o644))

	src := &Source{}
	require.NoError(t, src.Open(context.Background(), base))
	defer src.Close()
	records := drain(t, src)
	require.Len(t, records, 1)
	assert.Equal(t, "X:1", records[0].Fields[adapter.FieldID])
}

func TestSink_FinalizeIdempotent(t *testing.T) {
	base := filepath.Join(t.TempDir(), "empty")
	sink := &Sink{}
	require.NoError(t, sink.Open(context.Background(), base))
	require.NoError(t, sink.Finalize(context.Background()))
	require.NoError(t, sink.Finalize(context.Background()))

	for _, path := range []string{base + "_nodes.jsonl", base + "_edges.jsonl"} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, data)
	}
}

func TestSource_MalformedLineFails(t *testing.T) {
	base := filepath.Join(t.TempDir(), "bad")
	require.NoError(t, os.WriteFile(base+"_nodes.jsonl", []byte("{not json}\n"), 0o644))

	src := &Source{}
	require.NoError(t, src.Open(context.Background(), base))
	defer src.Close()

	out := make(chan adapter.RawRecord, 1)
	err := src.Read(context.Background(), out)
	var readErr *adapter.SourceReadError
	require.ErrorAs(t, err, &readErr)
}
