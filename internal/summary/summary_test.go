package summary

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/graphmeld/internal/kg"
)

func inspectFixture(s *Summary) {
	s.InspectNode(&kg.Node{ID: "HGNC:11603", Categories: []string{"gene"}})
	s.InspectNode(&kg.Node{ID: "HGNC:11604", Categories: []string{"gene"}})
	s.InspectNode(&kg.Node{ID: "MONDO:0005002", Categories: []string{"disease"}})
	s.InspectNode(&kg.Node{ID: "orphan"})
	s.InspectEdge(&kg.Edge{Subject: "HGNC:11603", Predicate: "related to", Object: "MONDO:0005002"})
	s.InspectEdge(&kg.Edge{Subject: "HGNC:11604", Predicate: "related to", Object: "MONDO:0005002"})
}

func TestInspect_Counts(t *testing.T) {
	s := New("test-graph")
	inspectFixture(s)

	assert.Equal(t, 4, s.TotalNodes())
	assert.Equal(t, 2, s.TotalEdges())
}

func TestWriteJSON_Document(t *testing.T) {
	s := New("test-graph")
	inspectFixture(s)

	var buf bytes.Buffer
	require.NoError(t, s.WriteJSON(&buf))

	var doc struct {
		Name             string                    `json:"graph_name"`
		TotalNodes       int                       `json:"total_nodes"`
		NodeCategories   []string                  `json:"node_categories"`
		CountByCategory  map[string]int            `json:"count_by_category"`
		Prefixes         map[string]map[string]int `json:"node_id_prefixes_by_category"`
		TotalEdges       int                       `json:"total_edges"`
		Predicates       []string                  `json:"predicates"`
		CountByPredicate map[string]int            `json:"count_by_predicates"`
		CountBySPO       map[string]int            `json:"count_by_spo"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, "test-graph", doc.Name)
	assert.Equal(t, 4, doc.TotalNodes)
	assert.Equal(t, []string{"disease", "gene", "unknown"}, doc.NodeCategories)
	assert.Equal(t, 2, doc.CountByCategory["gene"])
	assert.Equal(t, 1, doc.CountByCategory["unknown"])
	assert.Equal(t, 2, doc.Prefixes["gene"]["HGNC"])
	assert.Equal(t, []string{"related to"}, doc.Predicates)
	assert.Equal(t, 2, doc.CountByPredicate["related to"])
	assert.Equal(t, 2, doc.CountBySPO["gene-related to-disease"])
}

func TestInspectEdge_UnseenEndpointCountsAsUnknown(t *testing.T) {
	s := New("g")
	s.InspectEdge(&kg.Edge{Subject: "A:1", Predicate: "related to", Object: "B:2"})

	var buf bytes.Buffer
	require.NoError(t, s.WriteJSON(&buf))
	assert.Contains(t, buf.String(), "unknown-related to-unknown")
}
