// Package summary builds a classical knowledge graph summary from the record
// stream: totals, counts by category and predicate, identifier prefixes per
// category, and subject-category/predicate/object-category triples. The
// inspector is a passive hook: it never mutates the records it observes.
package summary

import (
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/vk/graphmeld/internal/kg"
	"github.com/vk/graphmeld/internal/prefix"
)

const unknownCategory = "unknown"

// Summary accumulates stream statistics. Safe for concurrent use.
type Summary struct {
	mu               sync.Mutex
	name             string
	totalNodes       int
	totalEdges       int
	countByCategory  map[string]int
	prefixByCategory map[string]map[string]int
	countByPredicate map[string]int
	countBySPO       map[string]int

	// nodeCategory caches each node's most specific category so edge
	// inspection can build the SPO triple counts. Nodes must stream before
	// the edges that reference them, which the egress order guarantees.
	nodeCategory map[string]string
}

// New creates a summary tagged with a graph name.
func New(name string) *Summary {
	return &Summary{
		name:             name,
		countByCategory:  make(map[string]int),
		prefixByCategory: make(map[string]map[string]int),
		countByPredicate: make(map[string]int),
		countBySPO:       make(map[string]int),
		nodeCategory:     make(map[string]string),
	}
}

// InspectNode tallies one node.
func (s *Summary) InspectNode(n *kg.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalNodes++

	category := unknownCategory
	if len(n.Categories) > 0 {
		category = n.Categories[0]
	}
	s.nodeCategory[n.ID] = category
	s.countByCategory[category]++

	pfx := prefix.Of(n.ID)
	if pfx == "" {
		pfx = unknownCategory
	}
	byPrefix, ok := s.prefixByCategory[category]
	if !ok {
		byPrefix = make(map[string]int)
		s.prefixByCategory[category] = byPrefix
	}
	byPrefix[pfx]++
}

// InspectEdge tallies one edge.
func (s *Summary) InspectEdge(e *kg.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalEdges++
	s.countByPredicate[e.Predicate]++

	subjectCategory, ok := s.nodeCategory[e.Subject]
	if !ok {
		subjectCategory = unknownCategory
	}
	objectCategory, ok := s.nodeCategory[e.Object]
	if !ok {
		objectCategory = unknownCategory
	}
	s.countBySPO[subjectCategory+"-"+e.Predicate+"-"+objectCategory]++
}

type document struct {
	Name                     string                    `json:"graph_name"`
	TotalNodes               int                       `json:"total_nodes"`
	NodeCategories           []string                  `json:"node_categories"`
	CountByCategory          map[string]int            `json:"count_by_category"`
	NodeIDPrefixesByCategory map[string]map[string]int `json:"node_id_prefixes_by_category"`
	TotalEdges               int                       `json:"total_edges"`
	Predicates               []string                  `json:"predicates"`
	CountByPredicates        map[string]int            `json:"count_by_predicates"`
	CountBySPO               map[string]int            `json:"count_by_spo"`
}

// WriteJSON emits the summary document.
func (s *Summary) WriteJSON(w io.Writer) error {
	s.mu.Lock()
	doc := document{
		Name:                     s.name,
		TotalNodes:               s.totalNodes,
		NodeCategories:           sortedKeys(s.countByCategory),
		CountByCategory:          s.countByCategory,
		NodeIDPrefixesByCategory: s.prefixByCategory,
		TotalEdges:               s.totalEdges,
		Predicates:               sortedKeys(s.countByPredicate),
		CountByPredicates:        s.countByPredicate,
		CountBySPO:               s.countBySPO,
	}
	s.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// TotalNodes returns the number of nodes observed.
func (s *Summary) TotalNodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalNodes
}

// TotalEdges returns the number of edges observed.
func (s *Summary) TotalEdges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalEdges
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
