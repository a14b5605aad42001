package kg

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/vk/graphmeld/internal/ctxlog"
)

// Mode selects how a Graph holds its entities.
type Mode int

const (
	// InMemory keeps every node and edge resident. Lookups are O(1) and the
	// run is atomic: nothing reaches a sink before the whole graph is built.
	InMemory Mode = iota
	// Streaming bounds the resident working set and spills overflow to an
	// append-only store. Lookups outside the working set pay an I/O cost but
	// remain correct.
	Streaming
)

// DanglingPolicy controls what Finalize does with an edge whose endpoint is
// not present as a node.
type DanglingPolicy int

const (
	// DropDangling removes the offending edge and reports it.
	DropDangling DanglingPolicy = iota
	// AbortOnDangling fails the run on the first dangling edge.
	AbortOnDangling
)

// Options configure a Graph at construction.
type Options struct {
	Mode Mode
	// WorkingSet bounds the number of resident nodes (and, separately, edges)
	// in Streaming mode. It is the single tuning knob for memory use.
	WorkingSet int
	// SpillDir is where streaming overflow lives. Empty means a temp directory.
	SpillDir string
}

// Dangling describes an edge removed or rejected by referential-integrity
// checking at finalize.
type Dangling struct {
	EdgeID  string
	Subject string
	Object  string
	Missing string
}

// Stats are run-wide counters maintained by the graph.
type Stats struct {
	ScalarOverwrites int
}

// Graph owns nodes and edges keyed by identifier. All mutation of a given key
// funnels through the graph's lock, so insert-or-merge is one atomic step per
// key and concurrent workers never observe a half-merged entity.
type Graph struct {
	mu    sync.Mutex
	opts  Options
	nodes *entityStore
	edges *entityStore

	// firstSeen records ingestion order per node identifier. The merge
	// engine's leader tie-break depends on it.
	firstSeen map[string]int64
	nextSeq   int64

	stats     Stats
	finalized bool
}

// New constructs a graph in the requested mode.
func New(opts Options) (*Graph, error) {
	g := &Graph{
		opts:      opts,
		firstSeen: make(map[string]int64),
	}
	var nodeSpill, edgeSpill *spillStore
	if opts.Mode == Streaming {
		if opts.WorkingSet <= 0 {
			return nil, fmt.Errorf("streaming mode requires a positive working set, got %d", opts.WorkingSet)
		}
		var err error
		if nodeSpill, err = newSpillStore(opts.SpillDir, "nodes"); err != nil {
			return nil, err
		}
		if edgeSpill, err = newSpillStore(opts.SpillDir, "edges"); err != nil {
			nodeSpill.close()
			return nil, err
		}
	}
	limit := 0
	if opts.Mode == Streaming {
		limit = opts.WorkingSet
	}
	g.nodes = newEntityStore(limit, nodeSpill, gobEncode, gobDecodeNode)
	g.edges = newEntityStore(limit, edgeSpill, gobEncode, gobDecodeEdge)
	return g, nil
}

// AddNode inserts the node, or merges it property-wise into the existing node
// under the same identifier. The graph takes ownership of n. First-seen order
// follows the graph's own arrival counter.
func (g *Graph) AddNode(ctx context.Context, n *Node) error {
	return g.addNode(ctx, n, -1)
}

// AddNodeOrdered inserts like AddNode but records seq as the node's
// first-seen position. Concurrent ingesters use it to keep first-seen order a
// function of the input rather than of goroutine scheduling; when the same
// identifier arrives under several sequences, the smallest one wins. seq must
// be non-negative.
func (g *Graph) AddNodeOrdered(ctx context.Context, n *Node, seq int64) error {
	if seq < 0 {
		return fmt.Errorf("node %q: negative sequence %d", n.ID, seq)
	}
	return g.addNode(ctx, n, seq)
}

func (g *Graph) addNode(ctx context.Context, n *Node, seq int64) error {
	if n.ID == "" {
		return fmt.Errorf("node has no identifier")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if seq < 0 {
		seq = g.nextSeq
		g.nextSeq++
	}
	if prev, seen := g.firstSeen[n.ID]; !seen || seq < prev {
		g.firstSeen[n.ID] = seq
	}

	existing, ok, err := g.nodes.get(n.ID)
	if err != nil {
		return err
	}
	if !ok {
		if n.Properties == nil {
			n.Properties = make(map[string]any)
		}
		return g.nodes.put(n.ID, n)
	}

	prev := existing.(*Node)
	prev.Categories = unionCategories(prev.Categories, n.Categories)
	logger := ctxlog.FromContext(ctx)
	err = unionInto(n.ID, prev.Properties, n.Properties, func(key string, old, new any) {
		g.stats.ScalarOverwrites++
		logger.Warn("Scalar property overwritten by later source.",
			"node", n.ID, "property", key, "old", old, "new", new)
	})
	if err != nil {
		return err
	}
	return g.nodes.put(n.ID, prev)
}

// AddEdge inserts the edge under its derived key, or merges it property-wise
// into the existing edge. Endpoint existence is not checked here; sources may
// stream edges before the nodes they reference have arrived, so referential
// integrity is deferred to Finalize.
func (g *Graph) AddEdge(ctx context.Context, e *Edge) error {
	if e.Subject == "" || e.Object == "" {
		return fmt.Errorf("edge %q is missing an endpoint", e.ID)
	}
	key := e.Key()
	e.ID = key

	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok, err := g.edges.get(key)
	if err != nil {
		return err
	}
	if !ok {
		if e.Properties == nil {
			e.Properties = make(map[string]any)
		}
		return g.edges.put(key, e)
	}

	prev := existing.(*Edge)
	logger := ctxlog.FromContext(ctx)
	err = unionInto(key, prev.Properties, e.Properties, func(k string, old, new any) {
		g.stats.ScalarOverwrites++
		logger.Warn("Scalar property overwritten by later source.",
			"edge", key, "property", k, "old", old, "new", new)
	})
	if err != nil {
		return err
	}
	return g.edges.put(key, prev)
}

// Node returns the node stored under id.
func (g *Graph) Node(id string) (*Node, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok, err := g.nodes.get(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return v.(*Node), true, nil
}

// Edge returns the edge stored under id.
func (g *Graph) Edge(id string) (*Edge, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok, err := g.edges.get(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return v.(*Edge), true, nil
}

// HasNode reports whether id is present, without decoding spilled entities.
func (g *Graph) HasNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes.contains(id)
}

// RemoveNode deletes the node under id. Used by the merge engine when a
// clique collapses into its leader.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes.delete(id)
}

// RemoveEdge deletes the edge under id.
func (g *Graph) RemoveEdge(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges.delete(id)
}

// Nodes returns a lazy, restartable sequence over all nodes. Each call starts
// a fresh iteration over a snapshot of the current identifiers; there is no
// shared cursor state.
func (g *Graph) Nodes() iter.Seq2[*Node, error] {
	return func(yield func(*Node, error) bool) {
		g.mu.Lock()
		ids := g.nodes.keys()
		g.mu.Unlock()
		for _, id := range ids {
			n, ok, err := g.Node(id)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(n, nil) {
				return
			}
		}
	}
}

// Edges returns a lazy, restartable sequence over all edges.
func (g *Graph) Edges() iter.Seq2[*Edge, error] {
	return func(yield func(*Edge, error) bool) {
		g.mu.Lock()
		ids := g.edges.keys()
		g.mu.Unlock()
		for _, id := range ids {
			e, ok, err := g.Edge(id)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// FirstSeen returns the ingestion sequence number of a node identifier.
// Identifiers never ingested sort after everything else.
func (g *Graph) FirstSeen(id string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq, ok := g.firstSeen[id]; ok {
		return seq
	}
	return int64(^uint64(0) >> 1)
}

// NodeCount returns the number of distinct node identifiers.
func (g *Graph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes.size()
}

// EdgeCount returns the number of distinct edge identifiers.
func (g *Graph) EdgeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.edges.size()
}

// Stats returns the graph's run-wide counters.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Finalize checks referential integrity: every edge endpoint must exist as a
// node. Under DropDangling the offending edges are removed and reported; under
// AbortOnDangling the first one fails the run. Either way a dangling edge is
// never silently left in place.
func (g *Graph) Finalize(ctx context.Context, policy DanglingPolicy) ([]Dangling, error) {
	logger := ctxlog.FromContext(ctx)

	g.mu.Lock()
	ids := g.edges.keys()
	g.mu.Unlock()

	var dropped []Dangling
	for _, id := range ids {
		e, ok, err := g.Edge(id)
		if err != nil {
			return dropped, err
		}
		if !ok {
			continue
		}
		missing := ""
		if !g.HasNode(e.Subject) {
			missing = e.Subject
		} else if !g.HasNode(e.Object) {
			missing = e.Object
		}
		if missing == "" {
			continue
		}
		if policy == AbortOnDangling {
			return dropped, &ReferentialIntegrityError{EdgeID: id, Missing: missing}
		}
		logger.Warn("Dropping dangling edge.", "edge", id, "missing", missing)
		g.RemoveEdge(id)
		dropped = append(dropped, Dangling{EdgeID: id, Subject: e.Subject, Object: e.Object, Missing: missing})
	}

	g.mu.Lock()
	g.finalized = true
	g.mu.Unlock()
	return dropped, nil
}

// Close releases the spill stores, if any. The graph is unusable afterwards.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var err error
	if g.nodes.spill != nil {
		err = g.nodes.spill.close()
	}
	if g.edges.spill != nil {
		if closeErr := g.edges.spill.close(); err == nil {
			err = closeErr
		}
	}
	return err
}
