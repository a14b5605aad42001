// Package merge reconciles graphs produced by independent sources into one.
// Direct duplicates are already handled by the canonical model's union-by-key
// semantics; this package resolves the harder identity problem: equivalence
// cliques declared through same-as edges, collapsed into a deterministic
// leader identifier.
package merge

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/vk/graphmeld/internal/ctxlog"
	"github.com/vk/graphmeld/internal/kg"
	"github.com/vk/graphmeld/internal/prefix"
	"github.com/vk/graphmeld/internal/schema"
)

// LeaderPolicy selects which clique member survives a collapse.
type LeaderPolicy int

const (
	// LeaderByPrefix picks the identifier with the lexicographically smallest
	// namespace prefix, tie-broken by first-seen ingestion order.
	LeaderByPrefix LeaderPolicy = iota
	// LeaderByFirstSeen picks the earliest-ingested identifier.
	LeaderByFirstSeen
)

// ParseLeaderPolicy maps a profile string to a policy.
func ParseLeaderPolicy(s string) (LeaderPolicy, error) {
	switch s {
	case "", "prefix":
		return LeaderByPrefix, nil
	case "first_seen":
		return LeaderByFirstSeen, nil
	default:
		return 0, fmt.Errorf("unknown leader policy %q: must be 'prefix' or 'first_seen'", s)
	}
}

// Config controls clique resolution.
type Config struct {
	Policy LeaderPolicy
	// SameAsPredicates are the edge predicates that declare equivalence.
	SameAsPredicates []string
}

// DefaultSameAs are the predicates treated as equivalence declarations when
// the profile names none.
var DefaultSameAs = []string{"same as", "biolink:same_as"}

// CategoryConflict reports a clique whose members carry mutually exclusive
// most-specific categories. The clique still merges; the conflict is
// surfaced as a non-fatal violation.
type CategoryConflict struct {
	Leader         string
	Member         string
	LeaderCategory string
	MemberCategory string
}

// Outcome summarizes a collapse pass.
type Outcome struct {
	Cliques   int
	Collapsed int
	Conflicts []CategoryConflict
}

// Engine collapses equivalence cliques on a canonical graph.
type Engine struct {
	resolver schema.Resolver
	cfg      Config
	sameAs   map[string]struct{}
}

// New builds an Engine. The resolver is used only to compare category
// ancestries when detecting clique conflicts.
func New(resolver schema.Resolver, cfg Config) *Engine {
	preds := cfg.SameAsPredicates
	if len(preds) == 0 {
		preds = DefaultSameAs
	}
	sameAs := make(map[string]struct{}, len(preds))
	for _, p := range preds {
		sameAs[p] = struct{}{}
	}
	return &Engine{resolver: resolver, cfg: cfg, sameAs: sameAs}
}

// Ingest unions every node and edge of src into dst, stamping records with
// the source's provenance name when they do not carry one.
func (e *Engine) Ingest(ctx context.Context, dst, src *kg.Graph, provenance string) error {
	for n, err := range src.Nodes() {
		if err != nil {
			return err
		}
		copied := n.Clone()
		stampProvenance(copied.Properties, provenance)
		if err := dst.AddNode(ctx, copied); err != nil {
			return err
		}
	}
	for edge, err := range src.Edges() {
		if err != nil {
			return err
		}
		copied := edge.Clone()
		stampProvenance(copied.Properties, provenance)
		if err := dst.AddEdge(ctx, copied); err != nil {
			return err
		}
	}
	return nil
}

func stampProvenance(props map[string]any, provenance string) {
	if provenance == "" {
		return
	}
	if _, ok := props[kg.ProvidedBy]; !ok {
		props[kg.ProvidedBy] = provenance
	}
}

// Collapse builds equivalence cliques from same-as edges, selects a leader
// per clique, rewrites every edge endpoint to the leader, merges member
// properties into the leader node, and drops the non-leader entities and the
// consumed same-as edges. The caller re-runs Finalize afterwards.
func (e *Engine) Collapse(ctx context.Context, g *kg.Graph) (*Outcome, error) {
	logger := ctxlog.FromContext(ctx)
	outcome := &Outcome{}

	uf := newUnionFind()
	var sameAsEdges []string
	for edge, err := range g.Edges() {
		if err != nil {
			return nil, err
		}
		if _, ok := e.sameAs[edge.Predicate]; !ok {
			continue
		}
		uf.union(edge.Subject, edge.Object)
		sameAsEdges = append(sameAsEdges, edge.ID)
	}

	cliques := uf.cliques()
	outcome.Cliques = len(cliques)
	if len(cliques) == 0 {
		return outcome, nil
	}

	// member identifier -> leader identifier, for every non-leader member.
	rewrite := make(map[string]string)
	for _, members := range cliques {
		e.sortMembers(g, members)
		leader := e.selectLeader(g, members)
		logger.Debug("Collapsing equivalence clique.", "leader", leader, "size", len(members))

		leaderNode, ok, err := g.Node(leader)
		if err != nil {
			return nil, err
		}
		if !ok {
			// The leader identifier only ever appeared as an edge endpoint.
			leaderNode = &kg.Node{ID: leader, Properties: map[string]any{}}
			if err := g.AddNode(ctx, leaderNode); err != nil {
				return nil, err
			}
			leaderNode, _, err = g.Node(leader)
			if err != nil {
				return nil, err
			}
		}

		for _, member := range members {
			if member == leader {
				continue
			}
			rewrite[member] = leader
			memberNode, ok, err := g.Node(member)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if conflict := e.categoryConflict(leaderNode, memberNode); conflict != nil {
				outcome.Conflicts = append(outcome.Conflicts, *conflict)
			}
			leaderNode.Categories = mergeCategories(leaderNode.Categories, memberNode.Categories)
			fillProperties(leaderNode.Properties, memberNode.Properties)
			g.RemoveNode(member)
			outcome.Collapsed++
		}
		// Store the merged leader back through the model so streaming mode
		// persists it.
		if err := g.AddNode(ctx, leaderNode); err != nil {
			return nil, err
		}
	}

	for _, id := range sameAsEdges {
		g.RemoveEdge(id)
	}

	if err := e.rewriteEdges(ctx, g, rewrite); err != nil {
		return nil, err
	}
	logger.Info("Equivalence cliques collapsed.",
		"cliques", outcome.Cliques, "nodes_collapsed", outcome.Collapsed, "category_conflicts", len(outcome.Conflicts))
	return outcome, nil
}

// sortMembers orders a clique deterministically: first-seen ingestion order,
// then identifier. Property fill during collapse follows this order.
func (e *Engine) sortMembers(g *kg.Graph, members []string) {
	sort.Slice(members, func(i, j int) bool {
		si, sj := g.FirstSeen(members[i]), g.FirstSeen(members[j])
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
}

func (e *Engine) selectLeader(g *kg.Graph, members []string) string {
	if e.cfg.Policy == LeaderByFirstSeen {
		// members are already in first-seen order.
		return members[0]
	}
	leader := members[0]
	leaderPrefix := prefix.Of(leader)
	for _, candidate := range members[1:] {
		if p := prefix.Of(candidate); p < leaderPrefix {
			leader = candidate
			leaderPrefix = p
		}
	}
	return leader
}

// categoryConflict reports when the most-specific categories of leader and
// member are siblings: neither an ancestor of the other.
func (e *Engine) categoryConflict(leader, member *kg.Node) *CategoryConflict {
	if len(leader.Categories) == 0 || len(member.Categories) == 0 {
		return nil
	}
	lc, mc := leader.Categories[0], member.Categories[0]
	if lc == mc {
		return nil
	}
	lt, err := e.resolver.Resolve(lc)
	if err != nil {
		return nil
	}
	mt, err := e.resolver.Resolve(mc)
	if err != nil {
		return nil
	}
	if contains(lt.Ancestry, mc) || contains(mt.Ancestry, lc) {
		return nil
	}
	return &CategoryConflict{
		Leader: leader.ID, Member: member.ID,
		LeaderCategory: lc, MemberCategory: mc,
	}
}

// containsValue scans instead of keying a map so that list elements outside
// the comparable scalar shapes cannot panic the collapse.
func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// rewriteEdges re-keys every edge whose endpoint references a collapsed
// member. The rewritten edge re-derives its identifier, so duplicates created
// by the rewrite union naturally.
func (e *Engine) rewriteEdges(ctx context.Context, g *kg.Graph, rewrite map[string]string) error {
	if len(rewrite) == 0 {
		return nil
	}
	var stale []string
	var replacements []*kg.Edge
	for edge, err := range g.Edges() {
		if err != nil {
			return err
		}
		leaderS, subjHit := rewrite[edge.Subject]
		leaderO, objHit := rewrite[edge.Object]
		if !subjHit && !objHit {
			continue
		}
		replacement := edge.Clone()
		replacement.ID = ""
		if subjHit {
			replacement.Subject = leaderS
		}
		if objHit {
			replacement.Object = leaderO
		}
		stale = append(stale, edge.ID)
		replacements = append(replacements, replacement)
	}
	for _, id := range stale {
		g.RemoveEdge(id)
	}
	for _, replacement := range replacements {
		if err := g.AddEdge(ctx, replacement); err != nil {
			return err
		}
	}
	return nil
}

// mergeCategories unions member categories into the leader's list, keeping
// the leader's most-specific-first ordering.
func mergeCategories(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, c := range dst {
		seen[c] = struct{}{}
	}
	for _, c := range src {
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			dst = append(dst, c)
		}
	}
	return dst
}

// fillProperties merges member properties into the leader: list values union,
// scalar values are kept from the leader and only filled when absent.
func fillProperties(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		dstList, dstIsList := existing.([]any)
		srcList, srcIsList := v.([]any)
		if dstIsList && srcIsList {
			for _, item := range srcList {
				if !containsValue(dstList, item) {
					dstList = append(dstList, item)
				}
			}
			dst[k] = dstList
		}
		// Scalars: leader wins.
	}
}
