package merge

// unionFind is a disjoint-set structure over node identifiers with path
// compression and union by rank, giving near-linear clique construction.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

func (u *unionFind) find(x string) string {
	root, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if root == x {
		return x
	}
	top := u.find(root)
	u.parent[x] = top
	return top
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// cliques returns every disjoint set with more than one member, keyed by its
// representative.
func (u *unionFind) cliques() map[string][]string {
	sets := make(map[string][]string)
	for x := range u.parent {
		root := u.find(x)
		sets[root] = append(sets[root], x)
	}
	for root, members := range sets {
		if len(members) < 2 {
			delete(sets, root)
		}
	}
	return sets
}
