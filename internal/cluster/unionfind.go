package cluster

// unionFind is a parent-pointer forest over arena indices. The smaller index
// always becomes the root, so component representatives do not depend on the
// order unions are applied in.
type unionFind struct {
	parent []int32
}

func newUnionFind(n int) *unionFind {
	parent := make([]int32, n)
	for i := range parent {
		parent[i] = int32(i)
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for int(u.parent[i]) != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = int(u.parent[i])
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = int32(ra)
	} else {
		u.parent[ra] = int32(rb)
	}
}

// components returns arena indices grouped by root, each group ascending,
// groups ordered by their smallest index.
func (u *unionFind) components() [][]int {
	byRoot := make(map[int]int)
	var groups [][]int
	for i := range u.parent {
		r := u.find(i)
		g, ok := byRoot[r]
		if !ok {
			g = len(groups)
			byRoot[r] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}
