// Package detect implements the read-only pattern detectors that run over
// an immutable transaction graph snapshot.
package detect

import (
	"slices"
	"strings"

	"github.com/opensource-finance/harrier/internal/graph"
)

// Cycle length bounds, in nodes. 2-cycles and cycles longer than five hops
// are outside the detector's contract.
const (
	minCycleLen = 3
	maxCycleLen = 5
)

// Cycles enumerates all simple directed cycles of length 3 to 5,
// deduplicated up to rotation and sorted lexicographically.
//
// Every node is treated as a candidate start, in lexicographic order, and an
// explicit-stack DFS extends the path through sorted successors without
// revisiting nodes on the path. Worst case is exponential in the local
// branching factor (bounded by depth 5); dense subgraphs can make this a hot
// path.
func Cycles(g *graph.Graph) [][]string {
	type frame struct {
		node string
		path []string
	}

	seen := make(map[string]struct{})
	var cycles [][]string

	for _, start := range g.Nodes() {
		stack := []frame{{node: start, path: []string{start}}}

		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			for _, next := range g.Successors(f.node) {
				if next == start {
					if len(f.path) >= minCycleLen && len(f.path) <= maxCycleLen {
						canon := canonicalize(f.path)
						key := strings.Join(canon, "\x00")
						if _, dup := seen[key]; !dup {
							seen[key] = struct{}{}
							cycles = append(cycles, canon)
						}
					}
					continue
				}
				if len(f.path) < maxCycleLen && !slices.Contains(f.path, next) {
					extended := make([]string, len(f.path)+1)
					copy(extended, f.path)
					extended[len(f.path)] = next
					stack = append(stack, frame{node: next, path: extended})
				}
			}
		}
	}

	slices.SortFunc(cycles, slices.Compare)
	return cycles
}

// canonicalize rotates the cycle so its lexicographically smallest member
// comes first, merging rotations discovered from different start nodes.
func canonicalize(cycle []string) []string {
	minIdx := 0
	for i, id := range cycle {
		if id < cycle[minIdx] {
			minIdx = i
		}
	}
	canon := make([]string, 0, len(cycle))
	canon = append(canon, cycle[minIdx:]...)
	canon = append(canon, cycle[:minIdx]...)
	return canon
}
