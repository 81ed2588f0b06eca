package detect

import (
	"slices"
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/graph"
)

// shellMaxDegree is the total-degree cutoff below which an account counts as
// a low-activity shell candidate.
const shellMaxDegree = 3

// Chain is one detected shell relay: a funding source, two or more shell
// accounts, and a destination, in hop order.
type Chain struct {
	Members []string
}

// ShellChains finds chains of low-degree relay accounts bridging an external
// source to an external destination.
//
// Shell candidates (total degree <= 3) form an induced subgraph; every simple
// path of two or more shell nodes inside it is combined with each external
// predecessor of its head and each external successor of its tail. Every
// emitted chain therefore has at least four members and three hops. The
// boundary cross product can multiply near-duplicate chains when a path has
// several external neighbors on either end; dense boundary sets make this
// combinatorial.
func ShellChains(g *graph.Graph) []Chain {
	shellSet := make(map[string]bool)
	for _, node := range g.Nodes() {
		if g.Degree(node) <= shellMaxDegree {
			shellSet[node] = true
		}
	}
	if len(shellSet) == 0 {
		return nil
	}

	type frame struct {
		node string
		path []string
	}

	seenPaths := make(map[string]struct{})
	var paths [][]string

	for _, start := range g.Nodes() {
		if !shellSet[start] {
			continue
		}
		stack := []frame{{node: start, path: []string{start}}}

		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if len(f.path) >= 2 {
				key := strings.Join(f.path, "\x00")
				if _, dup := seenPaths[key]; !dup {
					seenPaths[key] = struct{}{}
					paths = append(paths, f.path)
				}
			}

			for _, next := range g.Successors(f.node) {
				if !shellSet[next] || slices.Contains(f.path, next) {
					continue
				}
				extended := make([]string, len(f.path)+1)
				copy(extended, f.path)
				extended[len(f.path)] = next
				stack = append(stack, frame{node: next, path: extended})
			}
		}
	}

	var chains []Chain
	for _, path := range paths {
		head, tail := path[0], path[len(path)-1]

		var preds, succs []string
		for _, p := range g.Predecessors(head) {
			if !slices.Contains(path, p) {
				preds = append(preds, p)
			}
		}
		for _, s := range g.Successors(tail) {
			if !slices.Contains(path, s) {
				succs = append(succs, s)
			}
		}
		if len(preds) == 0 || len(succs) == 0 {
			continue
		}

		for _, p := range preds {
			for _, s := range succs {
				if p == s {
					continue
				}
				members := make([]string, 0, len(path)+2)
				members = append(members, p)
				members = append(members, path...)
				members = append(members, s)
				chains = append(chains, Chain{Members: members})
			}
		}
	}

	sort.SliceStable(chains, func(i, j int) bool {
		if len(chains[i].Members) != len(chains[j].Members) {
			return len(chains[i].Members) < len(chains[j].Members)
		}
		return chains[i].Members[0] < chains[j].Members[0]
	})
	return chains
}
