// Package graph builds the directed transaction graph the detectors run on.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrMalformedRecord reports a record that violates the ingest contract.
// The ingest layer guarantees well-formed input, so hitting this is a
// programming error, not a user error.
var ErrMalformedRecord = errors.New("malformed transaction record")

// Edge is the single edge record for an ordered (sender, receiver) pair.
// All transactions between the pair live here; their order follows the
// input and is not guaranteed, consumers sort by timestamp before any
// windowed analysis.
type Edge struct {
	From         string
	To           string
	Transactions []domain.Transaction
}

type node struct {
	out map[string]*Edge // receiver id -> edge
	in  map[string]*Edge // sender id -> edge

	// Sorted id slices, fixed at build time for deterministic traversal.
	succ []string
	pred []string
}

// Graph is an immutable directed graph over account ids. One node per
// distinct account, one edge per ordered pair with at least one
// transaction. Degree and adjacency queries are O(1) after Build.
type Graph struct {
	nodes map[string]*node
	ids   []string // sorted
}

// Build constructs a graph from normalized transaction records.
func Build(txs []domain.Transaction) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node)}

	for i, tx := range txs {
		if tx.Sender == "" || tx.Receiver == "" || tx.ID == "" {
			return nil, fmt.Errorf("%w: record %d is missing required fields", ErrMalformedRecord, i)
		}
		if tx.Amount < 0 {
			return nil, fmt.Errorf("%w: record %d has negative amount", ErrMalformedRecord, i)
		}

		from := g.ensureNode(tx.Sender)
		g.ensureNode(tx.Receiver)

		edge, ok := from.out[tx.Receiver]
		if !ok {
			edge = &Edge{From: tx.Sender, To: tx.Receiver}
			from.out[tx.Receiver] = edge
			g.nodes[tx.Receiver].in[tx.Sender] = edge
		}
		edge.Transactions = append(edge.Transactions, tx)
	}

	g.freeze()
	return g, nil
}

func (g *Graph) ensureNode(id string) *node {
	n, ok := g.nodes[id]
	if !ok {
		n = &node{
			out: make(map[string]*Edge),
			in:  make(map[string]*Edge),
		}
		g.nodes[id] = n
	}
	return n
}

// freeze fixes sorted enumeration order for nodes and adjacency.
func (g *Graph) freeze() {
	g.ids = make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)

	for _, n := range g.nodes {
		n.succ = sortedKeys(n.out)
		n.pred = sortedKeys(n.in)
	}
}

func sortedKeys(m map[string]*Edge) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Nodes returns all account ids in lexicographic order.
func (g *Graph) Nodes() []string {
	return g.ids
}

// NodeCount returns the number of distinct accounts.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// HasNode reports whether the account appears in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Successors returns the accounts id sends to, in lexicographic order.
func (g *Graph) Successors(id string) []string {
	if n, ok := g.nodes[id]; ok {
		return n.succ
	}
	return nil
}

// Predecessors returns the accounts that send to id, in lexicographic order.
func (g *Graph) Predecessors(id string) []string {
	if n, ok := g.nodes[id]; ok {
		return n.pred
	}
	return nil
}

// OutDegree returns the number of distinct receivers of id.
func (g *Graph) OutDegree(id string) int {
	if n, ok := g.nodes[id]; ok {
		return len(n.out)
	}
	return 0
}

// InDegree returns the number of distinct senders to id.
func (g *Graph) InDegree(id string) int {
	if n, ok := g.nodes[id]; ok {
		return len(n.in)
	}
	return 0
}

// Degree returns in-degree plus out-degree.
func (g *Graph) Degree(id string) int {
	return g.InDegree(id) + g.OutDegree(id)
}

// Edge returns the edge record for (from, to), or nil if no transaction
// exists for the pair.
func (g *Graph) Edge(from, to string) *Edge {
	if n, ok := g.nodes[from]; ok {
		return n.out[to]
	}
	return nil
}

// OutEdges returns the outgoing edges of id ordered by receiver.
func (g *Graph) OutEdges(id string) []*Edge {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	edges := make([]*Edge, 0, len(n.succ))
	for _, to := range n.succ {
		edges = append(edges, n.out[to])
	}
	return edges
}

// InEdges returns the incoming edges of id ordered by sender.
func (g *Graph) InEdges(id string) []*Edge {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	edges := make([]*Edge, 0, len(n.pred))
	for _, from := range n.pred {
		edges = append(edges, n.in[from])
	}
	return edges
}
