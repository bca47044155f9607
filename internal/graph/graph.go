package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/vk/settree/sterr"
)

// Graph is a mutable directed graph keyed by string IDs. An edge from A to B
// means A depends on B. Traversal order is fixed by the order key supplied
// at construction, so OrderedSCCs is deterministic for identical input.
type Graph struct {
	mu       sync.Mutex
	nodes    map[string]struct{}
	edges    map[string]map[string]struct{}
	redges   map[string]map[string]struct{}
	orderKey func(id string) string
	root     string

	sccs [][]string
}

// New creates an empty graph. orderKey maps a node ID to its sort key for
// deterministic traversal; nil means the IDs sort as themselves.
func New(orderKey func(id string) string) *Graph {
	if orderKey == nil {
		orderKey = func(id string) string { return id }
	}
	return &Graph{
		nodes:    map[string]struct{}{},
		edges:    map[string]map[string]struct{}{},
		redges:   map[string]map[string]struct{}{},
		orderKey: orderKey,
	}
}

// SetRoot forces traversal to start at the given node instead of the
// computed root set.
func (g *Graph) SetRoot(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(id)
	g.root = id
	g.sccs = nil
}

// AddNode inserts a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(id)
}

func (g *Graph) addNodeLocked(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = struct{}{}
	g.sccs = nil
}

// AddEdge records that from depends on to. Unknown endpoints are added.
func (g *Graph) AddEdge(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(from)
	g.addNodeLocked(to)
	if g.edges[from] == nil {
		g.edges[from] = map[string]struct{}{}
	}
	if _, ok := g.edges[from][to]; ok {
		return
	}
	g.edges[from][to] = struct{}{}
	if g.redges[to] == nil {
		g.redges[to] = map[string]struct{}{}
	}
	g.redges[to][from] = struct{}{}
	g.sccs = nil
}

// DependsOn returns the IDs the given node depends on, in order-key order.
func (g *Graph) DependsOn(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sortedLocked(g.edges[id])
}

// RequiredBy returns the IDs that depend on the given node, in order-key
// order.
func (g *Graph) RequiredBy(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sortedLocked(g.redges[id])
}

func (g *Graph) sortedLocked(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return g.orderKey(out[i]) < g.orderKey(out[j])
	})
	return out
}

// roots returns the nodes no other node depends on, in order-key order.
func (g *Graph) rootsLocked() ([]string, error) {
	if g.root != "" {
		return []string{g.root}, nil
	}
	var roots []string
	for id := range g.nodes {
		if len(g.redges[id]) == 0 {
			roots = append(roots, id)
		}
	}
	if len(g.nodes) > 0 && len(roots) == 0 {
		return nil, sterr.Graphf("dependency graph has no roots; every node is depended on, which indicates a cycle through the whole graph")
	}
	sort.Slice(roots, func(i, j int) bool {
		return g.orderKey(roots[i]) < g.orderKey(roots[j])
	})
	return roots, nil
}

// OrderedSCCs returns the strongly connected components in dependency
// order: the members of a component depend, directly or transitively, only
// on members of the same or earlier components. The result is memoized and
// recomputed after any mutation.
func (g *Graph) OrderedSCCs() ([][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sccs != nil {
		return g.sccs, nil
	}

	roots, err := g.rootsLocked()
	if err != nil {
		return nil, err
	}

	t := &tarjan{
		g:       g,
		index:   map[string]int{},
		lowlink: map[string]int{},
		onStack: map[string]struct{}{},
	}
	for _, r := range roots {
		if _, seen := t.index[r]; !seen {
			t.visit(r)
		}
	}
	// Nodes in a cycle may be unreachable from any root. Sweep them so a
	// cycle is always surfaced to the caller instead of silently skipped.
	var rest []string
	for id := range g.nodes {
		if _, seen := t.index[id]; !seen {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		return g.orderKey(rest[i]) < g.orderKey(rest[j])
	})
	for _, id := range rest {
		if _, seen := t.index[id]; !seen {
			t.visit(id)
		}
	}

	g.sccs = t.sccs
	return g.sccs, nil
}

// tarjan holds the bookkeeping of Tarjan's SCC algorithm for one run.
type tarjan struct {
	g       *Graph
	counter int
	index   map[string]int
	lowlink map[string]int
	onStack map[string]struct{}
	stack   []string
	sccs    [][]string
}

func (t *tarjan) visit(id string) {
	t.index[id] = t.counter
	t.lowlink[id] = t.counter
	t.counter++
	t.stack = append(t.stack, id)
	t.onStack[id] = struct{}{}

	for _, next := range t.g.sortedLocked(t.g.edges[id]) {
		if _, seen := t.index[next]; !seen {
			t.visit(next)
			t.lowlink[id] = min(t.lowlink[id], t.lowlink[next])
		} else if _, on := t.onStack[next]; on {
			t.lowlink[id] = min(t.lowlink[id], t.index[next])
		}
	}

	if t.lowlink[id] == t.index[id] {
		var scc []string
		for {
			top := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			delete(t.onStack, top)
			scc = append(scc, top)
			if top == id {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

// FormatCycle renders an SCC for error messages.
func FormatCycle(scc []string) string {
	return strings.Join(scc, " -> ")
}
