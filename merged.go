package settree

import (
	"fmt"

	"github.com/vk/settree/binding"
	"github.com/vk/settree/internal/graph"
	"github.com/vk/settree/sterr"
)

// MergedNode joins the per-source nodes that share one path into a single
// addressable node. Attributes that must agree across sources (name,
// enabled state) are checked when a source is merged in; property sets must
// be disjoint, so every property keeps exactly one defining source.
type MergedNode struct {
	tree  *Tree
	nodes []*Node

	path    string
	name    string
	enabled bool

	props     map[string]*Property
	propOrder []string

	// ordinal is the node's position in the dependency order, -1 until
	// ordinals have been computed.
	ordinal int
}

func newMergedNode(tree *Tree, n *Node) (*MergedNode, error) {
	m := &MergedNode{
		tree:    tree,
		path:    n.Path(),
		name:    n.Name(),
		enabled: n.Enabled(),
		props:   map[string]*Property{},
		ordinal: -1,
	}
	if err := m.addNode(n); err != nil {
		return nil, err
	}
	return m, nil
}

// addNode merges another source's node at the same path into the merged
// node.
func (m *MergedNode) addNode(n *Node) error {
	if len(m.nodes) > 0 && n.Enabled() != m.enabled {
		return sterr.Propertyf(
			"node %s has conflicting enabled states in %s and %s",
			m.path, m.nodes[0].pt.src.Path(), n.pt.src.Path())
	}
	for _, prop := range n.Props() {
		if prev, dup := m.props[prop.Name()]; dup {
			return sterr.Propertyf(
				"property '%s' on %s is set in both %s and %s",
				prop.Name(), m.path, prev.Node.pt.src.Path(), n.pt.src.Path())
		}
		m.props[prop.Name()] = prop
		m.propOrder = append(m.propOrder, prop.Name())
	}
	m.nodes = append(m.nodes, n)
	return nil
}

// Path returns the node's absolute path.
func (m *MergedNode) Path() string { return m.path }

// Name returns the node's name, "/" for the root.
func (m *MergedNode) Name() string { return m.name }

// Enabled reports whether the node is switched on.
func (m *MergedNode) Enabled() bool { return m.enabled }

// Nodes returns the per-source nodes merged at this path, in the order
// their sources were added.
func (m *MergedNode) Nodes() []*Node { return m.nodes }

// Props returns the merged properties, grouped by source in merge order.
func (m *MergedNode) Props() []*Property {
	out := make([]*Property, 0, len(m.propOrder))
	for _, name := range m.propOrder {
		out = append(out, m.props[name])
	}
	return out
}

// Prop returns the named property, or nil.
func (m *MergedNode) Prop(name string) *Property { return m.props[name] }

// Schemas returns the schemas of all sources, unique, in merge order.
func (m *MergedNode) Schemas() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, n := range m.nodes {
		for _, schema := range n.Schemas() {
			if _, dup := seen[schema]; dup {
				continue
			}
			seen[schema] = struct{}{}
			out = append(out, schema)
		}
	}
	return out
}

// Labels returns the labels of all sources, unique, in merge order.
func (m *MergedNode) Labels() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, n := range m.nodes {
		for _, label := range n.Labels() {
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}
			out = append(out, label)
		}
	}
	return out
}

// Bindings returns the bindings of all sources in merge order.
func (m *MergedNode) Bindings() []*binding.Binding {
	var out []*binding.Binding
	seen := map[*binding.Binding]struct{}{}
	for _, n := range m.nodes {
		for _, b := range n.Bindings() {
			if _, dup := seen[b]; dup {
				continue
			}
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	return out
}

// BindingPaths returns the binding files of all sources in merge order.
func (m *MergedNode) BindingPaths() []string {
	var out []string
	for _, b := range m.Bindings() {
		out = append(out, b.Path)
	}
	return out
}

// Parent returns the merged parent node, nil for the root.
func (m *MergedNode) Parent() *MergedNode {
	if m.path == "/" {
		return nil
	}
	return m.tree.pathToNode[parentPath(m.path)]
}

// Children returns the merged children, unique, in merge order.
func (m *MergedNode) Children() []*MergedNode {
	var out []*MergedNode
	seen := map[string]struct{}{}
	for _, n := range m.nodes {
		for _, child := range n.Children() {
			if _, dup := seen[child.Path()]; dup {
				continue
			}
			seen[child.Path()] = struct{}{}
			if merged := m.tree.pathToNode[child.Path()]; merged != nil {
				out = append(out, merged)
			}
		}
	}
	return out
}

// Ordinal returns the node's dependency ordinal. A node never depends on a
// node with a higher ordinal.
func (m *MergedNode) Ordinal() (int, error) {
	if m.ordinal < 0 {
		return 0, sterr.Statef(
			"node %s has no dependency ordinal; the tree has not been processed", m.path)
	}
	return m.ordinal, nil
}

// DependsOn returns the merged nodes this node directly depends on,
// ordered by tree position.
func (m *MergedNode) DependsOn() ([]*MergedNode, error) {
	return m.tree.graphNeighbors(m, m.tree.graph.DependsOn)
}

// RequiredBy returns the merged nodes that directly depend on this node,
// ordered by tree position.
func (m *MergedNode) RequiredBy() ([]*MergedNode, error) {
	return m.tree.graphNeighbors(m, m.tree.graph.RequiredBy)
}

func (m *MergedNode) String() string {
	paths := m.BindingPaths()
	bindings := "no binding"
	switch len(paths) {
	case 0:
	case 1:
		bindings = "binding " + paths[0]
	default:
		bindings = fmt.Sprintf("bindings %v", paths)
	}
	return fmt.Sprintf("<MergedNode %s, %s>", m.path, bindings)
}

// addToGraph records the node and its dependencies: children depend on
// their parent, and phandle/phandles properties declared by a binding make
// the node depend on the referenced node. Path typed properties resolve to
// nodes too but carry no ordering dependency. When bound is non-nil the method
// is walking a child binding of the original node; edges found there are
// attributed to the original node, because the child only exists as part of
// its configuration.
func (m *MergedNode) addToGraph(g *graph.Graph, bound *MergedNode, bindings []*binding.Binding) error {
	if bound == nil {
		bound = m
		bindings = m.Bindings()

		if m.Parent() == nil {
			g.AddNode(m.path)
		}
		for _, child := range m.Children() {
			g.AddEdge(child.path, m.path)
		}
	}

	for _, b := range bindings {
		for _, spec := range b.Specs {
			for _, prop := range bound.Props() {
				if !spec.MatchNamePrefix(prop.Name()) {
					continue
				}
				switch prop.Type() {
				case binding.PHandle:
					g.AddEdge(m.path, prop.Val.RefPath)
				case binding.PHandles:
					for _, path := range prop.Val.RefPaths {
						g.AddEdge(m.path, path)
					}
				}
			}
		}

		for _, n := range bound.nodes {
			if ds, ok := n.pt.src.(DependencySource); ok {
				if err := ds.AddDeps(m, n, g, b); err != nil {
					return err
				}
			}
		}

		// A dependency declared by a child binding links the child's
		// target to this node as well.
		for _, child := range b.Children {
			for _, c := range bound.Children() {
				if child.MatchName(c.Name()) {
					if err := m.addToGraph(g, c, child.Bindings); err != nil {
						return err
					}
				}
			}
		}
	}

	for _, n := range bound.nodes {
		if ds, ok := n.pt.src.(DependencySource); ok {
			if err := ds.AddDeps(m, n, g, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func parentPath(path string) string {
	if path == "/" {
		return ""
	}
	i := lastSlash(path)
	if i == 0 {
		return "/"
	}
	return path[:i]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}
