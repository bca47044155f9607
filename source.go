package settree

import (
	"github.com/vk/settree/binding"
	"github.com/vk/settree/internal/graph"
	"github.com/vk/settree/rawtree"
)

// SourceKind identifies the family a settings source belongs to.
type SourceKind int

const (
	// HardwareSource marks sources that describe physical devices: cell
	// encoded payloads, device handles and bus topology.
	HardwareSource SourceKind = iota
	// SoftwareSource marks plain configuration sources with scalar YAML
	// style payloads.
	SoftwareSource
)

func (k SourceKind) String() string {
	switch k {
	case HardwareSource:
		return "hardware"
	case SoftwareSource:
		return "software"
	}
	return "unknown"
}

// Source adapts one settings source file to the merge pipeline. A Source
// exposes its content as a raw tree and answers the handful of questions
// that depend on the source format: which property names a schema and the
// enabled state, which labels a node carries and which extra dependencies a
// node contributes to the graph.
//
// Implementations live in the hwtree and cfgtree packages.
type Source interface {
	// Kind selects the value conversion rules for the source.
	Kind() SourceKind
	// Path is the source file the tree was built from, used in error
	// messages.
	Path() string
	// Dialect is the binding dialect the source's bindings are written
	// in.
	Dialect() *binding.Dialect

	// SchemaPropName is the property that assigns schemas to a node.
	SchemaPropName() string
	// EnabledPropName is the property that toggles a node on or off.
	EnabledPropName() string

	// Raw returns the parsed source content.
	Raw() *rawtree.Tree

	// Enabled reports whether the raw node is switched on.
	Enabled(n *rawtree.Node) (bool, error)
	// Schemas returns the schemas assigned to the raw node, in source
	// order.
	Schemas(n *rawtree.Node) ([]string, error)
	// LabelCandidates returns the labels the raw node may be known by.
	// Only labels that stay unique across the whole merged tree become
	// addressable.
	LabelCandidates(n *rawtree.Node) []string

	// DefaultSpecs returns property specifications applied to nodes that
	// have no binding of their own, or nil.
	DefaultSpecs() []*binding.PropertySpec
	// UndeclaredOK reports whether a property may appear on a node
	// without being declared in its binding.
	UndeclaredOK(name string) bool
}

// DependencySource is implemented by sources whose nodes carry dependencies
// beyond the generic reference property types, like indexed references that
// point at controller nodes.
//
// AddDeps is called once per binding of the node and a final time with a
// nil binding for dependencies that do not stem from any binding. Edges
// must be attributed to root, the merged node the recursion started from.
type DependencySource interface {
	AddDeps(root *MergedNode, n *Node, g *graph.Graph, b *binding.Binding) error
}
