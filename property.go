package settree

import (
	"fmt"

	"github.com/vk/settree/binding"
)

// Value is the resolved, typed value of a property. Kind selects which of
// the payload fields is meaningful:
//
//	Boolean              Bool
//	Int                  Int
//	Array                Ints
//	Uint8Array           Bytes
//	String               Str
//	StringArray          Strs
//	PHandle, Path        RefPath
//	PHandles             RefPaths
//	PHandleArray         Entries
//
// References are stored as merged tree paths and resolved to nodes on
// access, so a value never goes stale when later sources merge into the
// tree.
type Value struct {
	Kind binding.PropType

	Bool  bool
	Int   int64
	Ints  []int64
	Bytes []byte
	Str   string
	Strs  []string

	RefPath  string
	RefPaths []string
	Entries  []RefEntry
}

// Cell is one named data cell of an indexed reference entry.
type Cell struct {
	Name string
	Val  uint32
}

// RefEntry is one element of an indexed reference property: the controller
// node it points at plus the data cells that follow the handle. Absent
// entries are holes left by a zero handle.
type RefEntry struct {
	// Name is the element's name from the matching "<space>-names"
	// property, or "".
	Name string
	// Basename is the specifier space the entry belongs to, like "gpio".
	Basename string
	// ControllerPath is the merged tree path of the controller node.
	ControllerPath string
	Cells          []Cell
	Absent         bool
}

// Cell returns the value of the named data cell.
func (e *RefEntry) Cell(name string) (uint32, bool) {
	for _, c := range e.Cells {
		if c.Name == name {
			return c.Val, true
		}
	}
	return 0, false
}

// Property is a resolved property on a partial tree node: the binding
// specification it was validated against plus its typed value.
type Property struct {
	// Spec is the specification from the binding that declared the
	// property.
	Spec *binding.PropertySpec
	// Node is the partial tree node the property is on.
	Node *Node
	// Val is the resolved value. For properties absent from the source it
	// holds the spec's default.
	Val Value
}

// Name returns the property name.
func (p *Property) Name() string { return p.Spec.Name }

// Type returns the property type from the binding.
func (p *Property) Type() binding.PropType { return p.Spec.Type }

// RefNode resolves a PHandle or Path typed value to its merged node.
func (p *Property) RefNode() (*MergedNode, error) {
	return p.Node.pt.tree.refNode(p.Val.RefPath)
}

// RefNodes resolves a PHandles typed value to its merged nodes.
func (p *Property) RefNodes() ([]*MergedNode, error) {
	nodes := make([]*MergedNode, 0, len(p.Val.RefPaths))
	for _, path := range p.Val.RefPaths {
		n, err := p.Node.pt.tree.refNode(path)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (p *Property) String() string {
	return fmt.Sprintf("<Property '%s' at '%s' in '%s'>", p.Name(), p.Node.Path(), p.Spec.Path)
}
