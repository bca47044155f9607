// Package rawtree models the contract between a source front end and the
// settings-tree core: a tree of named nodes whose property values are
// already decoded from source syntax into language-native scalars, lists
// and byte payloads, but not yet typed against any binding.
package rawtree

import (
	"sort"
	"strings"
)

// Kind discriminates the decoded shape of a raw property value. Hardware
// sources produce the payload kinds (Empty through PathRef); software
// sources produce the scalar kinds (Bool through List). String is shared.
type Kind int

const (
	Invalid Kind = iota

	// Hardware payload kinds.
	Empty           // no payload; presence is the value
	Bytes           // raw byte payload
	Num             // big-endian numeric payload
	Nums            // sequence of 32-bit big-endian cells
	String          // one string
	Strings         // list of strings
	PHandle         // one 32-bit device handle
	PHandles        // sequence of 32-bit device handles
	PHandlesAndNums // mixed device handles and data cells
	PathRef         // payload is a node path

	// Software scalar kinds.
	Bool
	Int
	List
)

var kindNames = map[Kind]string{
	Invalid: "invalid", Empty: "empty", Bytes: "bytes", Num: "num",
	Nums: "nums", String: "string", Strings: "strings", PHandle: "phandle",
	PHandles: "phandles", PHandlesAndNums: "phandles-and-nums",
	PathRef: "path", Bool: "bool", Int: "int", List: "list",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Value is one decoded raw property value.
type Value struct {
	Kind  Kind
	Bytes []byte   // Bytes, Num, Nums, PHandle, PHandles, PHandlesAndNums
	Str   string   // String, PathRef
	Strs  []string // Strings
	Bool  bool     // Bool
	Int   int64    // Int
	List  []Value  // List
}

// Convenience constructors used by front ends and tests.

func EmptyVal() Value            { return Value{Kind: Empty} }
func BytesVal(b []byte) Value    { return Value{Kind: Bytes, Bytes: b} }
func NumVal(b []byte) Value      { return Value{Kind: Num, Bytes: b} }
func NumsVal(b []byte) Value     { return Value{Kind: Nums, Bytes: b} }
func StringVal(s string) Value   { return Value{Kind: String, Str: s} }
func StringsVal(s ...string) Value {
	return Value{Kind: Strings, Strs: s}
}
func PHandleVal(b []byte) Value  { return Value{Kind: PHandle, Bytes: b} }
func PHandlesVal(b []byte) Value { return Value{Kind: PHandles, Bytes: b} }
func PHandlesAndNumsVal(b []byte) Value {
	return Value{Kind: PHandlesAndNums, Bytes: b}
}
func PathVal(p string) Value   { return Value{Kind: PathRef, Str: p} }
func BoolVal(v bool) Value     { return Value{Kind: Bool, Bool: v} }
func IntVal(v int64) Value     { return Value{Kind: Int, Int: v} }
func StrVal(s string) Value    { return Value{Kind: String, Str: s} }
func ListVal(vs ...Value) Value {
	return Value{Kind: List, List: vs}
}

// CellsVal packs 32-bit values into a Nums payload.
func CellsVal(cells ...uint32) Value {
	return Value{Kind: Nums, Bytes: PackCells(cells...)}
}

// PackCells encodes 32-bit values big-endian, four bytes each.
func PackCells(cells ...uint32) []byte {
	out := make([]byte, 0, 4*len(cells))
	for _, c := range cells {
		out = append(out, byte(c>>24), byte(c>>16), byte(c>>8), byte(c))
	}
	return out
}

// UnpackCells decodes a big-endian cell payload. The payload length must be
// a multiple of four; the caller checks that.
func UnpackCells(b []byte) []uint32 {
	out := make([]uint32, 0, len(b)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		out = append(out, uint32(b[i])<<24|uint32(b[i+1])<<16|uint32(b[i+2])<<8|uint32(b[i+3]))
	}
	return out
}

// Node is one raw tree node. Children and properties iterate in insertion
// order.
type Node struct {
	Name   string
	Parent *Node
	Labels []string

	children  []*Node
	childIdx  map[string]*Node
	props     map[string]Value
	propOrder []string

	path string
}

// Tree is a complete raw tree plus the device-handle table hardware sources
// carry. PhandleToPath maps a raw handle value to the path of the node it
// names.
type Tree struct {
	Root          *Node
	PhandleToPath map[uint32]string
}

// NewTree returns a tree holding only the root node.
func NewTree() *Tree {
	return &Tree{
		Root:          &Node{Name: "", path: "/"},
		PhandleToPath: map[uint32]string{},
	}
}

// Add returns the node at the given absolute path, creating it and any
// missing ancestors. Add("/") returns the root.
func (t *Tree) Add(path string) *Node {
	n := t.Root
	for _, part := range splitPath(path) {
		child := n.Child(part)
		if child == nil {
			child = n.AddChild(part)
		}
		n = child
	}
	return n
}

// Node returns the node at the given absolute path, or nil.
func (t *Tree) Node(path string) *Node {
	n := t.Root
	for _, part := range splitPath(path) {
		if n = n.Child(part); n == nil {
			return nil
		}
	}
	return n
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// NodesByDepth returns every node ordered shallowest-first, ties broken by
// path, so a node always appears after its parent.
func (t *Tree) NodesByDepth() []*Node {
	var all []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		all = append(all, n)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.Root)
	sort.SliceStable(all, func(i, j int) bool {
		di, dj := strings.Count(all[i].Path(), "/"), strings.Count(all[j].Path(), "/")
		if di != dj {
			return di < dj
		}
		return all[i].Path() < all[j].Path()
	})
	return all
}

// Path returns the absolute path of the node, "/" for the root.
func (n *Node) Path() string {
	if n.path != "" {
		return n.path
	}
	if n.Parent == nil {
		n.path = "/"
	} else if n.Parent.Parent == nil {
		n.path = "/" + n.Name
	} else {
		n.path = n.Parent.Path() + "/" + n.Name
	}
	return n.path
}

// AddChild appends a child node with the given name.
func (n *Node) AddChild(name string) *Node {
	c := &Node{Name: name, Parent: n}
	if n.childIdx == nil {
		n.childIdx = map[string]*Node{}
	}
	n.children = append(n.children, c)
	n.childIdx[name] = c
	return c
}

// Child returns the child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	return n.childIdx[name]
}

// Children returns the children in insertion order.
func (n *Node) Children() []*Node { return n.children }

// SetProp stores a property value, keeping first-set order.
func (n *Node) SetProp(name string, v Value) {
	if n.props == nil {
		n.props = map[string]Value{}
	}
	if _, ok := n.props[name]; !ok {
		n.propOrder = append(n.propOrder, name)
	}
	n.props[name] = v
}

// Prop returns the named property value.
func (n *Node) Prop(name string) (Value, bool) {
	v, ok := n.props[name]
	return v, ok
}

// PropNames returns the property names in insertion order.
func (n *Node) PropNames() []string {
	out := make([]string, len(n.propOrder))
	copy(out, n.propOrder)
	return out
}
