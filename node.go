package settree

import (
	"context"
	"strings"

	"github.com/vk/settree/binding"
	"github.com/vk/settree/rawtree"
	"github.com/vk/settree/sterr"
)

// Node is the view of one raw source node through its bindings: schemas
// matched to bindings, properties validated and resolved against the
// specifications the bindings declare.
type Node struct {
	pt  *PartialTree
	raw *rawtree.Node

	parent   *Node
	children []*Node

	schemas         []string
	matchingSchemas []string
	enabled         bool
	labels          []string

	bindings        []*binding.Binding
	bindingPaths    []string
	specs           []*binding.PropertySpec
	specByName      map[string]*binding.PropertySpec
	specifierCells  map[string][]string
	defaultsApplied bool

	props     map[string]*Property
	propOrder []string

	// busNode is the nearest ancestor whose bindings declare a bus, or
	// nil.
	busNode *Node
}

// Path returns the node's absolute path.
func (n *Node) Path() string { return n.raw.Path() }

// Name returns the node's name, "/" for the root.
func (n *Node) Name() string {
	if n.raw.Parent == nil {
		return "/"
	}
	return n.raw.Name
}

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child nodes in source order.
func (n *Node) Children() []*Node { return n.children }

// PartialTree returns the tree the node belongs to.
func (n *Node) PartialTree() *PartialTree { return n.pt }

// Raw returns the underlying source node.
func (n *Node) Raw() *rawtree.Node { return n.raw }

// Enabled reports whether the node is switched on in its source.
func (n *Node) Enabled() bool { return n.enabled }

// Schemas returns the schemas assigned to the node in source order.
func (n *Node) Schemas() []string { return n.schemas }

// MatchingSchemas returns the subset of the node's schemas that resolved
// to a binding, plus schemas inherited from parent child bindings.
func (n *Node) MatchingSchemas() []string { return n.matchingSchemas }

// Bindings returns the node's bindings: explicit schema matches first, in
// schema order, then bindings inherited from the parent.
func (n *Node) Bindings() []*binding.Binding { return n.bindings }

// BindingPaths returns the files the node's bindings came from.
func (n *Node) BindingPaths() []string { return n.bindingPaths }

// Labels returns the source labels the node carries.
func (n *Node) Labels() []string { return n.labels }

// Props returns the resolved properties in binding declaration order.
func (n *Node) Props() []*Property {
	out := make([]*Property, 0, len(n.propOrder))
	for _, name := range n.propOrder {
		out = append(out, n.props[name])
	}
	return out
}

// Prop returns the named resolved property, or nil.
func (n *Node) Prop(name string) *Property { return n.props[name] }

// Buses returns the buses the node provides to its children, empty when
// none of its bindings declare a bus.
func (n *Node) Buses() []string {
	var buses []string
	seen := map[string]struct{}{}
	for _, b := range n.bindings {
		for _, bus := range b.Buses {
			if _, dup := seen[bus]; dup {
				continue
			}
			seen[bus] = struct{}{}
			buses = append(buses, bus)
		}
	}
	return buses
}

// OnBuses returns the buses the node sits on, determined by searching
// upward for the nearest bus providing ancestor.
func (n *Node) OnBuses() []string {
	if n.busNode == nil {
		return nil
	}
	return n.busNode.Buses()
}

// BusNode returns the ancestor providing the node's bus, or nil.
func (n *Node) BusNode() *Node { return n.busNode }

// SpecifierCells returns the cell names the node's bindings declare for
// the given specifier space.
func (n *Node) SpecifierCells(space string) ([]string, bool) {
	cells, ok := n.specifierCells[space]
	return cells, ok
}

func (n *Node) String() string {
	bindings := "no binding"
	switch len(n.bindingPaths) {
	case 0:
	case 1:
		bindings = "binding " + n.bindingPaths[0]
	default:
		bindings = "bindings " + strings.Join(n.bindingPaths, ", ")
	}
	return "<Node " + n.Path() + " in '" + n.pt.src.Path() + "', " + bindings + ">"
}

// init resolves the node's bindings and checks its source properties
// against them. Relies on the parent having been initialized first.
func (n *Node) init() error {
	src := n.pt.src

	schemas, err := src.Schemas(n.raw)
	if err != nil {
		return err
	}
	n.schemas = schemas
	n.labels = src.LabelCandidates(n.raw)
	n.enabled, err = src.Enabled(n.raw)
	if err != nil {
		return err
	}

	n.initBusNode()
	n.initBindings()
	return n.checkUndeclaredProps()
}

func (n *Node) initBusNode() {
	if n.parent == nil {
		return
	}
	if len(n.parent.Buses()) > 0 {
		n.busNode = n.parent
		return
	}
	n.busNode = n.parent.busNode
}

func (n *Node) initBindings() {
	// Explicit schemas resolve in source order, trying the node's bus
	// variants before the variantless binding so bus-specific bindings
	// win.
	for _, schema := range n.schemas {
		b := n.bindingForSchema(schema)
		if b == nil {
			continue
		}
		n.bindings = append(n.bindings, b)
		n.bindingPaths = append(n.bindingPaths, b.Path)
		n.matchingSchemas = append(n.matchingSchemas, schema)
	}

	// Child bindings imposed by the parent have lower precedence than
	// explicit schemas.
	for _, b := range n.bindingsFromParent() {
		n.bindings = append(n.bindings, b)
		n.bindingPaths = append(n.bindingPaths, b.Path)
		if b.Schema != "" {
			n.matchingSchemas = append(n.matchingSchemas, b.Schema)
		}
	}

	// More specific bindings override less specific ones, keeping the
	// first position a name appeared at.
	n.specByName = map[string]*binding.PropertySpec{}
	n.specifierCells = map[string][]string{}
	for i := len(n.bindings) - 1; i >= 0; i-- {
		for _, spec := range n.bindings[i].Specs {
			if _, ok := n.specByName[spec.Name]; !ok {
				n.specs = append(n.specs, spec)
			}
			n.specByName[spec.Name] = spec
		}
		for space, cells := range n.bindings[i].SpecifierCells {
			n.specifierCells[space] = cells
		}
	}

	if len(n.specs) == 0 {
		if defaults := n.pt.src.DefaultSpecs(); len(defaults) > 0 {
			n.defaultsApplied = true
			for _, spec := range defaults {
				n.specs = append(n.specs, spec)
				n.specByName[spec.Name] = spec
			}
		}
	}
}

func (n *Node) bindingForSchema(schema string) *binding.Binding {
	for _, bus := range n.OnBuses() {
		if b := n.pt.bindingBySchema(schema, bus); b != nil {
			return b
		}
	}
	return n.pt.bindingBySchema(schema, "")
}

func (n *Node) bindingsFromParent() []*binding.Binding {
	if n.parent == nil {
		return nil
	}
	var inherited []*binding.Binding
	for _, parentBinding := range n.parent.bindings {
		for _, child := range parentBinding.Children {
			if child.MatchName(n.Name()) {
				inherited = append(inherited, child.Bindings...)
			}
		}
	}
	return inherited
}

func (n *Node) checkUndeclaredProps() error {
	// A node whose bindings declare nothing is checked against nothing.
	if len(n.specByName) == 0 || n.defaultsApplied {
		return nil
	}
	for _, name := range n.raw.PropNames() {
		if err := n.checkUndeclaredProp(name); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) checkUndeclaredProp(name string) error {
	src := n.pt.src
	if name == src.SchemaPropName() || name == src.EnabledPropName() || name == "phandle" {
		return nil
	}
	if src.UndeclaredOK(name) {
		return nil
	}
	if _, ok := n.specByName[name]; ok {
		return nil
	}
	if len(n.bindingPaths) == 0 {
		return sterr.Propertyf(
			"'%s' appears in %s in %s, but has no corresponding binding.",
			name, n.Path(), src.Path())
	}
	where := n.bindingPaths[0]
	if len(n.bindingPaths) > 1 {
		where = "[" + strings.Join(n.bindingPaths, ", ") + "]"
	}
	return sterr.Propertyf(
		"'%s' appears in %s in %s, but is not declared in 'properties:' in %s",
		name, n.Path(), src.Path(), where)
}

// initProps instantiates every property the node's bindings declare. Runs
// after all nodes of the partial tree exist, because reference typed
// properties point at other nodes.
func (n *Node) initProps(ctx context.Context) error {
	n.props = map[string]*Property{}
	for _, spec := range n.specs {
		if spec.Type == binding.Node {
			continue
		}
		prop, present, err := n.pt.resolveProp(ctx, n, spec)
		if err != nil {
			return err
		}
		if !present {
			// Optional property not in the source.
			continue
		}
		if err := n.checkPropValue(prop, spec); err != nil {
			return err
		}
		// Cell count properties like '#gpio-cells' and mapping tables
		// like 'gpio-map' are consumed during reference resolution and
		// not exposed as regular properties.
		if strings.HasPrefix(spec.Name, "#") || strings.HasSuffix(spec.Name, "-map") {
			continue
		}
		n.props[spec.Name] = prop
		n.propOrder = append(n.propOrder, spec.Name)
	}
	return nil
}

func (n *Node) checkPropValue(prop *Property, spec *binding.PropertySpec) error {
	if len(spec.Enum) > 0 {
		for _, sub := range prop.enumComparable() {
			if !enumContains(spec.Enum, sub) {
				return sterr.Propertyf(
					"value of property '%s' on %s in %s (%v) is not in 'enum' list in %s (%v)",
					spec.Name, n.Path(), n.pt.src.Path(), sub, spec.Path, spec.Enum)
			}
		}
	}
	if spec.Const != nil {
		if !constMatches(spec.Const, prop.Val) {
			return sterr.Propertyf(
				"value of property '%s' on %s in %s is different from the 'const' value specified in %s (%v)",
				spec.Name, n.Path(), n.pt.src.Path(), spec.Path, spec.Const)
		}
	}
	return nil
}

// enumComparable returns the value broken into the subvalues enum
// membership is checked against.
func (p *Property) enumComparable() []any {
	switch p.Val.Kind {
	case binding.Int:
		return []any{p.Val.Int}
	case binding.String:
		return []any{p.Val.Str}
	case binding.Array:
		out := make([]any, len(p.Val.Ints))
		for i, v := range p.Val.Ints {
			out[i] = v
		}
		return out
	case binding.StringArray:
		out := make([]any, len(p.Val.Strs))
		for i, v := range p.Val.Strs {
			out[i] = v
		}
		return out
	}
	return nil
}

func enumContains(enum []any, val any) bool {
	for _, e := range enum {
		if enumEqual(e, val) {
			return true
		}
	}
	return false
}

func enumEqual(e, val any) bool {
	if ei, ok := binding.AsInt(e); ok {
		vi, ok := binding.AsInt(val)
		return ok && ei == vi
	}
	return e == val
}

func constMatches(c any, val Value) bool {
	switch val.Kind {
	case binding.Int:
		ci, ok := binding.AsInt(c)
		return ok && ci == val.Int
	case binding.String:
		cs, ok := c.(string)
		return ok && cs == val.Str
	case binding.Array:
		list, ok := c.([]any)
		if !ok || len(list) != len(val.Ints) {
			return false
		}
		for i, e := range list {
			ei, ok := binding.AsInt(e)
			if !ok || ei != val.Ints[i] {
				return false
			}
		}
		return true
	case binding.Uint8Array:
		want, err := defaultBytes(c)
		if err != nil || len(want) != len(val.Bytes) {
			return false
		}
		for i, b := range want {
			if b != val.Bytes[i] {
				return false
			}
		}
		return true
	case binding.StringArray:
		list, ok := c.([]any)
		if !ok || len(list) != len(val.Strs) {
			return false
		}
		for i, e := range list {
			es, ok := e.(string)
			if !ok || es != val.Strs[i] {
				return false
			}
		}
		return true
	}
	return false
}
