package hwtree

import (
	"strings"

	"github.com/vk/settree"
	"github.com/vk/settree/binding"
	"github.com/vk/settree/internal/graph"
	"github.com/vk/settree/rawtree"
	"github.com/vk/settree/sterr"
)

// Source exposes a raw hardware description tree to the merge pipeline.
type Source struct {
	raw  *rawtree.Tree
	path string

	defaultSpecs []*binding.PropertySpec
}

// New wraps a raw hardware tree. path names the file the tree came from
// and is used in error messages only.
func New(raw *rawtree.Tree, path string) *Source {
	return &Source{raw: raw, path: path, defaultSpecs: defaultSpecs()}
}

func (s *Source) Kind() settree.SourceKind  { return settree.HardwareSource }
func (s *Source) Path() string              { return s.path }
func (s *Source) Dialect() *binding.Dialect { return binding.Hardware }
func (s *Source) SchemaPropName() string    { return "compatible" }
func (s *Source) EnabledPropName() string   { return "status" }
func (s *Source) Raw() *rawtree.Tree        { return s.raw }

// Enabled reports whether the node's status is "okay". A missing status
// property counts as enabled.
func (s *Source) Enabled(n *rawtree.Node) (bool, error) {
	status, err := s.status(n)
	if err != nil {
		return false, err
	}
	return status == "okay", nil
}

func (s *Source) status(n *rawtree.Node) (string, error) {
	v, ok := n.Prop("status")
	if !ok {
		return "okay", nil
	}
	if v.Kind != rawtree.String {
		return "", sterr.Propertyf(
			"expected 'status' on %s in %s to be a string", n.Path(), s.path)
	}
	// "ok" is a legacy spelling of "okay".
	if v.Str == "ok" {
		return "okay", nil
	}
	return v.Str, nil
}

// Status returns the node's status string, with the legacy "ok" spelling
// normalized to "okay" and a missing property defaulting to "okay".
func Status(n *settree.Node) (string, error) {
	src, ok := n.PartialTree().Source().(*Source)
	if !ok {
		return "", sterr.Propertyf("node %s is not from a hardware source", n.Path())
	}
	return src.status(n.Raw())
}

// Schemas returns the node's "compatible" strings in source order.
func (s *Source) Schemas(n *rawtree.Node) ([]string, error) {
	v, ok := n.Prop("compatible")
	if !ok {
		return nil, nil
	}
	switch v.Kind {
	case rawtree.String:
		return []string{v.Str}, nil
	case rawtree.Strings:
		return v.Strs, nil
	}
	return nil, sterr.Propertyf(
		"expected 'compatible' on %s in %s to be a string or string list", n.Path(), s.path)
}

func (s *Source) LabelCandidates(n *rawtree.Node) []string { return n.Labels }

func (s *Source) DefaultSpecs() []*binding.PropertySpec { return s.defaultSpecs }

// UndeclaredOK allows the structural properties every hardware node may
// carry without a binding declaration: cell counts, controller markers and
// addressing glue.
func (s *Source) UndeclaredOK(name string) bool {
	if strings.HasPrefix(name, "#") || strings.HasSuffix(name, "-controller") {
		return true
	}
	switch name {
	case "interrupt-parent", "device_type", "ranges":
		return true
	}
	return false
}

// AddDeps adds the dependencies carried by indexed reference properties:
// a node depends on every controller its entries point at. Hardware
// sources have no node level dependencies beyond their bindings, so a nil
// binding adds nothing.
func (s *Source) AddDeps(root *settree.MergedNode, n *settree.Node, g *graph.Graph, b *binding.Binding) error {
	if b == nil {
		return nil
	}
	for _, spec := range b.Specs {
		for _, prop := range n.Props() {
			if !spec.MatchNamePrefix(prop.Name()) {
				continue
			}
			if prop.Type() != binding.PHandleArray {
				continue
			}
			for _, entry := range prop.Val.Entries {
				if entry.Absent {
					continue
				}
				g.AddEdge(root.Path(), entry.ControllerPath)
			}
		}
	}
	return nil
}

// defaultSpecs is the property set applied to nodes that have no binding,
// so that structural properties stay accessible on unbound nodes.
func defaultSpecs() []*binding.PropertySpec {
	mk := func(name string, t binding.PropType) *binding.PropertySpec {
		spec, err := binding.NewPropertySpec(name, "<default>", t)
		if err != nil {
			panic(err)
		}
		return spec
	}
	status := mk("status", binding.String)
	status.Enum = []any{"ok", "okay", "disabled", "reserved", "fail", "fail-sss"}
	return []*binding.PropertySpec{
		mk("compatible", binding.StringArray),
		status,
		mk("reg", binding.Array),
		mk("reg-names", binding.StringArray),
		mk("label", binding.String),
		mk("ranges", binding.Compound),
		mk("interrupt-controller", binding.Boolean),
	}
}
