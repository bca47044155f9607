package settree

import (
	"context"
	"fmt"

	"github.com/vk/settree/binding"
	"github.com/vk/settree/internal/ctxlog"
	"github.com/vk/settree/sterr"
)

type bindingKey struct {
	schema  string
	variant string
}

// PartialTree wraps one settings source and the bindings its nodes resolve
// against. Partial trees are added to a Tree and processed by it; a partial
// tree is never processed on its own.
type PartialTree struct {
	src  Source
	tree *Tree

	processed bool

	usedSchemas  map[string]struct{}
	bindingByKey map[bindingKey]*binding.Binding

	nodes       []*Node
	pathOrder   []string
	pathTo      map[string]*Node
	labelToNode map[string]*Node
}

// NewPartialTree wraps a source and registers the bindings its nodes may
// resolve against. Bindings whose schema no node of the source uses are
// skipped; two bindings claiming the same schema and bus variant are an
// error.
func NewPartialTree(src Source, bindings []*binding.Binding) (*PartialTree, error) {
	pt := &PartialTree{
		src:          src,
		usedSchemas:  map[string]struct{}{},
		bindingByKey: map[bindingKey]*binding.Binding{},
		pathTo:       map[string]*Node{},
		labelToNode:  map[string]*Node{},
	}
	for _, raw := range src.Raw().NodesByDepth() {
		schemas, err := src.Schemas(raw)
		if err != nil {
			return nil, err
		}
		for _, schema := range schemas {
			pt.usedSchemas[schema] = struct{}{}
		}
	}
	for _, b := range bindings {
		if b.Schema == "" {
			continue
		}
		if _, used := pt.usedSchemas[b.Schema]; !used {
			continue
		}
		if err := pt.registerBinding(b); err != nil {
			return nil, err
		}
	}
	return pt, nil
}

// registerBinding registers a binding and, recursively, every child
// binding that carries its own schema.
func (pt *PartialTree) registerBinding(b *binding.Binding) error {
	if b.Schema == "" {
		return nil
	}
	key := bindingKey{schema: b.Schema, variant: b.Variant()}
	if old := pt.bindingByKey[key]; old != nil {
		msg := fmt.Sprintf("both %s and %s have schema '%s'", old.Path, b.Path, b.Schema)
		if b.Variant() != "" {
			msg += fmt.Sprintf(" and 'binding variant %s'", b.Variant())
		}
		return sterr.Schemaf("%s", msg)
	}
	pt.bindingByKey[key] = b

	for _, child := range b.Children {
		for _, cb := range child.Bindings {
			if cb.Schema == "" {
				continue
			}
			if err := pt.registerBinding(cb); err != nil {
				return err
			}
		}
	}
	return nil
}

// Source returns the wrapped source.
func (pt *PartialTree) Source() Source { return pt.src }

// Schemas returns the schemas used anywhere in the source, in no
// particular order.
func (pt *PartialTree) Schemas() []string {
	out := make([]string, 0, len(pt.usedSchemas))
	for schema := range pt.usedSchemas {
		out = append(out, schema)
	}
	return out
}

// Nodes returns the nodes of the partial tree in source order, parents
// before children.
func (pt *PartialTree) Nodes() ([]*Node, error) {
	if !pt.processed {
		return nil, sterr.Statef(
			"partial tree for '%s' has not been processed; add it to a Tree and call Process first",
			pt.src.Path())
	}
	return pt.nodes, nil
}

// NodeByPath returns the node at the given path, or nil.
func (pt *PartialTree) NodeByPath(path string) (*Node, error) {
	if !pt.processed {
		return nil, sterr.Statef(
			"partial tree for '%s' has not been processed; add it to a Tree and call Process first",
			pt.src.Path())
	}
	return pt.pathTo[path], nil
}

// BindingBySchema returns the registered binding for a schema and bus
// variant, or nil.
func (pt *PartialTree) BindingBySchema(schema, variant string) *binding.Binding {
	return pt.bindingBySchema(schema, variant)
}

func (pt *PartialTree) bindingBySchema(schema, variant string) *binding.Binding {
	return pt.bindingByKey[bindingKey{schema: schema, variant: variant}]
}

func (pt *PartialTree) nodeByPath(path string) *Node { return pt.pathTo[path] }

func (pt *PartialTree) String() string {
	return fmt.Sprintf("<PartialTree for '%s'>", pt.src.Path())
}

// process builds and validates the partial tree. Called by Tree.Process;
// expects partial trees this source references to have been processed and
// merged already.
func (pt *PartialTree) process(ctx context.Context) error {
	if pt.tree == nil {
		return sterr.Statef(
			"partial tree for '%s' has not been attached to a Tree; call AddSource first",
			pt.src.Path())
	}
	if pt.processed {
		return sterr.Statef("partial tree for '%s' has already been processed", pt.src.Path())
	}

	if err := pt.buildNodes(); err != nil {
		return err
	}

	// Properties may reference other nodes, so they resolve only after
	// every node of the source exists.
	for _, n := range pt.nodes {
		if err := n.initProps(ctx); err != nil {
			return err
		}
	}

	pt.processed = true
	pt.check(ctx)

	ctxlog.FromContext(ctx).Debug("processed partial tree",
		"source", pt.src.Path(), "nodes", len(pt.nodes), "bindings", len(pt.bindingByKey))
	return nil
}

func (pt *PartialTree) buildNodes() error {
	for _, raw := range pt.src.Raw().NodesByDepth() {
		n := &Node{pt: pt, raw: raw}
		if raw.Parent != nil {
			n.parent = pt.pathTo[raw.Parent.Path()]
			if n.parent != nil {
				n.parent.children = append(n.parent.children, n)
			}
		}
		if err := n.init(); err != nil {
			return err
		}
		pt.nodes = append(pt.nodes, n)
		pt.pathTo[n.Path()] = n
		pt.pathOrder = append(pt.pathOrder, n.Path())
		for _, label := range n.labels {
			pt.labelToNode[label] = n
		}
	}
	return nil
}

// check emits tree-wide warnings about bindings whose string enums cannot
// be turned into unique tokens.
func (pt *PartialTree) check(ctx context.Context) {
	log := ctxlog.FromContext(ctx)
	for _, b := range pt.bindingByKey {
		for _, spec := range b.Specs {
			if len(spec.Enum) == 0 || spec.Type != binding.String {
				continue
			}
			if !spec.EnumTokenizable() {
				log.Warn(fmt.Sprintf(
					"schema '%s' in binding '%s' has non-tokenizable enum for property '%s': %v",
					b.Schema, b.Path, spec.Name, spec.Enum))
			} else if !spec.EnumUpperTokenizable() {
				log.Warn(fmt.Sprintf(
					"schema '%s' in binding '%s' has enum for property '%s' that is only tokenizable in lowercase: %v",
					b.Schema, b.Path, spec.Name, spec.Enum))
			}
		}
	}
}
