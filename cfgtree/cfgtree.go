package cfgtree

import (
	"fmt"
	"strings"

	"github.com/vk/settree"
	"github.com/vk/settree/binding"
	"github.com/vk/settree/internal/yamlmap"
	"github.com/vk/settree/rawtree"
	"github.com/vk/settree/sterr"
	"gopkg.in/yaml.v3"
)

// Source exposes a configuration overlay set to the merge pipeline.
type Source struct {
	raw  *rawtree.Tree
	path string
}

// New wraps an already built raw tree. path names the source for error
// messages.
func New(raw *rawtree.Tree, path string) *Source {
	return &Source{raw: raw, path: path}
}

// LoadYAML parses a YAML overlay document: a list of overlays, each a
// mapping from mount points to configuration subtrees. A mount point is
// either an absolute path, created on demand, or the label of a node that
// must already exist in the document. Mount points starting with "x-" are
// reusable extension snippets and are skipped.
func LoadYAML(data []byte, path string) (*Source, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, sterr.Schemaf("'%s' isn't valid YAML: %s", path, err)
	}
	if len(doc.Content) == 0 {
		return New(rawtree.NewTree(), path), nil
	}
	if doc.Content[0].Kind != yaml.SequenceNode {
		return nil, sterr.Schemaf("Expected a list of configuration overlays in %s", path)
	}

	merged := yamlmap.New()
	for _, overlayNode := range doc.Content[0].Content {
		var overlay *yamlmap.Map
		if err := overlayNode.Decode(&overlay); err != nil {
			return nil, sterr.Schemaf(
				"Overlay in %s should be a dictionary of mount points to configuration nodes: %s",
				path, err)
		}
		if err := applyOverlay(merged, overlay, path); err != nil {
			return nil, err
		}
	}

	raw, err := buildRaw(merged, path)
	if err != nil {
		return nil, err
	}
	return New(raw, path), nil
}

func applyOverlay(target, overlay *yamlmap.Map, path string) error {
	for _, mount := range overlay.Keys() {
		if strings.HasPrefix(mount, "x-") {
			// Extension points are reusable snippets, not mounts.
			continue
		}
		val, _ := overlay.Get(mount)
		sub, ok := val.(*yamlmap.Map)
		if !ok {
			return sterr.Schemaf(
				"Overlay node at mount point %s in %s should be a mapping.", mount, path)
		}

		if strings.HasPrefix(mount, "/") {
			node := target
			for _, part := range strings.Split(mount, "/") {
				if part == "" {
					continue
				}
				child := node.GetMap(part)
				if child == nil {
					child = yamlmap.New()
					node.Set(part, child)
				}
				node = child
			}
			if err := mergeInto(node, sub, ""); err != nil {
				return err
			}
			continue
		}

		if strings.Contains(mount, "/") {
			return sterr.Schemaf(
				"Mount point %s in %s should either be an absolute path (ie. start with '/') or a label not containing any slashes.",
				mount, path)
		}
		found, err := mergeAtLabel(target, mount, sub)
		if err != nil {
			return err
		}
		if !found {
			return sterr.Schemaf(
				"Target label %s for overlay in %s not found in configuration.", mount, path)
		}
	}
	return nil
}

// mergeAtLabel searches the target recursively for a node named label and
// merges the overlay into the first hit.
func mergeAtLabel(target *yamlmap.Map, label string, overlay *yamlmap.Map) (bool, error) {
	if node := target.GetMap(label); node != nil {
		return true, mergeInto(node, overlay, label)
	}
	for _, key := range target.Keys() {
		child := target.GetMap(key)
		if child == nil {
			continue
		}
		found, err := mergeAtLabel(child, label, overlay)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// mergeInto merges the overlay into the target node: mappings merge
// recursively, anything else overwrites.
func mergeInto(target, overlay *yamlmap.Map, matchedLabel string) error {
	if matchedLabel != "" && target.Has(matchedLabel) {
		return sterr.Schemaf("The label %s is not unique in the target.", matchedLabel)
	}
	for _, key := range overlay.Keys() {
		overlayVal, _ := overlay.Get(key)
		overlayMap, overlayIsMap := overlayVal.(*yamlmap.Map)
		targetMap := target.GetMap(key)
		if overlayIsMap && targetMap != nil {
			if err := mergeInto(targetMap, overlayMap, matchedLabel); err != nil {
				return err
			}
			continue
		}
		target.Set(key, overlayVal)
	}
	return nil
}

// buildRaw converts the merged overlay document into a raw tree: mapping
// valued keys become child nodes, everything else becomes a property.
func buildRaw(merged *yamlmap.Map, path string) (*rawtree.Tree, error) {
	tree := rawtree.NewTree()
	var fill func(node *rawtree.Node, src *yamlmap.Map) error
	fill = func(node *rawtree.Node, src *yamlmap.Map) error {
		for _, key := range src.Keys() {
			val, _ := src.Get(key)
			if child, ok := val.(*yamlmap.Map); ok {
				if err := fill(node.AddChild(key), child); err != nil {
					return err
				}
				continue
			}
			v, err := scalarValue(val)
			if err != nil {
				return sterr.Propertyf(
					"property '%s' on %s in %s: %s", key, node.Path(), path, err)
			}
			node.SetProp(key, v)
		}
		return nil
	}
	if err := fill(tree.Root, merged); err != nil {
		return nil, err
	}
	return tree, nil
}

func scalarValue(val any) (rawtree.Value, error) {
	switch v := val.(type) {
	case bool:
		return rawtree.BoolVal(v), nil
	case int:
		return rawtree.IntVal(int64(v)), nil
	case int64:
		return rawtree.IntVal(v), nil
	case uint64:
		return rawtree.IntVal(int64(v)), nil
	case string:
		return rawtree.StrVal(v), nil
	case nil:
		return rawtree.EmptyVal(), nil
	case []any:
		elems := make([]rawtree.Value, 0, len(v))
		for _, e := range v {
			ev, err := scalarValue(e)
			if err != nil {
				return rawtree.Value{}, err
			}
			elems = append(elems, ev)
		}
		return rawtree.ListVal(elems...), nil
	}
	return rawtree.Value{}, fmt.Errorf("unsupported value '%v'", val)
}

func (s *Source) Kind() settree.SourceKind  { return settree.SoftwareSource }
func (s *Source) Path() string              { return s.path }
func (s *Source) Dialect() *binding.Dialect { return binding.Software }
func (s *Source) SchemaPropName() string    { return "schema" }
func (s *Source) EnabledPropName() string   { return "enabled" }
func (s *Source) Raw() *rawtree.Tree        { return s.raw }

// Enabled reports the node's "enabled" property, true when absent.
func (s *Source) Enabled(n *rawtree.Node) (bool, error) {
	v, ok := n.Prop("enabled")
	if !ok {
		return true, nil
	}
	if v.Kind != rawtree.Bool {
		return false, sterr.Propertyf(
			"expected property 'enabled' on %s in %s to be a boolean", n.Path(), s.path)
	}
	return v.Bool, nil
}

// Schemas returns the node's "schema" property as a list.
func (s *Source) Schemas(n *rawtree.Node) ([]string, error) {
	v, ok := n.Prop("schema")
	if !ok {
		return nil, nil
	}
	switch v.Kind {
	case rawtree.String:
		return []string{v.Str}, nil
	case rawtree.List:
		out := make([]string, 0, len(v.List))
		for _, e := range v.List {
			if e.Kind != rawtree.String {
				return nil, sterr.Schemaf("Invalid 'schema' property in config node %s", n.Path())
			}
			out = append(out, e.Str)
		}
		return out, nil
	}
	return nil, sterr.Schemaf("Invalid 'schema' property in config node %s", n.Path())
}

// LabelCandidates returns the node's name; configuration nodes are
// addressed by name when the name stays unique across the tree.
func (s *Source) LabelCandidates(n *rawtree.Node) []string {
	if n.Parent == nil {
		return nil
	}
	return []string{n.Name}
}

func (s *Source) DefaultSpecs() []*binding.PropertySpec { return nil }

func (s *Source) UndeclaredOK(name string) bool { return false }
