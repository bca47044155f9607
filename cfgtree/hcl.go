package cfgtree

import (
	"sort"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/settree/rawtree"
	"github.com/vk/settree/sterr"
	"github.com/zclconf/go-cty/cty"
)

// LoadHCL parses an HCL configuration document. Nested node "name" {}
// blocks form the tree; attributes become properties.
func LoadHCL(data []byte, filename string) (*Source, error) {
	f, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, sterr.Schemaf("'%s' isn't valid HCL: %s", filename, diags.Error())
	}
	body, ok := f.Body.(*hclsyntax.Body)
	if !ok {
		return nil, sterr.Schemaf("'%s' isn't valid HCL", filename)
	}

	tree := rawtree.NewTree()
	if err := fillHCL(tree.Root, body, filename); err != nil {
		return nil, err
	}
	return New(tree, filename), nil
}

func fillHCL(node *rawtree.Node, body *hclsyntax.Body, filename string) error {
	attrs := make([]*hclsyntax.Attribute, 0, len(body.Attributes))
	for _, a := range body.Attributes {
		attrs = append(attrs, a)
	}
	sort.Slice(attrs, func(i, j int) bool {
		return attrs[i].SrcRange.Start.Byte < attrs[j].SrcRange.Start.Byte
	})
	for _, a := range attrs {
		val, diags := a.Expr.Value(nil)
		if diags.HasErrors() {
			return sterr.Propertyf(
				"property '%s' on %s in %s: %s", a.Name, node.Path(), filename, diags.Error())
		}
		v, err := ctyValue(val)
		if err != nil {
			return sterr.Propertyf(
				"property '%s' on %s in %s: %s", a.Name, node.Path(), filename, err)
		}
		node.SetProp(a.Name, v)
	}

	for _, b := range body.Blocks {
		if b.Type != "node" {
			return sterr.Schemaf(
				"unexpected '%s' block in %s (line %d), expected 'node'",
				b.Type, filename, b.TypeRange.Start.Line)
		}
		if len(b.Labels) != 1 {
			return sterr.Schemaf(
				"'node' block in %s (line %d) must have exactly one label",
				filename, b.TypeRange.Start.Line)
		}
		if err := fillHCL(node.AddChild(b.Labels[0]), b.Body, filename); err != nil {
			return err
		}
	}
	return nil
}

func ctyValue(val cty.Value) (rawtree.Value, error) {
	if val.IsNull() {
		return rawtree.EmptyVal(), nil
	}
	t := val.Type()
	switch {
	case t == cty.Bool:
		return rawtree.BoolVal(val.True()), nil
	case t == cty.Number:
		i, _ := val.AsBigFloat().Int64()
		return rawtree.IntVal(i), nil
	case t == cty.String:
		return rawtree.StrVal(val.AsString()), nil
	case t.IsTupleType() || t.IsListType():
		elems := make([]rawtree.Value, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			v, err := ctyValue(ev)
			if err != nil {
				return rawtree.Value{}, err
			}
			elems = append(elems, v)
		}
		return rawtree.ListVal(elems...), nil
	}
	return rawtree.Value{}, sterr.Propertyf("unsupported value type %s", t.FriendlyName())
}
