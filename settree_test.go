package settree_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/settree"
	"github.com/vk/settree/binding"
	"github.com/vk/settree/cfgtree"
	"github.com/vk/settree/sterr"
)

func softBinding(t *testing.T, path, doc string) *binding.Binding {
	t.Helper()
	b, err := binding.Resolve([]byte(doc), path, nil, binding.Software, binding.ResolveOptions{})
	require.NoError(t, err)
	return b
}

func softSource(t *testing.T, path, doc string) *cfgtree.Source {
	t.Helper()
	src, err := cfgtree.LoadYAML([]byte(doc), path)
	require.NoError(t, err)
	return src
}

func newPartial(t *testing.T, src settree.Source, bindings ...*binding.Binding) *settree.PartialTree {
	t.Helper()
	pt, err := settree.NewPartialTree(src, bindings)
	require.NoError(t, err)
	return pt
}

// processTree builds a tree from the given sources and processes it.
func processTree(t *testing.T, opts settree.Options, parts ...*settree.PartialTree) *settree.Tree {
	t.Helper()
	tree := settree.New(opts)
	for _, pt := range parts {
		require.NoError(t, tree.AddSource(pt))
	}
	require.NoError(t, tree.Process(context.Background()))
	return tree
}

func ordinalOf(t *testing.T, tree *settree.Tree, path string) int {
	t.Helper()
	n, err := tree.NodeByPath(path)
	require.NoError(t, err)
	require.NotNil(t, n, "no node at %s", path)
	ord, err := n.Ordinal()
	require.NoError(t, err)
	return ord
}

func TestProcess_OrdinalsFollowDependencies(t *testing.T) {
	uart := softBinding(t, "uart.yaml", `
schema: vnd,uart
properties:
  baud:
    type: int
    required: true
  clock-source:
    type: phandle
`)
	cpu := softBinding(t, "cpu.yaml", `
schema: vnd,cpu
properties:
  clock:
    type: int
`)
	src := softSource(t, "board.yaml", `
- /:
    soc:
      uart0:
        schema: vnd,uart
        baud: 115200
        clock-source: "&cpu0"
      cpu0:
        schema: vnd,cpu
        clock: 100
`)
	tree := processTree(t, settree.Options{}, newPartial(t, src, uart, cpu))

	paths := []string{"/", "/soc", "/soc/uart0", "/soc/cpu0"}
	seen := map[int]string{}
	for _, path := range paths {
		ord := ordinalOf(t, tree, path)
		require.NotContains(t, seen, ord, "ordinals must be unique")
		seen[ord] = path

		n, err := tree.NodeByOrdinal(ord)
		require.NoError(t, err)
		require.Equal(t, path, n.Path())
	}

	// Parents come before children, referenced nodes before referencing
	// ones.
	require.Less(t, ordinalOf(t, tree, "/"), ordinalOf(t, tree, "/soc"))
	require.Less(t, ordinalOf(t, tree, "/soc"), ordinalOf(t, tree, "/soc/uart0"))
	require.Less(t, ordinalOf(t, tree, "/soc/cpu0"), ordinalOf(t, tree, "/soc/uart0"))

	uartNode, err := tree.NodeByPath("/soc/uart0")
	require.NoError(t, err)
	require.EqualValues(t, 115200, uartNode.Prop("baud").Val.Int)

	ref, err := uartNode.Prop("clock-source").RefNode()
	require.NoError(t, err)
	require.Equal(t, "/soc/cpu0", ref.Path())

	deps, err := uartNode.DependsOn()
	require.NoError(t, err)
	depPaths := make([]string, 0, len(deps))
	for _, d := range deps {
		depPaths = append(depPaths, d.Path())
	}
	require.Contains(t, depPaths, "/soc/cpu0")
	require.Contains(t, depPaths, "/soc")

	cpuNode, err := tree.NodeByPath("/soc/cpu0")
	require.NoError(t, err)
	reqBy, err := cpuNode.RequiredBy()
	require.NoError(t, err)
	require.Len(t, reqBy, 1)
	require.Equal(t, "/soc/uart0", reqBy[0].Path())

	sccs, err := tree.OrderedSCCs()
	require.NoError(t, err)
	for _, scc := range sccs {
		require.Len(t, scc, 1)
	}
}

func TestProcess_DependencyLoop(t *testing.T) {
	peer := softBinding(t, "peer.yaml", `
schema: vnd,peer
properties:
  partner:
    type: phandle
`)
	src := softSource(t, "loop.yaml", `
- /:
    a:
      schema: vnd,peer
      partner: "&b"
    b:
      schema: vnd,peer
      partner: "&a"
    standalone:
      schema: vnd,peer
`)
	tree := settree.New(settree.Options{})
	require.NoError(t, tree.AddSource(newPartial(t, src, peer)))

	err := tree.Process(context.Background())
	require.Error(t, err)
	var gerr *sterr.GraphError
	require.True(t, errors.As(err, &gerr))
	require.Contains(t, err.Error(), "Dependency loop detected")

	// No ordinal is assigned when any loop exists, not even to nodes
	// outside it.
	n, err := tree.NodeByPath("/standalone")
	require.NoError(t, err)
	_, err = n.Ordinal()
	var serr *sterr.StateError
	require.True(t, errors.As(err, &serr))
}

func TestMerge_PropsMustBeDisjoint(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  clock:
    type: int
  name:
    type: string
`)
	one := softSource(t, "one.yaml", "- /:\n    dev:\n      schema: vnd,dev\n      clock: 1\n")
	two := softSource(t, "two.yaml", "- /:\n    dev:\n      schema: vnd,dev\n      clock: 2\n")

	tree := settree.New(settree.Options{})
	require.NoError(t, tree.AddSource(newPartial(t, one, dev)))
	require.NoError(t, tree.AddSource(newPartial(t, two, dev)))

	err := tree.Process(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "property 'clock' on /dev is set in both one.yaml and two.yaml")
}

func TestMerge_ComplementarySources(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  clock:
    type: int
  name:
    type: string
`)
	one := softSource(t, "one.yaml", "- /:\n    dev:\n      schema: vnd,dev\n      clock: 1\n")
	two := softSource(t, "two.yaml", "- /:\n    dev:\n      schema: vnd,dev\n      name: primary\n")

	tree := processTree(t, settree.Options{},
		newPartial(t, one, dev), newPartial(t, two, dev))

	n, err := tree.NodeByPath("/dev")
	require.NoError(t, err)
	require.Len(t, n.Nodes(), 2, "both sources contribute to the merged node")
	require.EqualValues(t, 1, n.Prop("clock").Val.Int)
	require.Equal(t, "primary", n.Prop("name").Val.Str)
}

func TestMerge_ConflictingEnabledStates(t *testing.T) {
	one := softSource(t, "one.yaml", "- /:\n    dev: {}\n")
	two := softSource(t, "two.yaml", "- /:\n    dev: {enabled: false}\n")

	tree := settree.New(settree.Options{})
	require.NoError(t, tree.AddSource(newPartial(t, one)))
	require.NoError(t, tree.AddSource(newPartial(t, two)))

	err := tree.Process(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflicting enabled states")
}

func TestNodeByLabel(t *testing.T) {
	src := softSource(t, "cfg.yaml", `
- /:
    left:
      shared: {}
    right:
      shared: {}
    only: {}
`)
	tree := processTree(t, settree.Options{}, newPartial(t, src))

	n, err := tree.NodeByLabel("only")
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Equal(t, "/only", n.Path())

	// A name used by two different nodes addresses neither.
	dup, err := tree.NodeByLabel("shared")
	require.NoError(t, err)
	require.Nil(t, dup)
}

func TestCrossSourceReference(t *testing.T) {
	consumer := softBinding(t, "consumer.yaml", `
schema: vnd,consumer
properties:
  supply:
    type: phandle
`)
	base := softSource(t, "base.yaml", "- /:\n    regulator: {}\n")
	app := softSource(t, "app.yaml", `
- /:
    dev:
      schema: vnd,consumer
      supply: "&regulator"
`)
	tree := processTree(t, settree.Options{},
		newPartial(t, base), newPartial(t, app, consumer))

	n, err := tree.NodeByPath("/dev")
	require.NoError(t, err)
	ref, err := n.Prop("supply").RefNode()
	require.NoError(t, err)
	require.Equal(t, "/regulator", ref.Path())
}

func TestTree_StateChecks(t *testing.T) {
	src := softSource(t, "cfg.yaml", "- /:\n    dev: {}\n")

	t.Run("process without sources", func(t *testing.T) {
		tree := settree.New(settree.Options{})
		err := tree.Process(context.Background())
		var serr *sterr.StateError
		require.True(t, errors.As(err, &serr))
	})

	t.Run("lookups before processing", func(t *testing.T) {
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src)))
		_, err := tree.NodeByPath("/dev")
		require.Error(t, err)
		_, err = tree.Schemas()
		require.Error(t, err)
	})

	t.Run("partial tree attached twice", func(t *testing.T) {
		pt := newPartial(t, src)
		require.NoError(t, settree.New(settree.Options{}).AddSource(pt))
		err := settree.New(settree.Options{}).AddSource(pt)
		require.Error(t, err)
		require.Contains(t, err.Error(), "already attached")
	})

	t.Run("mutation after processing", func(t *testing.T) {
		pt := newPartial(t, src)
		tree := processTree(t, settree.Options{}, pt)

		err := tree.Process(context.Background())
		require.Error(t, err)

		other := newPartial(t, softSource(t, "late.yaml", "- /:\n    x: {}\n"))
		err = tree.AddSource(other)
		require.Error(t, err)
	})

	t.Run("partial tree lookups before processing", func(t *testing.T) {
		pt := newPartial(t, src)
		_, err := pt.Nodes()
		var serr *sterr.StateError
		require.True(t, errors.As(err, &serr))
	})
}

func TestSchemaLookups(t *testing.T) {
	dev := softBinding(t, "dev.yaml", "schema: vnd,dev\n")
	src := softSource(t, "cfg.yaml", `
- /:
    dev0:
      schema: vnd,dev
    dev1:
      schema: vnd,dev
      enabled: false
    other:
      schema: vnd,other
`)
	tree := processTree(t, settree.Options{
		VendorPrefixes: map[string]string{"vnd": "Vendor Inc."},
	}, newPartial(t, src, dev))

	schemas, err := tree.Schemas()
	require.NoError(t, err)
	require.Equal(t, []string{"vnd,dev", "vnd,other"}, schemas)

	all, err := tree.SchemaToNodes("vnd,dev")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "/dev0", all[0].Path(), "enabled nodes come first")
	require.Equal(t, "/dev1", all[1].Path())

	okay, err := tree.SchemaToOkayNodes("vnd,dev")
	require.NoError(t, err)
	require.Len(t, okay, 1)
	require.True(t, okay[0].Enabled())

	notOkay, err := tree.SchemaToNotOkayNodes("vnd,dev")
	require.NoError(t, err)
	require.Len(t, notOkay, 1)
	require.False(t, notOkay[0].Enabled())

	vendor, err := tree.Vendor("vnd,dev")
	require.NoError(t, err)
	require.Equal(t, "Vendor Inc.", vendor)
	model, err := tree.Model("vnd,dev")
	require.NoError(t, err)
	require.Equal(t, "dev", model)
}

func TestSchemaValidation(t *testing.T) {
	t.Run("malformed schema name", func(t *testing.T) {
		src := softSource(t, "cfg.yaml", "- /:\n    dev:\n      schema: \"1bad\"\n")
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "must match this regular expression")
	})

	t.Run("unknown vendor prefix", func(t *testing.T) {
		src := softSource(t, "cfg.yaml", "- /:\n    dev:\n      schema: nobody,dev\n")
		tree := settree.New(settree.Options{
			VendorPrefixes:     map[string]string{"vnd": "Vendor Inc."},
			ErrOnMissingVendor: true,
		})
		require.NoError(t, tree.AddSource(newPartial(t, src)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown vendor prefix 'nobody'")
	})

	t.Run("root is exempt from vendor checks", func(t *testing.T) {
		src := softSource(t, "cfg.yaml", "- /:\n    schema: nobody,board\n")
		tree := settree.New(settree.Options{
			VendorPrefixes:     map[string]string{"vnd": "Vendor Inc."},
			ErrOnMissingVendor: true,
		})
		require.NoError(t, tree.AddSource(newPartial(t, src)))
		require.NoError(t, tree.Process(context.Background()))
	})
}

func TestRequiredProperties(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  baud:
    type: int
    required: true
`)

	t.Run("missing on enabled node", func(t *testing.T) {
		src := softSource(t, "cfg.yaml", "- /:\n    dev:\n      schema: vnd,dev\n")
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		var perr *sterr.PropertyError
		require.True(t, errors.As(err, &perr))
		require.Contains(t, err.Error(), "'baud' is marked as required")
	})

	t.Run("missing on disabled node", func(t *testing.T) {
		src := softSource(t, "cfg.yaml", "- /:\n    dev:\n      schema: vnd,dev\n      enabled: false\n")
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
		require.NoError(t, tree.Process(context.Background()))
	})
}

func TestDefaultValues(t *testing.T) {
	cfg := softBinding(t, "cfg-binding.yaml", `
schema: vnd,cfg
properties:
  retries:
    type: int
    default: 3
  magic:
    type: uint8-array
    default: "0012ff"
  flags:
    type: uint8-array
    default: [1, 2, 255]
  mode:
    type: string
    default: fast
  verbose:
    type: boolean
    default: true
  extra:
    type: boolean
`)
	src := softSource(t, "cfg.yaml", "- /:\n    app:\n      schema: vnd,cfg\n")
	tree := processTree(t, settree.Options{}, newPartial(t, src, cfg))

	n, err := tree.NodeByPath("/app")
	require.NoError(t, err)

	assert.EqualValues(t, 3, n.Prop("retries").Val.Int)
	assert.Equal(t, []byte{0x00, 0x12, 0xff}, n.Prop("magic").Val.Bytes)
	assert.Equal(t, []byte{1, 2, 255}, n.Prop("flags").Val.Bytes)
	assert.Equal(t, "fast", n.Prop("mode").Val.Str)
	assert.True(t, n.Prop("verbose").Val.Bool)

	// An absent boolean without a default still materializes, as false.
	require.NotNil(t, n.Prop("extra"))
	assert.False(t, n.Prop("extra").Val.Bool)
}

func TestEnumAndConst(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  speed:
    type: string
    enum: [slow, fast]
  version:
    type: int
    const: 2
`)

	t.Run("valid values", func(t *testing.T) {
		src := softSource(t, "cfg.yaml",
			"- /:\n    dev:\n      schema: vnd,dev\n      speed: fast\n      version: 2\n")
		tree := processTree(t, settree.Options{}, newPartial(t, src, dev))
		n, err := tree.NodeByPath("/dev")
		require.NoError(t, err)
		require.Equal(t, "fast", n.Prop("speed").Val.Str)
	})

	t.Run("value outside enum", func(t *testing.T) {
		src := softSource(t, "cfg.yaml",
			"- /:\n    dev:\n      schema: vnd,dev\n      speed: turbo\n")
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "is not in 'enum' list")
	})

	t.Run("value differs from const", func(t *testing.T) {
		src := softSource(t, "cfg.yaml",
			"- /:\n    dev:\n      schema: vnd,dev\n      version: 3\n")
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "different from the 'const' value")
	})
}

func TestIntExpressions(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  clock:
    type: int
  lanes:
    type: array
`)

	t.Run("expression strings evaluate", func(t *testing.T) {
		src := softSource(t, "cfg.yaml", `
- /:
    dev:
      schema: vnd,dev
      clock: "(1|2)&0x7"
      lanes: [1, "2*3", 0x10]
`)
		tree := processTree(t, settree.Options{}, newPartial(t, src, dev))
		n, err := tree.NodeByPath("/dev")
		require.NoError(t, err)
		require.EqualValues(t, 3, n.Prop("clock").Val.Int)
		require.Equal(t, []int64{1, 6, 16}, n.Prop("lanes").Val.Ints)
	})

	t.Run("malformed expression", func(t *testing.T) {
		src := softSource(t, "cfg.yaml",
			"- /:\n    dev:\n      schema: vnd,dev\n      clock: \"abc\"\n")
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "integer expression")
	})

	t.Run("hex digits beyond 9 rejected", func(t *testing.T) {
		src := softSource(t, "cfg.yaml",
			"- /:\n    dev:\n      schema: vnd,dev\n      clock: \"0xff\"\n")
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(),
			"expected property 'clock' on /dev in dev.yaml to be an integer expression, not '0xff'")
	})
}

func TestUint8ArrayValues(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  data:
    type: uint8-array
`)

	cases := []struct {
		name string
		val  string
		want []byte
	}{
		{"from int", "0x1234", []byte{0x12, 0x34}},
		{"from zero", "0", []byte{0}},
		{"from hex string", `"00ff10"`, []byte{0x00, 0xff, 0x10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := softSource(t, "cfg.yaml",
				"- /:\n    dev:\n      schema: vnd,dev\n      data: "+tc.val+"\n")
			tree := processTree(t, settree.Options{}, newPartial(t, src, dev))
			n, err := tree.NodeByPath("/dev")
			require.NoError(t, err)
			require.Equal(t, tc.want, n.Prop("data").Val.Bytes)
		})
	}

	t.Run("invalid hex string", func(t *testing.T) {
		src := softSource(t, "cfg.yaml",
			"- /:\n    dev:\n      schema: vnd,dev\n      data: \"zz\"\n")
		tree := settree.New(settree.Options{})
		require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "not a valid hex number")
	})
}

func TestDeprecatedProperties(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  old-clock:
    type: int
    deprecated: true
`)
	doc := "- /:\n    dev:\n      schema: vnd,dev\n      old-clock: 5\n"

	t.Run("warns by default", func(t *testing.T) {
		src := softSource(t, "cfg.yaml", doc)
		tree := processTree(t, settree.Options{}, newPartial(t, src, dev))
		n, err := tree.NodeByPath("/dev")
		require.NoError(t, err)
		require.EqualValues(t, 5, n.Prop("old-clock").Val.Int)
	})

	t.Run("errors when configured", func(t *testing.T) {
		src := softSource(t, "cfg.yaml", doc)
		tree := settree.New(settree.Options{ErrOnDeprecated: true})
		require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
		err := tree.Process(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "marked as deprecated")
	})
}

func TestUndeclaredProperty(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  clock:
    type: int
`)
	src := softSource(t, "cfg.yaml",
		"- /:\n    dev:\n      schema: vnd,dev\n      mystery: 1\n")
	tree := settree.New(settree.Options{})
	require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
	err := tree.Process(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "'mystery' appears in /dev")
	require.Contains(t, err.Error(), "is not declared in 'properties:'")
}

func TestPointerLists(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  outputs:
    type: phandles
`)
	src := softSource(t, "cfg.yaml", `
- /:
    sink0: {}
    sink1: {}
    dev:
      schema: vnd,dev
      outputs: ["&sink0", "/sink1"]
`)
	tree := processTree(t, settree.Options{}, newPartial(t, src, dev))

	n, err := tree.NodeByPath("/dev")
	require.NoError(t, err)
	refs, err := n.Prop("outputs").RefNodes()
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, "/sink0", refs[0].Path())
	require.Equal(t, "/sink1", refs[1].Path())

	// The pointer targets became dependencies.
	require.Less(t, ordinalOf(t, tree, "/sink0"), ordinalOf(t, tree, "/dev"))
	require.Less(t, ordinalOf(t, tree, "/sink1"), ordinalOf(t, tree, "/dev"))
}

func TestPathProperties_NoDependencyEdge(t *testing.T) {
	holder := softBinding(t, "holder.yaml", `
schema: vnd,holder
properties:
  target:
    type: path
`)
	// The path points at the holder's own child. A child already depends
	// on its parent, so a path reference in the other direction must not
	// close a cycle: paths are resolved references, not ordering
	// dependencies.
	src := softSource(t, "cfg.yaml", `
- /:
    holder:
      schema: vnd,holder
      target: "/holder/sub"
      sub: {}
`)
	tree := processTree(t, settree.Options{}, newPartial(t, src, holder))

	n, err := tree.NodeByPath("/holder")
	require.NoError(t, err)
	ref, err := n.Prop("target").RefNode()
	require.NoError(t, err)
	require.Equal(t, "/holder/sub", ref.Path())

	require.Less(t, ordinalOf(t, tree, "/holder"), ordinalOf(t, tree, "/holder/sub"))
}

func TestDuplicateSchemaRegistration(t *testing.T) {
	a := softBinding(t, "a.yaml", "schema: vnd,dev\n")
	b := softBinding(t, "b.yaml", "schema: vnd,dev\n")
	src := softSource(t, "cfg.yaml", "- /:\n    dev:\n      schema: vnd,dev\n")

	_, err := settree.NewPartialTree(src, []*binding.Binding{a, b})
	require.Error(t, err)
	require.Contains(t, err.Error(), "both a.yaml and b.yaml have schema 'vnd,dev'")
}

func TestUnresolvablePointer(t *testing.T) {
	dev := softBinding(t, "dev.yaml", `
schema: vnd,dev
properties:
  supply:
    type: phandle
`)
	src := softSource(t, "cfg.yaml",
		"- /:\n    dev:\n      schema: vnd,dev\n      supply: \"&missing\"\n")
	tree := settree.New(settree.Options{})
	require.NoError(t, tree.AddSource(newPartial(t, src, dev)))
	err := tree.Process(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "could not resolve property 'supply'")
}
