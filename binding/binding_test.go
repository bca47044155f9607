package binding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/settree/binding"
)

func resolve(t *testing.T, doc string, res binding.Resolver) *binding.Binding {
	t.Helper()
	b, err := binding.Resolve([]byte(doc), "test.yaml", res, binding.Hardware, binding.ResolveOptions{})
	require.NoError(t, err)
	return b
}

func specNames(b *binding.Binding) []string {
	names := make([]string, 0, len(b.Specs))
	for _, s := range b.Specs {
		names = append(names, s.Name)
	}
	return names
}

func TestResolve_Basic(t *testing.T) {
	b := resolve(t, `
compatible: vnd,device
description: A test device.
properties:
  clock-frequency:
    type: int
    required: true
  labels:
    type: string-array
`, nil)

	require.Equal(t, "vnd,device", b.Schema)
	require.Equal(t, "A test device.", b.Description)
	require.Equal(t, []string{"clock-frequency", "labels"}, specNames(b))

	spec := b.Spec("clock-frequency")
	require.NotNil(t, spec)
	assert.Equal(t, binding.Int, spec.Type)
	assert.True(t, spec.Required)

	require.Nil(t, b.Spec("no-such-prop"))
}

func TestResolve_RequireSchema(t *testing.T) {
	_, err := binding.Resolve([]byte("description: d\n"), "test.yaml", nil,
		binding.Hardware, binding.ResolveOptions{RequireSchema: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing 'compatible'")
}

func TestResolve_IncludeMerge(t *testing.T) {
	res := binding.MapResolver{
		"base.yaml": `
properties:
  reg:
    type: array
  status:
    type: string
    required: false
`,
	}
	b := resolve(t, `
compatible: vnd,device
include: base.yaml
properties:
  status:
    required: true
`, res)

	// Included entries come first, the including file's own last.
	require.Equal(t, []string{"reg", "status"}, specNames(b))
	require.True(t, b.Spec("status").Required, "required flags OR together")
	require.Equal(t, binding.String, b.Spec("status").Type)
}

func TestResolve_IncludeCannotDowngradeRequired(t *testing.T) {
	res := binding.MapResolver{
		"base.yaml": `
properties:
  status:
    type: string
    required: true
`,
	}
	_, err := binding.Resolve([]byte(`
compatible: vnd,device
include: base.yaml
properties:
  status:
    required: false
`), "test.yaml", res, binding.Hardware, binding.ResolveOptions{})
	require.Error(t, err)
}

func TestResolve_SiblingIncludesORRequired(t *testing.T) {
	res := binding.MapResolver{
		"a.yaml": "properties: {status: {type: string, required: true}}\n",
		"b.yaml": "properties: {status: {type: string, required: false}}\n",
	}
	b := resolve(t, `
compatible: vnd,device
include: [a.yaml, b.yaml]
`, res)
	require.True(t, b.Spec("status").Required)
}

func TestResolve_IncludeConflictingValue(t *testing.T) {
	res := binding.MapResolver{
		"base.yaml": "properties: {speed: {type: int}}\n",
	}
	_, err := binding.Resolve([]byte(`
compatible: vnd,device
include: base.yaml
properties:
  speed:
    type: string
`), "test.yaml", res, binding.Hardware, binding.ResolveOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "overwritten")
}

func TestResolve_Allowlist(t *testing.T) {
	res := binding.MapResolver{
		"base.yaml": `
properties:
  keep-me:
    type: int
  drop-me:
    type: string
`,
	}
	b := resolve(t, `
compatible: vnd,device
include:
  - name: base.yaml
    property-allowlist: [keep-me]
`, res)

	require.Equal(t, []string{"keep-me"}, specNames(b))
}

func TestResolve_AllowlistPromotesPattern(t *testing.T) {
	res := binding.MapResolver{
		"base.yaml": `
properties:
  ".*-supply":
    type: phandle
`,
	}
	b := resolve(t, `
compatible: vnd,device
include:
  - name: base.yaml
    property-allowlist: [vdd-supply]
`, res)

	// The pattern itself is dropped; the allowed name it covered becomes
	// an exact entry.
	require.Equal(t, []string{"vdd-supply"}, specNames(b))
	require.True(t, b.Spec("vdd-supply").MatchName("vdd-supply"))
	require.Nil(t, b.Spec("vcc-supply"))
}

func TestResolve_BlocklistNarrowsPattern(t *testing.T) {
	res := binding.MapResolver{
		"base.yaml": `
properties:
  exact-prop:
    type: int
  ".*-gpios":
    type: phandle-array
`,
	}
	b := resolve(t, `
compatible: vnd,device
include:
  - name: base.yaml
    property-blocklist: [exact-prop, reset-gpios]
`, res)

	require.Nil(t, b.Spec("exact-prop"))
	require.Nil(t, b.Spec("reset-gpios"), "blocked name must no longer match the pattern")
	require.NotNil(t, b.Spec("enable-gpios"))
}

func TestResolve_BothFiltersRejected(t *testing.T) {
	_, err := binding.Resolve([]byte(`
compatible: vnd,device
include:
  - name: base.yaml
    property-allowlist: [a]
    property-blocklist: [b]
`), "test.yaml", binding.MapResolver{}, binding.Hardware, binding.ResolveOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(),
		"should not specify both 'property-allowlist:' and 'property-blocklist:'")
}

func TestResolve_ChildBinding(t *testing.T) {
	b := resolve(t, `
compatible: vnd,parent
child-binding:
  description: A channel.
  properties:
    channel-id:
      type: int
      required: true
  child-binding:
    properties:
      gain:
        type: int
`, nil)

	require.Len(t, b.Children, 1)
	entry := b.Children[0]
	require.True(t, entry.MatchName("anything"))
	require.Len(t, entry.Bindings, 1)

	child := entry.Bindings[0]
	require.True(t, child.IsChild)
	require.NotNil(t, child.Spec("channel-id"))

	require.Len(t, child.Children, 1)
	grandchild := child.Children[0].Bindings[0]
	require.NotNil(t, grandchild.Spec("gain"))
}

func TestResolve_ChildBindingFilterRecurses(t *testing.T) {
	res := binding.MapResolver{
		"base.yaml": `
child-binding:
  properties:
    keep:
      type: int
    drop:
      type: int
`,
	}
	b := resolve(t, `
compatible: vnd,parent
include:
  - name: base.yaml
    child-binding:
      property-allowlist: [keep]
`, res)

	require.Len(t, b.Children, 1)
	child := b.Children[0].Bindings[0]
	require.NotNil(t, child.Spec("keep"))
	require.Nil(t, child.Spec("drop"))
}

func TestResolve_BusKeys(t *testing.T) {
	b := resolve(t, `
compatible: vnd,gpio-controller
description: d
bus: [i3c, i2c]
gpio-cells: [pin, flags]
properties:
  "#gpio-cells":
    type: int
    const: 2
`, nil)

	require.Equal(t, []string{"i3c", "i2c"}, b.Buses)
	require.True(t, b.HasBus("i2c"))
	require.False(t, b.HasBus("spi"))
	require.Equal(t, map[string][]string{"gpio": {"pin", "flags"}}, b.SpecifierCells)
}

func TestResolve_OnBusVariant(t *testing.T) {
	b := resolve(t, `
compatible: vnd,sensor
on-bus: i2c
`, nil)
	require.Equal(t, "i2c", b.OnBus)
	require.Equal(t, "i2c", b.Variant())
}

func TestResolve_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			"legacy title key",
			"compatible: c\ntitle: t\n",
			"legacy 'title:'",
		},
		{
			"legacy sub-node key",
			"compatible: c\nsub-node: {}\n",
			"legacy 'sub-node:'",
		},
		{
			"unknown top level key",
			"compatible: c\nbogus: 1\n",
			"unknown key 'bogus'",
		},
		{
			"unknown property type",
			"compatible: c\nproperties: {p: {type: whatever}}\n",
			"unknown type 'whatever'",
		},
		{
			"missing property type",
			"compatible: c\nproperties: {p: {required: true}}\n",
			"missing 'type:'",
		},
		{
			"required and deprecated together",
			"compatible: c\nproperties: {p: {type: int, required: true, deprecated: true}}\n",
			"should not have both 'deprecated' and 'required'",
		},
		{
			"default on boolean",
			"compatible: c\nproperties: {p: {type: boolean, default: true}}\n",
			"can't be combined with 'type: boolean'",
		},
		{
			"indexed reference name without s",
			"compatible: c\nproperties: {foo-gpio: {type: phandle-array}}\n",
			"no 'specifier-space' was provided",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := binding.Resolve([]byte(tc.doc), "test.yaml", nil,
				binding.Hardware, binding.ResolveOptions{})
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestResolve_SpecifierSpaceAllowsAnyName(t *testing.T) {
	b := resolve(t, `
compatible: c
properties:
  pwm-output:
    type: phandle-array
    specifier-space: pwm
`, nil)
	require.Equal(t, "pwm", b.Spec("pwm-output").SpecifierSpace)
}

func TestResolve_SoftwareDialect(t *testing.T) {
	t.Run("boolean may default", func(t *testing.T) {
		b, err := binding.Resolve([]byte(`
schema: app-config
properties:
  verbose:
    type: boolean
    default: false
`), "test.yaml", nil, binding.Software, binding.ResolveOptions{})
		require.NoError(t, err)
		require.Equal(t, "app-config", b.Schema)
		require.Equal(t, false, b.Spec("verbose").Default)
	})

	t.Run("indexed references do not exist", func(t *testing.T) {
		_, err := binding.Resolve([]byte(`
schema: app-config
properties:
  leds:
    type: phandle-array
`), "test.yaml", nil, binding.Software, binding.ResolveOptions{})
		require.Error(t, err)
	})
}

func TestResolve_MissingInclude(t *testing.T) {
	_, err := binding.Resolve([]byte("compatible: c\ninclude: gone.yaml\n"),
		"test.yaml", binding.MapResolver{}, binding.Hardware, binding.ResolveOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "gone.yaml")
}

func TestPropertySpec_EnumTokens(t *testing.T) {
	b := resolve(t, `
compatible: c
properties:
  mode:
    type: string
    enum: [fast-read, slow-read]
  clash:
    type: string
    enum: [a-b, a.b]
`, nil)

	mode := b.Spec("mode")
	require.Equal(t, []string{"fast_read", "slow_read"}, mode.EnumTokens())
	require.True(t, mode.EnumTokenizable())
	require.True(t, mode.EnumUpperTokenizable())

	clash := b.Spec("clash")
	require.False(t, clash.EnumTokenizable(), "tokens collide after substitution")
}

func TestPropertySpec_MatchNamePrefix(t *testing.T) {
	spec, err := binding.NewPropertySpec(".*-gpios", "test.yaml", binding.PHandleArray)
	require.NoError(t, err)
	require.True(t, spec.MatchName("reset-gpios"))
	require.True(t, spec.MatchNamePrefix("reset-gpios-extra"))
	require.False(t, spec.MatchName("reset-gpio"))
}
