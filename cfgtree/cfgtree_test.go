package cfgtree_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/settree/cfgtree"
	"github.com/vk/settree/rawtree"
)

func load(t *testing.T, doc string) *cfgtree.Source {
	t.Helper()
	src, err := cfgtree.LoadYAML([]byte(doc), "test.yaml")
	require.NoError(t, err)
	return src
}

func rawNode(t *testing.T, src *cfgtree.Source, path string) *rawtree.Node {
	t.Helper()
	n := src.Raw().Node(path)
	require.NotNil(t, n, "no node at %s", path)
	return n
}

func TestLoadYAML_AbsoluteMounts(t *testing.T) {
	src := load(t, `
- /app/server:
    port: 8080
    host: local
    debug: true
    tags: [a, b]
`)

	server := rawNode(t, src, "/app/server")

	port, ok := server.Prop("port")
	require.True(t, ok)
	require.Equal(t, rawtree.Int, port.Kind)
	require.Equal(t, int64(8080), port.Int)

	host, _ := server.Prop("host")
	require.Equal(t, "local", host.Str)

	debug, _ := server.Prop("debug")
	require.Equal(t, rawtree.Bool, debug.Kind)
	require.True(t, debug.Bool)

	tags, _ := server.Prop("tags")
	require.Equal(t, rawtree.List, tags.Kind)
	require.Len(t, tags.List, 2)
	require.Equal(t, "a", tags.List[0].Str)
}

func TestLoadYAML_LaterOverlayWins(t *testing.T) {
	src := load(t, `
- /app:
    port: 80
    host: local
- /app:
    port: 8080
    extra: 1
`)

	app := rawNode(t, src, "/app")
	port, _ := app.Prop("port")
	require.Equal(t, int64(8080), port.Int)
	host, _ := app.Prop("host")
	require.Equal(t, "local", host.Str)
	extra, ok := app.Prop("extra")
	require.True(t, ok)
	require.Equal(t, int64(1), extra.Int)
}

func TestLoadYAML_LabelMount(t *testing.T) {
	src := load(t, `
- /soc/uart:
    baud: 9600
- uart:
    baud: 115200
    parity: none
`)

	uart := rawNode(t, src, "/soc/uart")
	baud, _ := uart.Prop("baud")
	require.Equal(t, int64(115200), baud.Int)
	parity, _ := uart.Prop("parity")
	require.Equal(t, "none", parity.Str)
}

func TestLoadYAML_ExtensionKeysSkipped(t *testing.T) {
	src := load(t, `
- x-snippet:
    port: 80
  /app:
    port: 8080
`)

	require.Nil(t, src.Raw().Node("/x-snippet"))
	app := rawNode(t, src, "/app")
	port, _ := app.Prop("port")
	require.Equal(t, int64(8080), port.Int)
}

func TestLoadYAML_EmptyDocument(t *testing.T) {
	src := load(t, "")
	require.Empty(t, src.Raw().Root.Children())
}

func TestLoadYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			"top level is not a list",
			"app:\n  port: 80\n",
			"Expected a list of configuration overlays",
		},
		{
			"overlay is not a mapping",
			"- 42\n",
			"should be a dictionary of mount points",
		},
		{
			"mount value is not a mapping",
			"- /app: 3\n",
			"Overlay node at mount point /app in test.yaml should be a mapping.",
		},
		{
			"relative path mount",
			"- app/server:\n    port: 80\n",
			"should either be an absolute path (ie. start with '/') or a label not containing any slashes.",
		},
		{
			"label not found",
			"- uart:\n    baud: 9600\n",
			"Target label uart for overlay in test.yaml not found in configuration.",
		},
		{
			"label not unique",
			"- /a:\n    uart:\n      uart:\n        nested: 1\n- uart:\n    x: 1\n",
			"The label uart is not unique in the target.",
		},
		{
			"unsupported value",
			"- /app:\n    rate: 1.5\n",
			"property 'rate' on /app in test.yaml",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cfgtree.LoadYAML([]byte(tc.doc), "test.yaml")
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSource_Enabled(t *testing.T) {
	src := load(t, `
- /on:
    enabled: true
  /off:
    enabled: false
  /implicit:
    port: 80
  /bad:
    enabled: yes please
`)

	check := func(path string, want bool) {
		t.Helper()
		got, err := src.Enabled(rawNode(t, src, path))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	check("/on", true)
	check("/off", false)
	check("/implicit", true)

	_, err := src.Enabled(rawNode(t, src, "/bad"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected property 'enabled' on /bad in test.yaml to be a boolean")
}

func TestSource_Schemas(t *testing.T) {
	src := load(t, `
- /single:
    schema: vnd,dev
  /multi:
    schema: ["vnd,dev-a", "vnd,dev-b"]
  /none:
    port: 80
  /bad:
    schema: [1]
`)

	single, err := src.Schemas(rawNode(t, src, "/single"))
	require.NoError(t, err)
	require.Equal(t, []string{"vnd,dev"}, single)

	multi, err := src.Schemas(rawNode(t, src, "/multi"))
	require.NoError(t, err)
	require.Equal(t, []string{"vnd,dev-a", "vnd,dev-b"}, multi)

	none, err := src.Schemas(rawNode(t, src, "/none"))
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = src.Schemas(rawNode(t, src, "/bad"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid 'schema' property in config node /bad")
}

func TestSource_LabelCandidates(t *testing.T) {
	src := load(t, `
- /soc/uart:
    baud: 9600
`)

	require.Nil(t, src.LabelCandidates(src.Raw().Root))
	require.Equal(t, []string{"uart"}, src.LabelCandidates(rawNode(t, src, "/soc/uart")))
}
