package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/settree/internal/graph"
)

// sccIndex maps each node to the position of its component in the result.
func sccIndex(t *testing.T, sccs [][]string) map[string]int {
	t.Helper()
	idx := map[string]int{}
	for i, scc := range sccs {
		for _, id := range scc {
			idx[id] = i
		}
	}
	return idx
}

func TestOrderedSCCs_DependenciesFirst(t *testing.T) {
	g := graph.New(nil)
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "d")
	g.AddEdge("c", "d")

	sccs, err := g.OrderedSCCs()
	require.NoError(t, err)
	require.Len(t, sccs, 4)

	idx := sccIndex(t, sccs)
	require.Less(t, idx["d"], idx["b"])
	require.Less(t, idx["d"], idx["c"])
	require.Less(t, idx["b"], idx["a"])
	require.Less(t, idx["c"], idx["a"])
}

func TestOrderedSCCs_Deterministic(t *testing.T) {
	build := func() *graph.Graph {
		g := graph.New(nil)
		g.SetRoot("r")
		for _, id := range []string{"x", "m", "a"} {
			g.AddEdge("r", id)
		}
		return g
	}

	first, err := build().OrderedSCCs()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := build().OrderedSCCs()
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestOrderedSCCs_CycleCollapsesToOneComponent(t *testing.T) {
	g := graph.New(nil)
	g.SetRoot("root")
	g.AddEdge("root", "a")
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")

	sccs, err := g.OrderedSCCs()
	require.NoError(t, err)
	require.Len(t, sccs, 2)
	require.Len(t, sccs[0], 3, "the cycle should come out as one component")
	require.ElementsMatch(t, []string{"a", "b", "c"}, sccs[0])
	require.Equal(t, []string{"root"}, sccs[1])
}

func TestOrderedSCCs_UnreachableCycleStillSurfaces(t *testing.T) {
	g := graph.New(nil)
	g.SetRoot("root")
	g.AddNode("root")
	// This cycle is not reachable from the root, yet still has to show up.
	g.AddEdge("p", "q")
	g.AddEdge("q", "p")

	sccs, err := g.OrderedSCCs()
	require.NoError(t, err)

	var cycle []string
	for _, scc := range sccs {
		if len(scc) > 1 {
			cycle = scc
		}
	}
	require.ElementsMatch(t, []string{"p", "q"}, cycle)
}

func TestOrderedSCCs_MemoizedUntilMutation(t *testing.T) {
	g := graph.New(nil)
	g.AddEdge("a", "b")

	before, err := g.OrderedSCCs()
	require.NoError(t, err)
	require.Len(t, before, 2)

	g.AddEdge("c", "a")
	after, err := g.OrderedSCCs()
	require.NoError(t, err)
	require.Len(t, after, 3)
}

func TestDependsOnRequiredBy(t *testing.T) {
	g := graph.New(nil)
	g.AddEdge("app", "lib")
	g.AddEdge("app", "base")
	g.AddEdge("lib", "base")

	require.Equal(t, []string{"base", "lib"}, g.DependsOn("app"))
	require.Equal(t, []string{"app", "lib"}, g.RequiredBy("base"))
	require.Empty(t, g.DependsOn("base"))
}

func TestOrderedSCCs_WholeGraphCycleHasNoRoots(t *testing.T) {
	g := graph.New(nil)
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	_, err := g.OrderedSCCs()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no roots")
}

func TestOrderedSCCs_CustomOrderKey(t *testing.T) {
	// Reverse the natural order via the key and check DependsOn follows it.
	rev := func(id string) string {
		b := []byte(id)
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
		return string(b)
	}
	g := graph.New(rev)
	g.AddEdge("top", "za")
	g.AddEdge("top", "ab")

	require.Equal(t, []string{"za", "ab"}, g.DependsOn("top"))
}

func TestFormatCycle(t *testing.T) {
	require.Equal(t, "a -> b -> c", graph.FormatCycle([]string{"a", "b", "c"}))
}
