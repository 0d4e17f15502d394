package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defs(pairs ...[]string) []Definition {
	out := make([]Definition, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Definition{Path: p[0], DependsOn: p[1:]})
	}
	return out
}

func TestNewGraph_TopologicalOrderIsDeterministic(t *testing.T) {
	g, err := NewGraph(defs(
		[]string{":package", ":compile", ":resources"},
		[]string{":resources"},
		[]string{":compile"},
		[]string{":check", ":package"},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{":compile", ":resources", ":package", ":check"}, g.TopologicalOrder())

	n, ok := g.Node(":package")
	require.True(t, ok)
	deps := n.Dependencies()
	require.Len(t, deps, 2)
	assert.Equal(t, ":compile", deps[0].Path())
}

func TestNewGraph_Rejects(t *testing.T) {
	cases := map[string]struct {
		defs []Definition
		kind error
	}{
		"empty":          {nil, ErrInvalidGraph},
		"missing path":   {[]Definition{{Path: ""}}, ErrInvalidGraph},
		"duplicate":      {defs([]string{":a"}, []string{":a"}), ErrInvalidGraph},
		"unknown dep":    {defs([]string{":a", ":nope"}), ErrInvalidGraph},
		"self":           {defs([]string{":a", ":a"}), ErrInvalidGraph},
		"duplicate dep":  {defs([]string{":a", ":b", ":b"}, []string{":b"}), ErrInvalidGraph},
		"direct cycle":   {defs([]string{":a", ":b"}, []string{":b", ":a"}), ErrCycleFound},
		"indirect cycle": {defs([]string{":a", ":c"}, []string{":b", ":a"}, []string{":c", ":b"}), ErrCycleFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewGraph(tc.defs)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			var ge *GraphError
			assert.ErrorAs(t, err, &ge)
		})
	}
}

func TestNewGraph_CycleMessageNamesTasks(t *testing.T) {
	_, err := NewGraph(defs([]string{":a", ":b"}, []string{":b", ":a"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":a")
	assert.Contains(t, err.Error(), ":b")
}

func TestGraph_Select(t *testing.T) {
	g, err := NewGraph(defs(
		[]string{":a"},
		[]string{":b", ":a"},
		[]string{":c"},
	))
	require.NoError(t, err)

	sub, err := g.Select(":b")
	require.NoError(t, err)
	assert.Equal(t, []string{":a", ":b"}, sub.TopologicalOrder())

	all, err := g.Select()
	require.NoError(t, err)
	assert.Same(t, g, all)

	_, err = g.Select(":zzz")
	assert.ErrorIs(t, err, ErrInvalidGraph)
}
