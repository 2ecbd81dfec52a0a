package geometry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"pgregory.net/rapid"
)

func TestIndexToPhysical(t *testing.T) {
	g := NewGrid(Point{10, -5}, []float64{0.5, 2})
	require.NoError(t, g.Validate())
	require.Equal(t, Point{11, 1}, g.IndexToPhysical([]int{2, 3}))

	rapid.Check(t, func(rt *rapid.T) {
		i := rapid.IntRange(-1000, 1000).Draw(rt, "i")
		j := rapid.IntRange(-1000, 1000).Draw(rt, "j")
		p := g.IndexToPhysical([]int{i, j})
		require.Equal(rt, 10+float64(i)*0.5, p[0])
		require.Equal(rt, -5+float64(j)*2, p[1])
	})
}

func TestIndexToPhysicalWithDirection(t *testing.T) {
	g := NewGrid(Point{1, 1}, []float64{2, 3})
	// Index axes swapped.
	g.Direction = mat.NewDense(2, 2, []float64{0, 1, 1, 0})
	require.NoError(t, g.Validate())
	require.Equal(t, Point{1 + 3, 1 + 2}, g.IndexToPhysical([]int{1, 1}))
}

func TestNodes(t *testing.T) {
	g := NewGrid(Point{10, -5}, []float64{0.5, 2})
	_, err := g.Nodes()
	require.Error(t, err)

	g.Size = []int{3, 2}
	nodes, err := g.Nodes()
	require.NoError(t, err)
	require.Equal(t, []Point{
		{10, -5}, {10.5, -5}, {11, -5},
		{10, -3}, {10.5, -3}, {11, -3},
	}, nodes)

	g.Size = []int{3, 0}
	_, err = g.Nodes()
	require.Error(t, err)

	g.Size = []int{MaxNodes, 2}
	_, err = g.Nodes()
	require.ErrorContains(t, err, "more than")
}

func TestNodesCoverGrid(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.SliceOfN(rapid.IntRange(1, 6), 3, 3).Draw(rt, "size")
		g := UnitGrid(3)
		g.Size = size
		nodes, err := g.Nodes()
		require.NoError(rt, err)
		require.Len(rt, nodes, size[0]*size[1]*size[2])
		require.Equal(rt, Point{0, 0, 0}, nodes[0])
		require.Equal(rt, Point{float64(size[0] - 1), float64(size[1] - 1), float64(size[2] - 1)}, nodes[len(nodes)-1])
	})
}

func TestGridValidate(t *testing.T) {
	require.NoError(t, UnitGrid(3).Validate())

	cases := map[string]*Grid{
		"no origin":         {},
		"short spacing":     {Origin: Point{0, 0}, Spacing: []float64{1}},
		"zero spacing":      {Origin: Point{0, 0}, Spacing: []float64{1, 0}},
		"wrong direction":   {Origin: Point{0, 0}, Spacing: []float64{1, 1}, Direction: mat.NewDense(3, 3, nil)},
		"singular":          {Origin: Point{0, 0}, Spacing: []float64{1, 1}, Direction: mat.NewDense(2, 2, []float64{1, 1, 1, 1})},
		"size disagreement": {Origin: Point{0, 0}, Spacing: []float64{1, 1}, Size: []int{4}},
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, g.Validate())
		})
	}
}
