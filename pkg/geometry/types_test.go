package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"pgregory.net/rapid"
)

func TestPointArithmetic(t *testing.T) {
	a := NewPoint(1, 2, 3)
	b := NewPoint(4, 6, 3)

	require.Equal(t, 3, a.Dim())
	require.Equal(t, 5.0, a.Distance(b))
	require.Equal(t, Point{5, 8, 6}, a.Add(b))
	require.Equal(t, Point{-3, -4, 0}, a.Sub(b))
	require.Equal(t, Point{2, 4, 6}, a.Scale(2))
	require.Equal(t, "[1 2 3]", a.String())

	c := a.Clone()
	c[0] = 99
	require.Equal(t, 1.0, a[0])
}

func rotation2D(radians float64) Affine {
	cos, sin := math.Cos(radians), math.Sin(radians)
	return Affine{M: mat.NewDense(2, 2, []float64{cos, -sin, sin, cos}), T: []float64{0, 0}}
}

func TestAffineBasics(t *testing.T) {
	p := NewPoint(1, 2)
	require.Equal(t, p, Identity(2).TransformPoint(p))
	require.Equal(t, Point{4, -1}, Translation(3, -3).TransformPoint(p))
	require.Equal(t, Point{2, 6}, Scaling(2, 3).TransformPoint(p))

	r := rotation2D(math.Pi / 2).TransformPoint(NewPoint(1, 0))
	require.InDelta(t, 0, r[0], 1e-12)
	require.InDelta(t, 1, r[1], 1e-12)
}

func TestAffineComposeOrder(t *testing.T) {
	// Scale first, then translate.
	a := Translation(1, 1).Compose(Scaling(2, 2))
	require.Equal(t, Point{3, 5}, a.TransformPoint(NewPoint(1, 2)))
}

func TestAffineInverse(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		angle := rapid.Float64Range(-math.Pi, math.Pi).Draw(rt, "angle")
		sx := rapid.Float64Range(0.1, 10).Draw(rt, "sx")
		sy := rapid.Float64Range(0.1, 10).Draw(rt, "sy")
		tx := rapid.Float64Range(-100, 100).Draw(rt, "tx")
		a := Translation(tx, 2).Compose(rotation2D(angle).Compose(Scaling(sx, sy)))

		inv, ok := a.Inverse()
		require.True(rt, ok)
		p := NewPoint(rapid.Float64Range(-50, 50).Draw(rt, "x"), rapid.Float64Range(-50, 50).Draw(rt, "y"))
		back := inv.TransformPoint(a.TransformPoint(p))
		require.InDelta(rt, p[0], back[0], 1e-8)
		require.InDelta(rt, p[1], back[1], 1e-8)
	})

	_, ok := Scaling(1, 0).Inverse()
	require.False(t, ok)
}

func TestCentroidAndBoundingBox(t *testing.T) {
	pts := []Point{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	require.Equal(t, Point{0.5, 0.5}, Centroid(pts))

	lo, hi := BoundingBox(append(pts, Point{-2, 3}))
	require.Equal(t, Point{-2, 0}, lo)
	require.Equal(t, Point{1, 3}, hi)

	require.Nil(t, Centroid(nil))
}

func TestAffineRank(t *testing.T) {
	cases := []struct {
		name   string
		points []Point
		want   int
	}{
		{"single", []Point{{1, 2, 3}}, 0},
		{"coincident", []Point{{1, 1, 1}, {1, 1, 1}}, 0},
		{"colinear", []Point{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}}, 1},
		{"coplanar", []Point{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}}, 2},
		{"general", []Point{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, AffineRank(tc.points))
		})
	}
}
