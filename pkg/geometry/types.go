// Package geometry provides the N-dimensional point and affine types shared by
// the landmark loader, the kernel transform and the registration driver.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a point with one coordinate per spatial dimension.
type Point []float64

// NewPoint creates a new Point from its coordinates.
func NewPoint(coords ...float64) Point {
	p := make(Point, len(coords))
	copy(p, coords)
	return p
}

// Dim returns the number of coordinates.
func (p Point) Dim() int {
	return len(p)
}

// Clone returns an independent copy of the point.
func (p Point) Clone() Point {
	return NewPoint(p...)
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	var sum float64
	for i := range p {
		d := p[i] - other[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Add returns the sum of two points.
func (p Point) Add(other Point) Point {
	out := make(Point, len(p))
	for i := range p {
		out[i] = p[i] + other[i]
	}
	return out
}

// Sub returns the difference of two points.
func (p Point) Sub(other Point) Point {
	out := make(Point, len(p))
	for i := range p {
		out[i] = p[i] - other[i]
	}
	return out
}

// Scale returns the point scaled by a factor.
func (p Point) Scale(factor float64) Point {
	out := make(Point, len(p))
	for i := range p {
		out[i] = p[i] * factor
	}
	return out
}

// String formats the point as space separated coordinates.
func (p Point) String() string {
	s := "["
	for i, v := range p {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%g", v)
	}
	return s + "]"
}

// PointTransformer maps a point from one physical space to another.
type PointTransformer interface {
	TransformPoint(p Point) Point
}

// Affine represents y = M*x + T in D dimensions.
type Affine struct {
	M *mat.Dense
	T []float64
}

// Identity returns the identity transform.
func Identity(dim int) Affine {
	m := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		m.Set(i, i, 1)
	}
	return Affine{M: m, T: make([]float64, dim)}
}

// Translation returns a translation transform.
func Translation(t ...float64) Affine {
	a := Identity(len(t))
	copy(a.T, t)
	return a
}

// Scaling returns a per-axis scaling transform.
func Scaling(s ...float64) Affine {
	a := Identity(len(s))
	for i, v := range s {
		a.M.Set(i, i, v)
	}
	return a
}

// Dim returns the dimension the transform operates in.
func (a Affine) Dim() int {
	return len(a.T)
}

// TransformPoint applies the transform to a point.
func (a Affine) TransformPoint(p Point) Point {
	dim := a.Dim()
	out := make(Point, dim)
	for i := 0; i < dim; i++ {
		v := a.T[i]
		for j := 0; j < dim; j++ {
			v += a.M.At(i, j) * p[j]
		}
		out[i] = v
	}
	return out
}

// Compose returns this transform composed with another (this * other),
// i.e. other is applied first.
func (a Affine) Compose(other Affine) Affine {
	dim := a.Dim()
	var m mat.Dense
	m.Mul(a.M, other.M)
	t := make([]float64, dim)
	for i := 0; i < dim; i++ {
		v := a.T[i]
		for j := 0; j < dim; j++ {
			v += a.M.At(i, j) * other.T[j]
		}
		t[i] = v
	}
	return Affine{M: &m, T: t}
}

// Inverse returns the inverse transform, if it exists.
func (a Affine) Inverse() (Affine, bool) {
	if math.Abs(mat.Det(a.M)) < 1e-10 {
		return Affine{}, false
	}
	var inv mat.Dense
	if err := inv.Inverse(a.M); err != nil {
		return Affine{}, false
	}
	dim := a.Dim()
	t := make([]float64, dim)
	for i := 0; i < dim; i++ {
		var v float64
		for j := 0; j < dim; j++ {
			v -= inv.At(i, j) * a.T[j]
		}
		t[i] = v
	}
	return Affine{M: &inv, T: t}, true
}

// Centroid computes the centroid (average position) of a set of points.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return nil
	}
	sum := make(Point, len(points[0]))
	for _, p := range points {
		for i := range sum {
			sum[i] += p[i]
		}
	}
	return sum.Scale(1 / float64(len(points)))
}

// BoundingBox returns the per-axis minimum and maximum of a set of points.
func BoundingBox(points []Point) (lo, hi Point) {
	if len(points) == 0 {
		return nil, nil
	}
	lo = points[0].Clone()
	hi = points[0].Clone()
	for _, p := range points[1:] {
		for i, v := range p {
			lo[i] = math.Min(lo[i], v)
			hi[i] = math.Max(hi[i], v)
		}
	}
	return lo, hi
}

// AffineRank returns the dimension of the affine hull of the points: 0 for
// coincident points, 1 for colinear points, 2 for coplanar points and so on.
func AffineRank(points []Point) int {
	if len(points) < 2 {
		return 0
	}
	c := Centroid(points)
	dim := len(c)
	centered := mat.NewDense(len(points), dim, nil)
	for i, p := range points {
		for j := 0; j < dim; j++ {
			centered.Set(i, j, p[j]-c[j])
		}
	}
	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDNone) {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return 0
	}
	rank := 0
	for _, v := range values {
		if v > values[0]*1e-9 {
			rank++
		}
	}
	return rank
}
