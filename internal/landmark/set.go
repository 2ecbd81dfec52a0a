// Package landmark loads the point sets that drive a spline kernel
// transform and converts them to physical coordinates.
package landmark

import (
	"fmt"

	"splinekt/internal/apperr"
	"splinekt/pkg/geometry"
)

// Set is an ordered collection of landmarks sharing one dimension.
type Set struct {
	Dim    int
	Points []geometry.Point
}

// NewSet builds a set from points, checking that they all have dimension dim.
func NewSet(dim int, points ...geometry.Point) (Set, error) {
	s := Set{Dim: dim, Points: make([]geometry.Point, 0, len(points))}
	for i, p := range points {
		if p.Dim() != dim {
			return Set{}, apperr.New("landmark.NewSet", apperr.KindDimensionMismatch, p.String(),
				"point %d has %d coordinates, want %d", i, p.Dim(), dim)
		}
		s.Points = append(s.Points, p.Clone())
	}
	return s, nil
}

// MustSet is NewSet for literal point lists known to be consistent.
func MustSet(dim int, points ...geometry.Point) Set {
	s, err := NewSet(dim, points...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of landmarks.
func (s Set) Len() int {
	return len(s.Points)
}

// Flatten returns the coordinates as x0 y0 [z0] x1 y1 [z1] ...
func (s Set) Flatten() []float64 {
	out := make([]float64, 0, len(s.Points)*s.Dim)
	for _, p := range s.Points {
		out = append(out, p...)
	}
	return out
}

// FromFlat is the inverse of Flatten.
func FromFlat(dim int, values []float64) (Set, error) {
	if dim <= 0 {
		return Set{}, fmt.Errorf("invalid dimension %d", dim)
	}
	if len(values)%dim != 0 {
		return Set{}, apperr.New("landmark.FromFlat", apperr.KindDimensionMismatch,
			fmt.Sprint(len(values)), "%d values is not a multiple of dimension %d", len(values), dim)
	}
	s := Set{Dim: dim, Points: make([]geometry.Point, 0, len(values)/dim)}
	for i := 0; i < len(values); i += dim {
		s.Points = append(s.Points, geometry.NewPoint(values[i:i+dim]...))
	}
	return s, nil
}

// Transform returns a new set with every point passed through t.
func (s Set) Transform(t geometry.PointTransformer) Set {
	out := Set{Dim: s.Dim, Points: make([]geometry.Point, len(s.Points))}
	for i, p := range s.Points {
		out.Points[i] = t.TransformPoint(p)
	}
	return out
}
