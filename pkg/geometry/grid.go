package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// IndexMapper converts a discrete grid index to a physical point.
type IndexMapper interface {
	Dim() int
	IndexToPhysical(index []int) Point
}

// Grid describes the sampling geometry of an image: physical position of
// index 0, per-axis spacing and the direction cosines of the index axes.
type Grid struct {
	Origin    Point
	Spacing   []float64
	Direction *mat.Dense // nil means identity
	Size      []int      // optional, informational
}

// NewGrid creates a grid with identity direction.
func NewGrid(origin Point, spacing []float64) *Grid {
	return &Grid{Origin: origin.Clone(), Spacing: append([]float64(nil), spacing...)}
}

// UnitGrid returns the grid with zero origin, unit spacing and identity direction.
func UnitGrid(dim int) *Grid {
	spacing := make([]float64, dim)
	for i := range spacing {
		spacing[i] = 1
	}
	return NewGrid(make(Point, dim), spacing)
}

// Dim returns the grid dimension.
func (g *Grid) Dim() int {
	return len(g.Origin)
}

// Validate checks that origin, spacing and direction agree on the dimension
// and that spacing is strictly positive.
func (g *Grid) Validate() error {
	dim := len(g.Origin)
	if dim == 0 {
		return fmt.Errorf("grid has no origin")
	}
	if len(g.Spacing) != dim {
		return fmt.Errorf("grid spacing has %d components, origin has %d", len(g.Spacing), dim)
	}
	for i, s := range g.Spacing {
		if s <= 0 {
			return fmt.Errorf("grid spacing[%d] = %g must be positive", i, s)
		}
	}
	if g.Direction != nil {
		r, c := g.Direction.Dims()
		if r != dim || c != dim {
			return fmt.Errorf("grid direction is %dx%d, want %dx%d", r, c, dim, dim)
		}
		if mat.Det(g.Direction) == 0 {
			return fmt.Errorf("grid direction is singular")
		}
	}
	if g.Size != nil && len(g.Size) != dim {
		return fmt.Errorf("grid size has %d components, origin has %d", len(g.Size), dim)
	}
	return nil
}

// IndexToPhysical maps index to Origin + Direction * (Spacing .* index).
func (g *Grid) IndexToPhysical(index []int) Point {
	dim := g.Dim()
	scaled := make([]float64, dim)
	for i := 0; i < dim; i++ {
		scaled[i] = g.Spacing[i] * float64(index[i])
	}
	out := g.Origin.Clone()
	for i := 0; i < dim; i++ {
		if g.Direction == nil {
			out[i] += scaled[i]
			continue
		}
		for j := 0; j < dim; j++ {
			out[i] += g.Direction.At(i, j) * scaled[j]
		}
	}
	return out
}

// MaxNodes bounds the number of nodes Nodes enumerates.
const MaxNodes = 1 << 24

// Nodes returns the physical position of every grid node, the first index
// axis running fastest. The grid must have a size.
func (g *Grid) Nodes() ([]Point, error) {
	if g.Size == nil {
		return nil, fmt.Errorf("grid has no size")
	}
	n := 1
	for d, s := range g.Size {
		if s <= 0 {
			return nil, fmt.Errorf("grid size[%d] = %d must be positive", d, s)
		}
		if n > MaxNodes/s {
			return nil, fmt.Errorf("grid of size %v has more than %d nodes", g.Size, MaxNodes)
		}
		n *= s
	}

	points := make([]Point, 0, n)
	index := make([]int, len(g.Size))
	for i := 0; i < n; i++ {
		points = append(points, g.IndexToPhysical(index))
		for d := range index {
			index[d]++
			if index[d] < g.Size[d] {
				break
			}
			index[d] = 0
		}
	}
	return points, nil
}

// DirectionMatrix builds a dim x dim direction matrix from row-major values.
func DirectionMatrix(dim int, rowMajor []float64) *mat.Dense {
	return mat.NewDense(dim, dim, append([]float64(nil), rowMajor...))
}
