// Package alignment estimates affine transforms from landmark
// correspondences. The result serves as the initial transform that spline
// fitting is composed with.
package alignment

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"splinekt/pkg/geometry"
)

// ComputeAffineLeastSquares computes the affine transform that maps src onto
// dst in the least-squares sense. It needs at least D+1 pairs in general
// position.
func ComputeAffineLeastSquares(src, dst []geometry.Point) (geometry.Affine, error) {
	dim, err := checkPairs(src, dst)
	if err != nil {
		return geometry.Affine{}, err
	}
	if geometry.AffineRank(src) < dim {
		return geometry.Affine{}, fmt.Errorf("landmarks are degenerate: affine rank %d in %d dimensions",
			geometry.AffineRank(src), dim)
	}
	n := len(src)

	// Row i*D+r: dst_i[r] = sum_k M[r][k]*src_i[k] + T[r]
	// Unknowns per output axis r: M[r][0..D-1], T[r]
	cols := dim * (dim + 1)
	A := mat.NewDense(n*dim, cols, nil)
	B := mat.NewVecDense(n*dim, nil)
	for i := 0; i < n; i++ {
		for r := 0; r < dim; r++ {
			row := i*dim + r
			base := r * (dim + 1)
			for k := 0; k < dim; k++ {
				A.Set(row, base+k, src[i][k])
			}
			A.Set(row, base+dim, 1)
			B.SetVec(row, dst[i][r])
		}
	}

	// Solve using QR decomposition
	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.Affine{}, fmt.Errorf("landmarks do not determine an affine transform: %w", err)
	}
	return fromParams(&params, dim), nil
}

// ComputeAffineFromPoints computes the affine transform from exactly D+1
// point pairs.
func ComputeAffineFromPoints(src, dst []geometry.Point) (geometry.Affine, error) {
	dim, err := checkPairs(src, dst)
	if err != nil {
		return geometry.Affine{}, err
	}
	if len(src) != dim+1 {
		return geometry.Affine{}, fmt.Errorf("need exactly %d points, got %d", dim+1, len(src))
	}
	if geometry.AffineRank(src) < dim {
		return geometry.Affine{}, fmt.Errorf("sample points are degenerate")
	}

	cols := dim * (dim + 1)
	A := mat.NewDense(cols, cols, nil)
	B := mat.NewVecDense(cols, nil)
	for i := range src {
		for r := 0; r < dim; r++ {
			row := i*dim + r
			base := r * (dim + 1)
			for k := 0; k < dim; k++ {
				A.Set(row, base+k, src[i][k])
			}
			A.Set(row, base+dim, 1)
			B.SetVec(row, dst[i][r])
		}
	}

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return geometry.Affine{}, err
	}
	return fromParams(&params, dim), nil
}

// ComputeAffineRANSAC fits an affine transform robustly: it repeatedly fits
// D+1 random pairs, keeps the candidate with the most pairs within
// threshold, and refines it by least squares over those inliers.
func ComputeAffineRANSAC(src, dst []geometry.Point, iterations int, threshold float64, rng *rand.Rand) (geometry.Affine, []int, error) {
	dim, err := checkPairs(src, dst)
	if err != nil {
		return geometry.Affine{}, nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	n := len(src)
	sampleSize := dim + 1
	var bestInliers []int
	var bestTransform geometry.Affine

	for iter := 0; iter < iterations; iter++ {
		indices := rng.Perm(n)[:sampleSize]

		sample := make([]geometry.Point, sampleSize)
		target := make([]geometry.Point, sampleSize)
		for i, idx := range indices {
			sample[i] = src[idx]
			target[i] = dst[idx]
		}

		transform, err := ComputeAffineFromPoints(sample, target)
		if err != nil {
			continue
		}

		var inliers []int
		for i := range src {
			if transform.TransformPoint(src[i]).Distance(dst[i]) < threshold {
				inliers = append(inliers, i)
			}
		}
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			bestTransform = transform
		}
	}

	if len(bestInliers) < sampleSize {
		return geometry.Affine{}, nil, fmt.Errorf("RANSAC failed to find enough inliers")
	}

	inlierSrc := make([]geometry.Point, len(bestInliers))
	inlierDst := make([]geometry.Point, len(bestInliers))
	for i, idx := range bestInliers {
		inlierSrc[i] = src[idx]
		inlierDst[i] = dst[idx]
	}
	final, err := ComputeAffineLeastSquares(inlierSrc, inlierDst)
	if err != nil {
		return bestTransform, bestInliers, nil
	}
	return final, bestInliers, nil
}

// CalculateAlignmentError returns the mean distance between dst and src
// mapped through t.
func CalculateAlignmentError(src, dst []geometry.Point, t geometry.PointTransformer) float64 {
	if len(src) != len(dst) || len(src) == 0 {
		return math.Inf(1)
	}
	var total float64
	for i := range src {
		total += t.TransformPoint(src[i]).Distance(dst[i])
	}
	return total / float64(len(src))
}

func checkPairs(src, dst []geometry.Point) (int, error) {
	if len(src) != len(dst) {
		return 0, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) == 0 {
		return 0, fmt.Errorf("no points")
	}
	dim := src[0].Dim()
	if len(src) < dim+1 {
		return 0, fmt.Errorf("need at least %d points, got %d", dim+1, len(src))
	}
	for i := range src {
		if src[i].Dim() != dim || dst[i].Dim() != dim {
			return 0, fmt.Errorf("pair %d is not %d-dimensional", i, dim)
		}
	}
	return dim, nil
}

func fromParams(params *mat.VecDense, dim int) geometry.Affine {
	a := geometry.Identity(dim)
	for r := 0; r < dim; r++ {
		base := r * (dim + 1)
		for k := 0; k < dim; k++ {
			a.M.Set(r, k, params.AtVec(base+k))
		}
		a.T[r] = params.AtVec(base + dim)
	}
	return a
}
