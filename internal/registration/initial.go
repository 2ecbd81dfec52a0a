package registration

import (
	"math/rand"

	"splinekt/internal/alignment"
	"splinekt/internal/apperr"
	"splinekt/internal/landmark"
	"splinekt/pkg/geometry"
)

// Initial transform estimators.
const (
	InitialNone   = "none"
	InitialAffine = "affine"
	InitialRANSAC = "ransac"
)

const (
	ransacIterations = 2000
	ransacSeed       = 1
)

// EstimateInitialAffine fits the affine transform carrying the fixed
// landmarks onto the moving ones, by least squares or, with InitialRANSAC,
// robustly with inlier threshold.
func EstimateInitialAffine(fixed, moving landmark.Set, method string, threshold float64) (geometry.Affine, error) {
	const op = "registration.EstimateInitialAffine"
	if fixed.Len() != moving.Len() {
		return geometry.Affine{}, apperr.New(op, apperr.KindDimensionMismatch, "",
			"%d fixed vs %d moving landmarks", fixed.Len(), moving.Len())
	}
	var (
		a   geometry.Affine
		err error
	)
	switch method {
	case InitialAffine:
		a, err = alignment.ComputeAffineLeastSquares(fixed.Points, moving.Points)
	case InitialRANSAC:
		a, _, err = alignment.ComputeAffineRANSAC(fixed.Points, moving.Points, ransacIterations, threshold,
			rand.New(rand.NewSource(ransacSeed)))
	default:
		return geometry.Affine{}, apperr.New(op, apperr.KindConfiguration, method, "unknown initial transform estimator")
	}
	if err != nil {
		return geometry.Affine{}, &apperr.Error{Op: op, Kind: apperr.KindNumerical, Value: method, Err: err}
	}
	return a, nil
}
