// Package transform fits and evaluates the spline kernel transform and
// persists its defining parameters.
//
// The transform maps a point x to
//
//	x + A x + b + sum_i G(x - p_i) w_i
//
// where p_i are the source landmarks, G is the kernel basis and the weights
// w_i, A and b are solved from the landmark displacements q_i - p_i with the
// system
//
//	[ K + s I   P ] [ w ]   [ q - p ]
//	[ P^T       0 ] [ a ] = [   0   ]
//
// K holds G(p_i - p_j), s is the stiffness and P the affine block. The
// inverse of the system matrix is computed once per source landmark set, so
// refitting for new target landmarks is a matrix-vector product.
package transform

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"splinekt/internal/apperr"
	"splinekt/internal/kernel"
	"splinekt/internal/landmark"
	"splinekt/pkg/geometry"
)

const (
	// svdTolerance truncates singular values below tol * largest.
	svdTolerance = 1e-12
	// qrConditionLimit rejects systems QR cannot solve reliably.
	qrConditionLimit = 1e14
)

// Engine owns one spline kernel transform: its kernel choice, scalar
// settings, source landmarks and fitted weights.
type Engine struct {
	dim int
	log *slog.Logger

	kernelType string
	family     kernel.Family
	stiffness  float64
	poisson    float64
	method     kernel.InversionMethod

	source  []geometry.Point
	inverse *mat.Dense // inverse (or pseudo-inverse) of the system matrix
	weights *mat.Dense // (n+D+1) x D
	fitted  bool
}

// New creates an engine for dim-dimensional points. The kernel family
// starts out unknown and must be set before landmarks are accepted.
func New(dim int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		dim:        dim,
		log:        logger,
		kernelType: kernel.Unknown.String(),
		family:     kernel.Unknown,
		poisson:    kernel.DefaultPoissonRatio,
		method:     kernel.SVD,
	}
}

// Dimension returns the spatial dimension.
func (e *Engine) Dimension() int { return e.dim }

// KernelType returns the requested kernel family name.
func (e *Engine) KernelType() string { return e.kernelType }

// Family returns the instantiated kernel family.
func (e *Engine) Family() kernel.Family { return e.family }

// Stiffness returns the relaxation factor.
func (e *Engine) Stiffness() float64 { return e.stiffness }

// PoissonRatio returns the Poisson ratio.
func (e *Engine) PoissonRatio() float64 { return e.poisson }

// InversionMethod returns the configured solver.
func (e *Engine) InversionMethod() kernel.InversionMethod { return e.method }

// NumberOfLandmarks returns the number of source landmarks.
func (e *Engine) NumberOfLandmarks() int { return len(e.source) }

// Ready reports whether the transform has weights and may be evaluated.
func (e *Engine) Ready() bool { return e.fitted }

// SetKernelType selects the kernel for name and the engine dimension. The
// name is remembered as given so it can be written back out. It returns
// false when no kernel exists for name; the family is then Unknown.
func (e *Engine) SetKernelType(name string) bool {
	e.kernelType = name
	family, ok := kernel.Select(name, e.dim)
	e.family = family
	e.invalidate()
	return ok
}

// Configure stores the scalar settings. The Poisson ratio only affects the
// elastic body kernels but is kept for every family. Any previous fit is
// discarded, also when the settings are rejected.
func (e *Engine) Configure(stiffness, poissonRatio float64, method kernel.InversionMethod) error {
	const op = "transform.Configure"
	e.invalidate()
	if e.family == kernel.Unknown {
		return apperr.New(op, apperr.KindConfiguration, e.kernelType, "the kernel type is not supported")
	}
	if math.IsNaN(stiffness) || stiffness < 0 || stiffness > 1 {
		return apperr.New(op, apperr.KindConfiguration, fmt.Sprint(stiffness),
			"relaxation factor must lie in [0, 1]")
	}
	if math.IsNaN(poissonRatio) {
		return apperr.New(op, apperr.KindConfiguration, "NaN", "invalid Poisson ratio")
	}
	if method != kernel.SVD && method != kernel.QR {
		return apperr.New(op, apperr.KindConfiguration, method.String(), "unknown matrix inversion method")
	}
	e.stiffness = stiffness
	e.poisson = poissonRatio
	e.method = method
	return nil
}

// invalidate drops the cached system inverse after a setting changed.
func (e *Engine) invalidate() {
	e.inverse = nil
	e.fitted = false
}

// SetSourceLandmarks stores the source landmarks, assembles the system
// matrix and inverts it. This is the expensive step; its wall-clock
// duration is returned. The weights are reset to the identity transform.
func (e *Engine) SetSourceLandmarks(set landmark.Set) (time.Duration, error) {
	if err := e.storeSource(set, "transform.SetSourceLandmarks"); err != nil {
		return 0, err
	}
	start := time.Now()
	e.log.Info("setting the fixed image landmarks (requiring large matrix inversion)",
		"landmarks", len(e.source), "kernel", e.family.String(), "method", e.method.String())
	if err := e.factorize(); err != nil {
		return time.Since(start), err
	}
	e.SetIdentity()
	elapsed := time.Since(start)
	e.log.Info("setting the fixed image landmarks took", "elapsed", elapsed)
	return elapsed, nil
}

func (e *Engine) storeSource(set landmark.Set, op string) error {
	if e.family == kernel.Unknown {
		return apperr.New(op, apperr.KindConfiguration, e.kernelType, "the kernel type is not supported")
	}
	if set.Len() == 0 {
		return apperr.New(op, apperr.KindDimensionMismatch, "0", "no source landmarks")
	}
	source := make([]geometry.Point, set.Len())
	for i, p := range set.Points {
		if p.Dim() != e.dim {
			return apperr.New(op, apperr.KindDimensionMismatch, p.String(),
				"landmark %d has %d coordinates, transform has %d", i, p.Dim(), e.dim)
		}
		source[i] = p.Clone()
	}
	if rank := geometry.AffineRank(source); rank < e.dim {
		e.log.Warn("source landmarks are degenerate, the affine part is underdetermined",
			"affine_rank", rank, "dimension", e.dim)
	}
	e.source = source
	e.invalidate()
	return nil
}

// SetTargetLandmarks solves the weights that carry every source landmark
// onto the matching target landmark.
func (e *Engine) SetTargetLandmarks(set landmark.Set) (time.Duration, error) {
	const op = "transform.SetTargetLandmarks"
	start := time.Now()
	if len(e.source) == 0 {
		return 0, apperr.New(op, apperr.KindConfiguration, "", "source landmarks must be set first")
	}
	if set.Len() != len(e.source) {
		return 0, apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(set.Len()),
			"%d target landmarks for %d source landmarks", set.Len(), len(e.source))
	}
	for i, q := range set.Points {
		if q.Dim() != e.dim {
			return 0, apperr.New(op, apperr.KindDimensionMismatch, q.String(),
				"target landmark %d has %d coordinates, transform has %d", i, q.Dim(), e.dim)
		}
	}
	if e.inverse == nil {
		if err := e.factorize(); err != nil {
			return time.Since(start), err
		}
	}

	n, d := len(e.source), e.dim
	m := d * (n + d + 1)
	y := mat.NewVecDense(m, nil)
	for i, q := range set.Points {
		for k := 0; k < d; k++ {
			y.SetVec(i*d+k, q[k]-e.source[i][k])
		}
	}
	var w mat.VecDense
	w.MulVec(e.inverse, y)
	for _, v := range w.RawVector().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Since(start), apperr.New(op, apperr.KindNumerical, "", "solution is not finite")
		}
	}
	e.weights = mat.NewDense(n+d+1, d, append([]float64(nil), w.RawVector().Data...))
	e.fitted = true

	elapsed := time.Since(start)
	e.log.Info("setting the moving image landmarks took", "elapsed", elapsed)
	return elapsed, nil
}

// SetIdentity zeroes every weight so that the transform maps each point to
// itself.
func (e *Engine) SetIdentity() {
	n := len(e.source)
	e.weights = mat.NewDense(n+e.dim+1, e.dim, nil)
	e.fitted = n > 0
}

// assemble builds the system matrix for the current source landmarks.
func (e *Engine) assemble() *mat.Dense {
	n, d := len(e.source), e.dim
	m := d * (n + d + 1)
	l := mat.NewDense(m, m, nil)
	basis := kernel.NewBasis(e.family, e.poisson)
	g := make([]float64, d*d)
	diff := make([]float64, d)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				for k := 0; k < d; k++ {
					l.Set(i*d+k, i*d+k, e.stiffness)
				}
				continue
			}
			for k := 0; k < d; k++ {
				diff[k] = e.source[i][k] - e.source[j][k]
			}
			basis.G(diff, g)
			for r := 0; r < d; r++ {
				for c := 0; c < d; c++ {
					l.Set(i*d+r, j*d+c, g[r*d+c])
					l.Set(j*d+c, i*d+r, g[r*d+c])
				}
			}
		}
	}

	affine := n * d
	for i, p := range e.source {
		for r := 0; r < d; r++ {
			row := i*d + r
			for k := 0; k < d; k++ {
				col := affine + k*d + r
				l.Set(row, col, p[k])
				l.Set(col, row, p[k])
			}
			col := affine + d*d + r
			l.Set(row, col, 1)
			l.Set(col, row, 1)
		}
	}
	return l
}

// factorize assembles and inverts the system with the configured method.
func (e *Engine) factorize() error {
	const op = "transform.factorize"
	l := e.assemble()
	m, _ := l.Dims()

	switch e.method {
	case kernel.QR:
		var qr mat.QR
		qr.Factorize(l)
		if cond := qr.Cond(); math.IsInf(cond, 0) || math.IsNaN(cond) || cond > qrConditionLimit {
			return apperr.New(op, apperr.KindNumerical, fmt.Sprintf("%g", cond),
				"system matrix is singular or ill-conditioned for QR, use SVD")
		}
		var inv mat.Dense
		if err := qr.SolveTo(&inv, false, eye(m)); err != nil {
			return &apperr.Error{Op: op, Kind: apperr.KindNumerical, Value: "QR", Err: err}
		}
		e.inverse = &inv
	default:
		var svd mat.SVD
		if !svd.Factorize(l, mat.SVDThin) {
			return apperr.New(op, apperr.KindNumerical, "SVD", "singular value decomposition failed")
		}
		values := svd.Values(nil)
		rank := svd.Rank(svdTolerance)
		if rank == 0 {
			return apperr.New(op, apperr.KindNumerical, "SVD", "system matrix has rank 0")
		}
		if rank < m {
			e.log.Warn("system matrix is rank deficient, using pseudo-inverse", "rank", rank, "size", m)
		}
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)
		for c := 0; c < m; c++ {
			scale := 0.0
			if c < rank {
				scale = 1 / values[c]
			}
			for r := 0; r < m; r++ {
				v.Set(r, c, v.At(r, c)*scale)
			}
		}
		var inv mat.Dense
		inv.Mul(&v, u.T())
		e.inverse = &inv
	}
	return nil
}

func eye(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}

// Evaluate maps p through the fitted transform.
func (e *Engine) Evaluate(p geometry.Point) (geometry.Point, error) {
	const op = "transform.Evaluate"
	if !e.fitted {
		return nil, apperr.New(op, apperr.KindConfiguration, e.kernelType, "transform has not been fitted")
	}
	if p.Dim() != e.dim {
		return nil, apperr.New(op, apperr.KindDimensionMismatch, p.String(),
			"point has %d coordinates, transform has %d", p.Dim(), e.dim)
	}

	n, d := len(e.source), e.dim
	out := p.Clone()
	basis := kernel.NewBasis(e.family, e.poisson)
	g := make([]float64, d*d)
	diff := make([]float64, d)

	for i, src := range e.source {
		for k := 0; k < d; k++ {
			diff[k] = p[k] - src[k]
		}
		basis.G(diff, g)
		for r := 0; r < d; r++ {
			var v float64
			for c := 0; c < d; c++ {
				v += g[r*d+c] * e.weights.At(i, c)
			}
			out[r] += v
		}
	}
	for k := 0; k < d; k++ {
		for r := 0; r < d; r++ {
			out[r] += e.weights.At(n+k, r) * p[k]
		}
	}
	for r := 0; r < d; r++ {
		out[r] += e.weights.At(n+d, r)
	}
	return out, nil
}

// Jacobian returns the spatial Jacobian of the transform at p: entry (r, k)
// is the derivative of output coordinate r along input coordinate k.
func (e *Engine) Jacobian(p geometry.Point) (*mat.Dense, error) {
	const op = "transform.Jacobian"
	if !e.fitted {
		return nil, apperr.New(op, apperr.KindConfiguration, e.kernelType, "transform has not been fitted")
	}
	if p.Dim() != e.dim {
		return nil, apperr.New(op, apperr.KindDimensionMismatch, p.String(),
			"point has %d coordinates, transform has %d", p.Dim(), e.dim)
	}

	n, d := len(e.source), e.dim
	jac := eye(d)
	basis := kernel.NewBasis(e.family, e.poisson)
	dg := make([]float64, d*d)
	diff := make([]float64, d)
	w := make([]float64, d)

	for i, src := range e.source {
		for k := 0; k < d; k++ {
			diff[k] = p[k] - src[k]
			w[k] = e.weights.At(i, k)
		}
		basis.DG(diff, w, dg)
		for r := 0; r < d; r++ {
			for k := 0; k < d; k++ {
				jac.Set(r, k, jac.At(r, k)+dg[r*d+k])
			}
		}
	}
	for k := 0; k < d; k++ {
		for r := 0; r < d; r++ {
			jac.Set(r, k, jac.At(r, k)+e.weights.At(n+k, r))
		}
	}
	return jac, nil
}

// JacobianDeterminant returns the determinant of Jacobian(p).
func (e *Engine) JacobianDeterminant(p geometry.Point) (float64, error) {
	jac, err := e.Jacobian(p)
	if err != nil {
		return 0, err
	}
	return mat.Det(jac), nil
}

// FixedParameters returns the flattened source landmark coordinates.
func (e *Engine) FixedParameters() []float64 {
	out := make([]float64, 0, len(e.source)*e.dim)
	for _, p := range e.source {
		out = append(out, p...)
	}
	return out
}

// SetFixedParameters replaces the source landmarks with the flattened
// coordinates in values. The system is not inverted here: a later
// SetTargetLandmarks does that on demand, while SetParameters restores
// stored weights directly. The weights are reset to identity.
func (e *Engine) SetFixedParameters(values []float64) error {
	set, err := landmark.FromFlat(e.dim, values)
	if err != nil {
		return err
	}
	if err := e.storeSource(set, "transform.SetFixedParameters"); err != nil {
		return err
	}
	e.SetIdentity()
	return nil
}

// NumberOfParameters returns the length of the free parameter vector.
func (e *Engine) NumberOfParameters() int {
	return (len(e.source) + e.dim + 1) * e.dim
}

// Parameters returns the fitted weights flattened row by row: one row per
// landmark, D rows for the affine matrix columns and a translation row.
func (e *Engine) Parameters() []float64 {
	if e.weights == nil {
		return nil
	}
	r, c := e.weights.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, e.weights.RawRowView(i)...)
	}
	return out
}

// SetParameters restores weights previously returned by Parameters.
func (e *Engine) SetParameters(values []float64) error {
	const op = "transform.SetParameters"
	if len(e.source) == 0 {
		return apperr.New(op, apperr.KindConfiguration, "", "source landmarks must be set first")
	}
	if want := e.NumberOfParameters(); len(values) != want {
		return apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(len(values)),
			"expected %d transform parameters for %d landmarks", want, len(e.source))
	}
	e.weights = mat.NewDense(len(e.source)+e.dim+1, e.dim, append([]float64(nil), values...))
	e.fitted = true
	return nil
}

// Residuals evaluates every source landmark and reports the mean and
// maximum distance to its target.
func (e *Engine) Residuals(source, target landmark.Set) (mean, worst float64, err error) {
	if source.Len() != target.Len() || source.Len() == 0 {
		return 0, 0, apperr.New("transform.Residuals", apperr.KindDimensionMismatch,
			fmt.Sprint(target.Len()), "%d source vs %d target landmarks", source.Len(), target.Len())
	}
	var total float64
	for i, p := range source.Points {
		mapped, err := e.Evaluate(p)
		if err != nil {
			return 0, 0, err
		}
		dist := mapped.Distance(target.Points[i])
		total += dist
		worst = math.Max(worst, dist)
	}
	return total / float64(source.Len()), worst, nil
}
