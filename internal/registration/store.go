package registration

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"

	"splinekt/internal/apperr"
	"splinekt/internal/landmark"
	"splinekt/internal/parfile"
	"splinekt/internal/tracing"
	"splinekt/internal/transform"
	"splinekt/pkg/geometry"
)

// Transform chaining keys.
const (
	KeyInitialTransform = "InitialTransformParametersFileName"
	KeyHowToCombine     = "HowToCombineTransforms"
	KeyCenterOfRotation = "CenterOfRotationPoint"

	NoInitialTransform = "NoInitialTransform"
	CombineCompose     = "Compose"
	AffineName         = "AffineTransform"
)

// InitialTransformPath returns where the initial transform of the transform
// stored at path is written: next to it, with ".initial" before the
// extension.
func InitialTransformPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".initial" + ext
}

// WriteToFile stores the fitted transform at path. An initial transform is
// stored next to it and referenced by file name.
func (c *SplineKernelTransform) WriteToFile(ctx context.Context, path string) error {
	_, span := c.tracer.Start(ctx, tracing.SpanWriteTransform, trace.WithAttributes(
		attribute.String(tracing.AttrPath, path),
	))
	defer span.End()
	err := c.writeToFile(path)
	tracing.RecordError(span, err)
	return apperr.WithComponent(err, Label)
}

func (c *SplineKernelTransform) writeToFile(path string) error {
	if !c.engine.Ready() {
		return apperr.New("registration.WriteToFile", apperr.KindConfiguration, path, "transform has not been fitted")
	}
	rec := c.engine.Record()
	if c.initial == nil {
		rec.SetString(KeyInitialTransform, NoInitialTransform)
	} else {
		initialPath := InitialTransformPath(path)
		if err := EncodeAffine(*c.initial).WriteFile(initialPath); err != nil {
			return fmt.Errorf("write initial transform %s: %w", initialPath, err)
		}
		rec.SetString(KeyInitialTransform, filepath.Base(initialPath))
		rec.SetString(KeyHowToCombine, CombineCompose)
	}
	if err := rec.WriteFile(path); err != nil {
		return fmt.Errorf("write transform %s: %w", path, err)
	}
	c.log.Info("transform parameters written", "path", path, "parameters", c.engine.NumberOfParameters())
	return nil
}

// ReadFromFile replaces the engine with the transform stored at path,
// including the initial transform it references.
func (c *SplineKernelTransform) ReadFromFile(ctx context.Context, path string) error {
	_, span := c.tracer.Start(ctx, tracing.SpanReadTransform, trace.WithAttributes(
		attribute.String(tracing.AttrPath, path),
		attribute.Int(tracing.AttrDimension, c.dim),
	))
	defer span.End()
	err := c.readFromFile(path)
	tracing.RecordError(span, err)
	return apperr.WithComponent(err, Label)
}

func (c *SplineKernelTransform) readFromFile(path string) error {
	rec, err := parfile.ReadFile(path)
	if err != nil {
		return err
	}
	engine, err := transform.FromRecord(rec, c.dim, c.log)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	// Only composition with the initial transform is supported.
	if how, ok := rec.Get(KeyHowToCombine); ok && how != CombineCompose {
		return apperr.New("registration.ReadFromFile", apperr.KindConfiguration, how,
			"%s must be %q", KeyHowToCombine, CombineCompose)
	}

	var initial *geometry.Affine
	if name, ok := rec.Get(KeyInitialTransform); ok && name != NoInitialTransform {
		if !filepath.IsAbs(name) {
			name = filepath.Join(filepath.Dir(path), name)
		}
		initialRec, err := parfile.ReadFile(name)
		if err != nil {
			return err
		}
		a, err := DecodeAffine(initialRec, c.dim)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		initial = &a
	}

	c.engine = engine
	c.initial = initial
	c.fixed, _ = landmark.FromFlat(c.dim, engine.FixedParameters())
	c.moving = landmark.Set{}
	c.log.Info("transform read", "path", path, "kernel", engine.Family().String(),
		"landmarks", engine.NumberOfLandmarks(), "initial", initial != nil)
	return nil
}

// TransformPoint maps p through the initial transform, if any, and then
// the spline.
func (c *SplineKernelTransform) TransformPoint(p geometry.Point) (geometry.Point, error) {
	q, err := c.throughInitial(p)
	if err != nil {
		return nil, err
	}
	return c.engine.Evaluate(q)
}

// SpatialJacobian returns the Jacobian of TransformPoint at p. With an
// initial transform M p + t it is the spline Jacobian at M p + t times M.
func (c *SplineKernelTransform) SpatialJacobian(p geometry.Point) (*mat.Dense, error) {
	q, err := c.throughInitial(p)
	if err != nil {
		return nil, err
	}
	jac, err := c.engine.Jacobian(q)
	if err != nil || c.initial == nil {
		return jac, err
	}
	var out mat.Dense
	out.Mul(jac, c.initial.M)
	return &out, nil
}

func (c *SplineKernelTransform) throughInitial(p geometry.Point) (geometry.Point, error) {
	if c.initial == nil {
		return p, nil
	}
	if p.Dim() != c.initial.Dim() {
		return nil, apperr.New("registration.TransformPoint", apperr.KindDimensionMismatch, p.String(),
			"point has %d coordinates, transform has %d", p.Dim(), c.initial.Dim())
	}
	return c.initial.TransformPoint(p), nil
}

// TransformPoints maps every point of set through the transform.
func (c *SplineKernelTransform) TransformPoints(ctx context.Context, set landmark.Set) (landmark.Set, error) {
	_, span := c.tracer.Start(ctx, tracing.SpanApply, trace.WithAttributes(
		attribute.Int(tracing.AttrLandmarks, set.Len()),
	))
	defer span.End()

	out := landmark.Set{Dim: set.Dim, Points: make([]geometry.Point, 0, set.Len())}
	for _, p := range set.Points {
		q, err := c.TransformPoint(p)
		if err != nil {
			tracing.RecordError(span, err)
			return landmark.Set{}, apperr.WithComponent(err, Label)
		}
		out.Points = append(out.Points, q)
	}
	return out, nil
}

// DeformationField returns the displacement TransformPoint(p) - p of every
// point of set.
func (c *SplineKernelTransform) DeformationField(ctx context.Context, set landmark.Set) (landmark.Set, error) {
	out, err := c.TransformPoints(ctx, set)
	if err != nil {
		return landmark.Set{}, err
	}
	for i, p := range set.Points {
		out.Points[i] = out.Points[i].Sub(p)
	}
	return out, nil
}

// SpatialJacobians returns SpatialJacobian for every point of set.
func (c *SplineKernelTransform) SpatialJacobians(ctx context.Context, set landmark.Set) ([]*mat.Dense, error) {
	_, span := c.tracer.Start(ctx, tracing.SpanJacobian, trace.WithAttributes(
		attribute.Int(tracing.AttrLandmarks, set.Len()),
	))
	defer span.End()

	out := make([]*mat.Dense, 0, set.Len())
	for _, p := range set.Points {
		jac, err := c.SpatialJacobian(p)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, apperr.WithComponent(err, Label)
		}
		out = append(out, jac)
	}
	return out, nil
}

// EncodeAffine stores a as an affine transform record: the matrix row by
// row followed by the translation.
func EncodeAffine(a geometry.Affine) *parfile.Record {
	dim := a.Dim()
	params := make([]float64, 0, dim*(dim+1))
	for r := 0; r < dim; r++ {
		for k := 0; k < dim; k++ {
			params = append(params, a.M.At(r, k))
		}
	}
	params = append(params, a.T...)

	rec := parfile.New()
	rec.SetString(transform.KeyTransform, AffineName)
	rec.SetInt(transform.KeyFixedImageDimension, dim)
	rec.SetInt(transform.KeyNumberOfTransformParams, len(params))
	rec.SetFloat(transform.KeyTransformParameters, params...)
	rec.SetFloat(KeyCenterOfRotation, make([]float64, dim)...)
	return rec
}

// DecodeAffine reads a record written by EncodeAffine. A non-zero center of
// rotation c is folded into the translation: y = M(x - c) + c + T.
func DecodeAffine(rec *parfile.Record, dim int) (geometry.Affine, error) {
	const op = "registration.DecodeAffine"
	if name, _ := rec.Get(transform.KeyTransform); name != AffineName {
		return geometry.Affine{}, apperr.New(op, apperr.KindConfiguration, name, "not an %s", AffineName)
	}
	params, ok, err := rec.Floats(transform.KeyTransformParameters)
	if err != nil {
		return geometry.Affine{}, err
	}
	if !ok || len(params) != dim*(dim+1) {
		return geometry.Affine{}, apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(len(params)),
			"a %d-dimensional affine transform has %d parameters", dim, dim*(dim+1))
	}
	a := geometry.Identity(dim)
	for r := 0; r < dim; r++ {
		for k := 0; k < dim; k++ {
			a.M.Set(r, k, params[r*dim+k])
		}
	}
	copy(a.T, params[dim*dim:])

	center, ok, err := rec.Floats(KeyCenterOfRotation)
	if err != nil {
		return geometry.Affine{}, err
	}
	if ok {
		if len(center) != dim {
			return geometry.Affine{}, apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(len(center)),
				"%s needs %d values", KeyCenterOfRotation, dim)
		}
		for r := 0; r < dim; r++ {
			shift := center[r]
			for k := 0; k < dim; k++ {
				shift -= a.M.At(r, k) * center[k]
			}
			a.T[r] += shift
		}
	}
	return a, nil
}
