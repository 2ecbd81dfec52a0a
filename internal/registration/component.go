// Package registration drives a spline kernel transform the way a
// registration pipeline does: it checks the landmark arguments before
// anything runs, configures and fits the transform from a parameter record
// before registration starts, and reads or writes the stored transform.
package registration

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"splinekt/internal/apperr"
	"splinekt/internal/kernel"
	"splinekt/internal/landmark"
	"splinekt/internal/log"
	"splinekt/internal/parfile"
	"splinekt/internal/tracing"
	"splinekt/internal/transform"
	"splinekt/pkg/geometry"
)

// Label is the component label attached to every error raised here.
const Label = transform.Name

// Arguments are the landmark file inputs.
type Arguments struct {
	// Fixed is the fixed image landmark file (fp). Required.
	Fixed string
	// Moving is the moving image landmark file (mp). Optional: without it
	// the transform is the identity.
	Moving string
}

// Environment is what the surrounding registration provides.
type Environment struct {
	FixedGeometry    geometry.IndexMapper
	MovingGeometry   geometry.IndexMapper
	InitialTransform geometry.PointTransformer
	UseComposition   bool
}

// SplineKernelTransform is the registration component wrapping one
// transform engine.
type SplineKernelTransform struct {
	dim    int
	log    *slog.Logger
	tracer trace.Tracer
	engine *transform.Engine

	fixed  landmark.Set
	moving landmark.Set

	// initial is applied before the spline when set.
	initial *geometry.Affine
}

// New creates the component for dim-dimensional images. A nil logger or
// tracer disables that output.
func New(dim int, logger *slog.Logger, tracer trace.Tracer) *SplineKernelTransform {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.With("component", Label)
	return &SplineKernelTransform{
		dim:    dim,
		log:    logger,
		tracer: tracing.OrNoop(tracer),
		engine: transform.New(dim, logger),
	}
}

// Engine returns the wrapped transform.
func (c *SplineKernelTransform) Engine() *transform.Engine {
	return c.engine
}

// FixedLandmarks returns the fixed landmarks loaded by BeforeRegistration.
func (c *SplineKernelTransform) FixedLandmarks() landmark.Set { return c.fixed }

// MovingLandmarks returns the moving landmarks, empty when none were given.
func (c *SplineKernelTransform) MovingLandmarks() landmark.Set { return c.moving }

// SetInitialTransform composes the spline with a, which maps points before
// the spline does. Fixed landmarks must then be loaded with composition.
func (c *SplineKernelTransform) SetInitialTransform(a geometry.Affine) {
	c.initial = &a
}

// InitialTransform returns the initial transform, if any.
func (c *SplineKernelTransform) InitialTransform() (geometry.Affine, bool) {
	if c.initial == nil {
		return geometry.Affine{}, false
	}
	return *c.initial, true
}

// CheckArguments verifies, before anything is loaded, that a fixed
// landmark file was given.
func CheckArguments(args Arguments, logger *slog.Logger) error {
	if logger == nil {
		logger = log.Discard()
	}
	if args.Fixed == "" {
		return apperr.WithComponent(apperr.New("registration.CheckArguments", apperr.KindConfiguration, "",
			"the fixed image landmark file must be given with --fp"), Label)
	}
	logger.Info("fixed image landmarks", "component", Label, "fp", args.Fixed)
	if args.Moving == "" {
		logger.Info("no moving image landmarks given, the moving landmarks are assumed equal to the fixed ones",
			"component", Label)
	} else {
		logger.Info("moving image landmarks", "component", Label, "mp", args.Moving)
	}
	return nil
}

// BeforeRegistration configures the transform from params, loads the
// landmark files and fits. Without moving landmarks the transform is set
// to identity.
func (c *SplineKernelTransform) BeforeRegistration(ctx context.Context, params *parfile.Record, args Arguments, env Environment) error {
	if err := c.beforeRegistration(ctx, params, args, env); err != nil {
		return apperr.WithComponent(err, Label)
	}
	return nil
}

func (c *SplineKernelTransform) beforeRegistration(ctx context.Context, params *parfile.Record, args Arguments, env Environment) error {
	const op = "registration.BeforeRegistration"

	kernelType := kernel.ThinPlateSpline.String()
	if v, ok := params.Get(transform.KeySplineKernelType); ok {
		kernelType = v
	}
	if !c.engine.SetKernelType(kernelType) {
		c.log.Error("the kernel type is not supported", "kernel", kernelType)
		return apperr.New(op, apperr.KindConfiguration, kernelType, "unable to configure: unsupported kernel type")
	}

	relaxation := 0.0
	if v, ok, err := params.Float(transform.KeyRelaxationFactor); err != nil {
		return err
	} else if ok {
		relaxation = v
	}

	poisson := kernel.DefaultPoissonRatio
	if c.engine.Family().Elastic() {
		if v, ok, err := params.Float(transform.KeyPoissonRatio); err != nil {
			return err
		} else if ok {
			poisson = v
		}
	}

	method := kernel.SVD
	if v, ok := params.Get(transform.KeyInversionMethod); ok {
		m, known := kernel.ParseInversionMethod(v)
		if !known {
			return apperr.New(op, apperr.KindConfiguration, v, "unknown matrix inversion method")
		}
		method = m
	}

	if err := c.engine.Configure(relaxation, poisson, method); err != nil {
		return err
	}

	if err := c.determineSourceLandmarks(ctx, args.Fixed, env); err != nil {
		return err
	}
	given, err := c.determineTargetLandmarks(ctx, args.Moving, env)
	if err != nil {
		return err
	}
	if !given {
		c.engine.SetIdentity()
	}
	return nil
}

func (c *SplineKernelTransform) determineSourceLandmarks(ctx context.Context, path string, env Environment) error {
	c.log.Info("loading fixed image landmarks")
	set, err := c.load(ctx, path, landmark.Fixed, landmark.Options{
		Dim:              c.dim,
		Geometry:         env.FixedGeometry,
		InitialTransform: env.InitialTransform,
		UseComposition:   env.UseComposition,
	})
	if err != nil {
		return err
	}
	c.fixed = set

	_, span := c.tracer.Start(ctx, tracing.SpanFitSource, trace.WithAttributes(
		attribute.Int(tracing.AttrLandmarks, set.Len()),
		attribute.String(tracing.AttrKernel, c.engine.Family().String()),
		attribute.String(tracing.AttrMethod, c.engine.InversionMethod().String()),
	))
	defer span.End()
	elapsed, err := c.engine.SetSourceLandmarks(set)
	tracing.RecordError(span, err)
	span.SetAttributes(attribute.Int64(tracing.AttrElapsed, elapsed.Microseconds()))
	return err
}

func (c *SplineKernelTransform) determineTargetLandmarks(ctx context.Context, path string, env Environment) (bool, error) {
	if path == "" {
		c.moving = landmark.Set{}
		return false, nil
	}
	c.log.Info("loading moving image landmarks")
	set, err := c.load(ctx, path, landmark.Moving, landmark.Options{
		Dim:      c.dim,
		Geometry: env.MovingGeometry,
	})
	if err != nil {
		return false, err
	}
	c.moving = set

	_, span := c.tracer.Start(ctx, tracing.SpanFitTarget, trace.WithAttributes(
		attribute.Int(tracing.AttrLandmarks, set.Len()),
	))
	defer span.End()
	elapsed, err := c.engine.SetTargetLandmarks(set)
	tracing.RecordError(span, err)
	span.SetAttributes(attribute.Int64(tracing.AttrElapsed, elapsed.Microseconds()))
	if err != nil {
		return false, err
	}

	if mean, worst, err := c.engine.Residuals(c.fixed, set); err == nil {
		c.log.Info("landmark residuals", "mean", mean, "max", worst)
	}
	return true, nil
}

func (c *SplineKernelTransform) load(ctx context.Context, path string, role landmark.Role, opts landmark.Options) (landmark.Set, error) {
	_, span := c.tracer.Start(ctx, tracing.SpanLoadLandmarks, trace.WithAttributes(
		attribute.String(tracing.AttrPath, path),
		attribute.String(tracing.AttrRole, role.String()),
	))
	defer span.End()

	opts.Logger = c.log
	set, err := landmark.LoadFile(path, role, opts)
	tracing.RecordError(span, err)
	if err != nil {
		return landmark.Set{}, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrLandmarks, set.Len()))
	return set, nil
}

