package transform

import (
	"fmt"

	"splinekt/internal/apperr"
	"splinekt/internal/kernel"
	"splinekt/internal/parfile"
)

// Parameter record keys.
const (
	KeySplineKernelType        = "SplineKernelType"
	KeyPoissonRatio            = "SplinePoissonRatio"
	KeyRelaxationFactor        = "SplineRelaxationFactor"
	KeyInversionMethod         = "TPSMatrixInversionMethod"
	KeyNumberOfParameters      = "NumberOfParameters"
	KeyFixedImageLandmarks     = "FixedImageLandmarks"
	KeyTransform               = "Transform"
	KeyTransformParameters     = "TransformParameters"
	KeyFixedImageDimension     = "FixedImageDimension"
	KeyNumberOfTransformParams = "NumberOfTransformParameters"
)

// Name is the transform name written to stored transforms.
const Name = "SplineKernelTransform"

// State is everything that defines the shape of the kernel basis: the
// kernel, its scalar settings and the source landmarks. The weights are not
// part of it.
type State struct {
	Dim             int
	KernelType      string
	Family          kernel.Family
	Stiffness       float64
	PoissonRatio    float64
	Method          kernel.InversionMethod
	FixedParameters []float64
}

// State returns the engine's persistable settings.
func (e *Engine) State() State {
	return State{
		Dim:             e.dim,
		KernelType:      e.kernelType,
		Family:          e.family,
		Stiffness:       e.stiffness,
		PoissonRatio:    e.poisson,
		Method:          e.method,
		FixedParameters: e.FixedParameters(),
	}
}

// Restore configures the engine from a decoded state. It sets the kernel,
// the scalar settings and the source landmarks, and leaves the transform at
// identity; stored weights are restored separately with SetParameters.
func (e *Engine) Restore(s State) error {
	if s.Dim != e.dim {
		return apperr.New("transform.Restore", apperr.KindDimensionMismatch, fmt.Sprint(s.Dim),
			"state has dimension %d, engine has %d", s.Dim, e.dim)
	}
	if !e.SetKernelType(s.KernelType) {
		return apperr.New("transform.Restore", apperr.KindConfiguration, s.KernelType,
			"the kernel type is not supported")
	}
	if err := e.Configure(s.Stiffness, s.PoissonRatio, s.Method); err != nil {
		return err
	}
	return e.SetFixedParameters(s.FixedParameters)
}

// Encode writes the kernel type, Poisson ratio, relaxation factor,
// inversion method and the fixed parameters, in that order.
func Encode(s State) *parfile.Record {
	rec := parfile.New()
	rec.SetString(KeySplineKernelType, s.KernelType)
	rec.SetFloat(KeyPoissonRatio, s.PoissonRatio)
	rec.SetFloat(KeyRelaxationFactor, s.Stiffness)
	rec.SetString(KeyInversionMethod, s.Method.String())
	rec.SetInt(KeyNumberOfParameters, len(s.FixedParameters))
	rec.SetFloat(KeyFixedImageLandmarks, s.FixedParameters...)
	return rec
}

// Decode reads a State for dim-dimensional landmarks. It does not fit:
// the result is handed to Engine.Restore, and the weights come from the
// generic transform parameters.
func Decode(rec *parfile.Record, dim int) (State, error) {
	const op = "transform.Decode"
	s := State{
		Dim:          dim,
		PoissonRatio: kernel.DefaultPoissonRatio,
		Method:       kernel.SVD,
	}

	name, ok := rec.Get(KeySplineKernelType)
	if !ok {
		return State{}, apperr.New(op, apperr.KindConfiguration, "",
			"the %s is not given in the transform parameter file", KeySplineKernelType)
	}
	family, ok := kernel.Select(name, dim)
	if !ok {
		return State{}, apperr.New(op, apperr.KindConfiguration, name, "the kernel type is not supported")
	}
	s.KernelType = name
	s.Family = family

	if v, ok, err := rec.Float(KeyRelaxationFactor); err != nil {
		return State{}, err
	} else if ok {
		s.Stiffness = v
	}
	if v, ok, err := rec.Float(KeyPoissonRatio); err != nil {
		return State{}, err
	} else if ok {
		s.PoissonRatio = v
	}
	if v, ok := rec.Get(KeyInversionMethod); ok {
		method, ok := kernel.ParseInversionMethod(v)
		if !ok {
			return State{}, apperr.New(op, apperr.KindConfiguration, v, "unknown matrix inversion method")
		}
		s.Method = method
	}

	landmarks, ok, err := rec.Floats(KeyFixedImageLandmarks)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{}, apperr.New(op, apperr.KindConfiguration, "",
			"the %s are not given in the transform parameter file", KeyFixedImageLandmarks)
	}
	count, declared, err := rec.Int(KeyNumberOfParameters)
	if err != nil {
		return State{}, err
	}
	if declared && count != len(landmarks) {
		return State{}, apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(len(landmarks)),
			"%s declares %d values, %s has %d", KeyNumberOfParameters, count, KeyFixedImageLandmarks, len(landmarks))
	}
	if len(landmarks) == 0 || len(landmarks)%dim != 0 {
		return State{}, apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(len(landmarks)),
			"%d landmark coordinates do not form %d-dimensional points", len(landmarks), dim)
	}
	s.FixedParameters = landmarks
	return s, nil
}
