package transform

import (
	"fmt"
	"log/slog"

	"splinekt/internal/apperr"
	"splinekt/internal/parfile"
)

// Record returns the full stored form of the engine: the generic transform
// section with the fitted weights, followed by the spline specific section
// produced by Encode.
func (e *Engine) Record() *parfile.Record {
	rec := parfile.New()
	rec.SetString(KeyTransform, Name)
	rec.SetInt(KeyFixedImageDimension, e.dim)
	params := e.Parameters()
	rec.SetInt(KeyNumberOfTransformParams, len(params))
	rec.SetFloat(KeyTransformParameters, params...)
	rec.Comment("")
	rec.Comment(Name + " specific")
	rec.Append(Encode(e.State()))
	return rec
}

// WriteFile stores the fitted transform at path.
func (e *Engine) WriteFile(path string) error {
	if !e.fitted {
		return apperr.New("transform.WriteFile", apperr.KindConfiguration, path, "transform has not been fitted")
	}
	if err := e.Record().WriteFile(path); err != nil {
		return fmt.Errorf("write transform %s: %w", path, err)
	}
	e.log.Info("transform parameters written", "path", path, "parameters", e.NumberOfParameters())
	return nil
}

// FromRecord rebuilds an engine from a stored record. When dim is zero the
// dimension is taken from the record.
func FromRecord(rec *parfile.Record, dim int, logger *slog.Logger) (*Engine, error) {
	const op = "transform.FromRecord"

	if name, ok := rec.Get(KeyTransform); ok && name != Name {
		return nil, apperr.New(op, apperr.KindConfiguration, name, "not a %s", Name)
	}
	stored, ok, err := rec.Int(KeyFixedImageDimension)
	if err != nil {
		return nil, err
	}
	switch {
	case ok && dim == 0:
		dim = stored
	case ok && stored != dim:
		return nil, apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(stored),
			"transform is %d-dimensional, expected %d", stored, dim)
	case !ok && dim == 0:
		return nil, apperr.New(op, apperr.KindConfiguration, "",
			"%s is not given and no dimension was requested", KeyFixedImageDimension)
	}

	state, err := Decode(rec, dim)
	if err != nil {
		return nil, err
	}
	e := New(dim, logger)
	if err := e.Restore(state); err != nil {
		return nil, err
	}

	params, ok, err := rec.Floats(KeyTransformParameters)
	if err != nil {
		return nil, err
	}
	if !ok {
		// No stored weights: the transform stays at identity.
		return e, nil
	}
	if n, declared, err := rec.Int(KeyNumberOfTransformParams); err != nil {
		return nil, err
	} else if declared && n != len(params) {
		return nil, apperr.New(op, apperr.KindDimensionMismatch, fmt.Sprint(len(params)),
			"%s declares %d values, %s has %d", KeyNumberOfTransformParams, n, KeyTransformParameters, len(params))
	}
	if err := e.SetParameters(params); err != nil {
		return nil, err
	}
	return e, nil
}

// ReadFile loads a transform stored by WriteFile.
func ReadFile(path string, dim int, logger *slog.Logger) (*Engine, error) {
	rec, err := parfile.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := FromRecord(rec, dim, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}
