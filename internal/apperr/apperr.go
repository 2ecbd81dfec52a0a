// Package apperr defines the error kinds reported while configuring,
// fitting and persisting a spline kernel transform.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a coarse-grained categorization for errors.
type Kind string

const (
	KindConfiguration     Kind = "ConfigurationError"
	KindFileFormat        Kind = "FileFormatError"
	KindMissingGeometry   Kind = "MissingGeometryError"
	KindDimensionMismatch Kind = "DimensionMismatch"
	KindNumerical         Kind = "NumericalError"
)

// Error wraps an underlying error with operation context and a kind.
type Error struct {
	Op        string
	Kind      Kind
	Component string // Optional: component label, e.g. "Transform0"
	Value     string // Optional: offending value
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Component != "" {
		base += fmt.Sprintf(" (component=%s)", e.Component)
	}
	if e.Value != "" {
		base += fmt.Sprintf(" [value=%q]", e.Value)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds an Error with a formatted cause.
func New(op string, kind Kind, value string, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Value: value, Err: fmt.Errorf(format, args...)}
}

// WithComponent returns err labelled with component when it is an *Error
// that carries no label yet. Other errors are returned unchanged.
func WithComponent(err error, component string) error {
	var e *Error
	if errors.As(err, &e) && e.Component == "" {
		cp := *e
		cp.Component = component
		return &cp
	}
	return err
}

// IsKind reports whether any error in err's chain is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
