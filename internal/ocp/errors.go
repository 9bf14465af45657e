package ocp

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownVariable indicates a name that is not a state, control,
	// parameter or output of the model.
	ErrUnknownVariable = errors.New("ocp: unknown variable")

	// ErrIndexRange indicates a timestep, sub-interval or degree index
	// outside the discretization.
	ErrIndexRange = errors.New("ocp: index out of range")

	// ErrTimestepRequired indicates a lookup of a per-node quantity without
	// a timestep.
	ErrTimestepRequired = errors.New("ocp: timestep required")

	// ErrNotDecision indicates a bound or guess on a model output. Outputs
	// are limited with ConstrainRange instead.
	ErrNotDecision = errors.New("ocp: output is not a decision variable")

	// ErrBoundAlreadySet indicates a re-bound of a slot without Force.
	ErrBoundAlreadySet = errors.New("ocp: bound already set")

	// ErrInvalidBound indicates lower > upper, a NaN endpoint, or an interval
	// that admits no finite value.
	ErrInvalidBound = errors.New("ocp: invalid bound interval")

	// ErrNilExpr indicates a constraint or objective built from a nil expression.
	ErrNilExpr = errors.New("ocp: nil expression")

	// ErrNoObjective indicates a problem snapshot requested before SetObjective.
	ErrNoObjective = errors.New("ocp: objective not set")

	// ErrDimensionMismatch indicates a decision vector or trajectory that
	// does not match the layout.
	ErrDimensionMismatch = errors.New("ocp: dimension mismatch with layout")

	// ErrDuplicateName indicates a model variable or output declared twice.
	ErrDuplicateName = errors.New("ocp: duplicate name")
)

// LookupError wraps a lookup failure with the offending request.
type LookupError struct {
	Name    string
	Request string
	Wrapped error
}

func (e *LookupError) Error() string {
	if e.Request == "" {
		return fmt.Sprintf("%v: %q", e.Wrapped, e.Name)
	}
	return fmt.Sprintf("%v: %q %s", e.Wrapped, e.Name, e.Request)
}

func (e *LookupError) Unwrap() error {
	return e.Wrapped
}
