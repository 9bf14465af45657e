// Package solver defines the NLP boundary used by the homotopy driver and a
// bundled augmented-Lagrangian backend built on gonum/optimize.
package solver

import (
	"context"
	"errors"
	"time"

	"github.com/san-kum/kiteopt/internal/ocp"
)

var (
	// ErrNotConverged indicates the backend stopped without meeting its
	// feasibility tolerance, or its last inner minimization hit a limit or
	// failed. The returned Result still holds the last iterate.
	ErrNotConverged = errors.New("solver: did not converge")

	// ErrStopped indicates an IterationFunc asked the solve to stop.
	ErrStopped = errors.New("solver: stopped by iteration callback")

	// ErrBadStart indicates an initial guess of the wrong length or with a
	// non-finite objective.
	ErrBadStart = errors.New("solver: invalid initial point")
)

// Iterate is handed to an IterationFunc after every major iteration. X is
// the full decision vector and is only valid for the duration of the call.
type Iterate struct {
	Iteration int
	X         []float64
	Objective float64
}

// IterationFunc observes the solve. Returning false stops it with ErrStopped.
type IterationFunc func(it Iterate) bool

// Result is the outcome of a solve.
type Result struct {
	X          []float64
	Objective  float64
	Violation  float64
	Iterations int
	Outer      int
	Status     string
	Converged  bool
	Elapsed    time.Duration
}

// Solver minimizes a problem snapshot from x0.
type Solver interface {
	Solve(ctx context.Context, p *ocp.Problem, x0 []float64, fn IterationFunc) (*Result, error)
}

// Func adapts a function to Solver.
type Func func(ctx context.Context, p *ocp.Problem, x0 []float64, fn IterationFunc) (*Result, error)

func (f Func) Solve(ctx context.Context, p *ocp.Problem, x0 []float64, fn IterationFunc) (*Result, error) {
	return f(ctx, p, x0, fn)
}
