package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/kiteopt/internal/ocp"
)

const maxPenalty = 1e9

// AugLag solves bound- and constraint-limited problems with a
// Powell-Hestenes-Rockafellar augmented Lagrangian. Each outer iteration
// minimizes the Lagrangian over a bound-free reparameterization with LBFGS
// and central finite-difference gradients.
type AugLag struct {
	Options Options
	Logger  *zap.Logger
}

// NewAugLag returns a backend with the given options and logger. A nil
// logger discards output.
func NewAugLag(opts Options, logger *zap.Logger) (*AugLag, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AugLag{Options: opts, Logger: logger.Named("solver")}, nil
}

type multipliers struct {
	eq, ineq []float64
	rho      float64
}

// lagrangian is the PHR merit function at x.
func (m *multipliers) lagrangian(p *ocp.Problem, x []float64) float64 {
	f := p.Objective(x)
	for i, c := range p.Eq {
		h := c.Fn(x)
		f += m.eq[i]*h + 0.5*m.rho*h*h
	}
	for j, c := range p.Ineq {
		s := math.Max(0, m.ineq[j]-m.rho*c.Fn(x))
		f += (s*s - m.ineq[j]*m.ineq[j]) / (2 * m.rho)
	}
	return f
}

func (m *multipliers) update(p *ocp.Problem, x []float64) {
	for i, c := range p.Eq {
		m.eq[i] += m.rho * c.Fn(x)
	}
	for j, c := range p.Ineq {
		m.ineq[j] = math.Max(0, m.ineq[j]-m.rho*c.Fn(x))
	}
}

func constraintViolation(p *ocp.Problem, x []float64) float64 {
	worst := 0.0
	for _, c := range p.Eq {
		worst = math.Max(worst, math.Abs(c.Fn(x)))
	}
	for _, c := range p.Ineq {
		worst = math.Max(worst, -c.Fn(x))
	}
	return worst
}

// recorder forwards major iterations to the IterationFunc and polls ctx.
type recorder struct {
	ctx   context.Context
	t     *transform
	p     *ocp.Problem
	fn    IterationFunc
	count *int
	x     []float64
}

func (r *recorder) Init() error { return r.ctx.Err() }

func (r *recorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if op != optimize.MajorIteration {
		return nil
	}
	*r.count++
	if r.fn == nil {
		return nil
	}
	r.t.expand(r.x, loc.X)
	if !r.fn(Iterate{Iteration: *r.count, X: r.x, Objective: r.p.Objective(r.x)}) {
		return ErrStopped
	}
	return nil
}

// Solve implements Solver.
func (a *AugLag) Solve(ctx context.Context, p *ocp.Problem, x0 []float64, fn IterationFunc) (*Result, error) {
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
	opts := a.Options
	if len(x0) != p.N() {
		return nil, fmt.Errorf("%w: %d entries for %d slots", ErrBadStart, len(x0), p.N())
	}
	for i, v := range x0 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: slot %d is %g", ErrBadStart, i, v)
		}
	}

	start := time.Now()
	t := newTransform(p.Bounds)
	z := t.contract(x0)
	x := make([]float64, p.N())
	t.expand(x, z)

	mult := &multipliers{
		eq:   make([]float64, len(p.Eq)),
		ineq: make([]float64, len(p.Ineq)),
		rho:  opts.PenaltyInit,
	}
	merit := func(z []float64) float64 {
		buf := make([]float64, t.n)
		t.expand(buf, z)
		return mult.lagrangian(p, buf)
	}
	fdSettings := &fd.Settings{Formula: fd.Central, Step: opts.FDStep, Concurrent: opts.Concurrent}
	problem := optimize.Problem{
		Func: merit,
		Grad: func(grad, z []float64) {
			fd.Gradient(grad, merit, z, fdSettings)
		},
	}

	res := &Result{Status: optimize.NotTerminated.String()}
	iterations := 0
	rec := &recorder{ctx: ctx, t: t, p: p, fn: fn, count: &iterations, x: make([]float64, p.N())}
	viol := constraintViolation(p, x)
	constrained := len(p.Eq)+len(p.Ineq) > 0
	log := a.Logger.With(zap.Int("free", t.dim()), zap.Int("fixed", p.N()-t.dim()),
		zap.Int("eq", len(p.Eq)), zap.Int("ineq", len(p.Ineq)))

	// innerOK reports whether the last inner minimization terminated on a
	// convergence test rather than a limit or a failure.
	innerOK := t.dim() == 0
	var innerErr error
	for outer := 0; outer < opts.MaxOuter; outer++ {
		res.Outer = outer + 1
		if t.dim() > 0 {
			settings := &optimize.Settings{
				GradientThreshold: opts.Tol,
				MajorIterations:   opts.MaxIter,
				Converger: &optimize.FunctionConverge{
					Absolute:   opts.Tol,
					Relative:   opts.Tol,
					Iterations: 10,
				},
				Recorder: rec,
			}
			inner, err := optimize.Minimize(problem, z, settings, &optimize.LBFGS{})
			if ctxErr := ctx.Err(); ctxErr != nil {
				return a.finish(res, p, x, iterations, start), ctxErr
			}
			if errors.Is(err, ErrStopped) {
				return a.finish(res, p, x, iterations, start), ErrStopped
			}
			if inner == nil {
				return nil, fmt.Errorf("solver: inner minimization: %w", err)
			}
			if !floats.HasNaN(inner.X) && !math.IsInf(inner.F, 0) {
				copy(z, inner.X)
			}
			res.Status = inner.Status.String()
			innerOK, innerErr = innerConverged(inner.Status, err), err
			if err != nil {
				log.Debug("inner minimization stopped early", zap.Int("outer", outer), zap.Error(err))
			}
		} else if err := ctx.Err(); err != nil {
			return a.finish(res, p, x, iterations, start), err
		}
		t.expand(x, z)

		prev := viol
		viol = constraintViolation(p, x)
		log.Debug("outer iteration",
			zap.Int("outer", outer),
			zap.Int("iterations", iterations),
			zap.Float64("objective", p.Objective(x)),
			zap.Float64("violation", viol),
			zap.Float64("penalty", mult.rho))

		if viol <= opts.ConstraintTol {
			res.Converged = innerOK
			break
		}
		mult.update(p, x)
		if constrained && viol > 0.25*prev {
			mult.rho = math.Min(mult.rho*opts.PenaltyGrowth, maxPenalty)
		}
	}

	a.finish(res, p, x, iterations, start)
	if !res.Converged {
		log.Warn("solve did not converge",
			zap.Float64("violation", res.Violation),
			zap.Int("outer", res.Outer),
			zap.String("status", res.Status),
			zap.Error(innerErr))
		if res.Violation <= opts.ConstraintTol {
			return res, fmt.Errorf("%w: inner minimization ended with %s", ErrNotConverged, res.Status)
		}
		return res, fmt.Errorf("%w: violation %g after %d outer iterations", ErrNotConverged, res.Violation, res.Outer)
	}
	log.Info("solve converged",
		zap.Float64("objective", res.Objective),
		zap.Int("iterations", res.Iterations),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// innerConverged accepts the statuses gonum reports for a met convergence
// test. Iteration and evaluation limits and failures are not convergence.
func innerConverged(status optimize.Status, err error) bool {
	if err != nil {
		return false
	}
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.FunctionThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

func (a *AugLag) finish(res *Result, p *ocp.Problem, x []float64, iterations int, start time.Time) *Result {
	res.X = append([]float64(nil), x...)
	res.Objective = p.Objective(x)
	res.Violation = constraintViolation(p, x)
	res.Iterations = iterations
	res.Elapsed = time.Since(start)
	return res
}
