// Package homotopy re-solves a problem over an ordered sequence of bounds on
// a continuation parameter, seeding each solve with the previous optimum.
package homotopy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/kiteopt/internal/ocp"
	"github.com/san-kum/kiteopt/internal/solver"
)

// DefaultParam is the continuation parameter of the kite studies.
const DefaultParam = "gamma_homotopy"

var (
	ErrNoSolver  = errors.New("homotopy: solver is nil")
	ErrNoProblem = errors.New("homotopy: problem is nil")
)

// Stage is one continuation step: the parameter is bounded to
// [Lower, Upper] before solving, overriding an existing bound when Forced.
type Stage struct {
	Lower  float64 `yaml:"lower" json:"lower" msgpack:"lower"`
	Upper  float64 `yaml:"upper" json:"upper" msgpack:"upper"`
	Forced bool    `yaml:"forced" json:"forced" msgpack:"forced"`
}

// DefaultStages fixes the parameter near zero, frees it on [0, 1], then
// fixes it at one.
func DefaultStages() []Stage {
	return []Stage{
		{Lower: 1e-4, Upper: 1e-4, Forced: true},
		{Lower: 0, Upper: 1, Forced: true},
		{Lower: 1, Upper: 1, Forced: true},
	}
}

// StageError reports the stage a sweep failed in.
type StageError struct {
	Stage int
	Bound Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("homotopy: stage %d [%g, %g]: %v", e.Stage, e.Bound.Lower, e.Bound.Upper, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Monitor observes the sweep. telemetry.Callback implements it.
type Monitor interface {
	BeginStage(stage int)
	Iterate(it solver.Iterate) bool
}

// Sink persists the final trajectory of a sweep.
type Sink interface {
	Save(traj *ocp.Trajectory, report *Report) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(traj *ocp.Trajectory, report *Report) error

func (f SinkFunc) Save(traj *ocp.Trajectory, report *Report) error { return f(traj, report) }

// StageSummary records the outcome of one solve.
type StageSummary struct {
	Stage      int           `json:"stage" msgpack:"stage"`
	Bound      *Stage        `json:"bound,omitempty" msgpack:"bound,omitempty"`
	Iterations int           `json:"iterations" msgpack:"iterations"`
	Objective  float64       `json:"objective" msgpack:"objective"`
	Violation  float64       `json:"violation" msgpack:"violation"`
	Status     string        `json:"status" msgpack:"status"`
	Elapsed    time.Duration `json:"elapsed" msgpack:"elapsed"`
}

// Report is the result of a completed sweep.
type Report struct {
	Param   string          `json:"param" msgpack:"param"`
	Stages  []StageSummary  `json:"stages" msgpack:"stages"`
	Elapsed time.Duration   `json:"elapsed" msgpack:"elapsed"`
	X       []float64       `json:"-" msgpack:"-"`
	Final   *ocp.Trajectory `json:"-" msgpack:"-"`
}

// Iterations sums solver iterations over all stages.
func (r *Report) Iterations() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Iterations
	}
	return n
}

// Driver runs a homotopy sweep over an assembled problem.
type Driver struct {
	Problem *ocp.OCP
	Solver  solver.Solver
	Param   string
	Stages  []Stage
	Monitor Monitor
	Sink    Sink
	Logger  *zap.Logger
}

// Run solves every stage in order starting from x0, or from the problem's
// guess when x0 is nil. With no stages the problem is solved once as
// assembled. Any stage failure ends the sweep; nothing is persisted then.
func (d *Driver) Run(ctx context.Context, x0 []float64) (*Report, error) {
	if d.Problem == nil {
		return nil, ErrNoProblem
	}
	if d.Solver == nil {
		return nil, ErrNoSolver
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("homotopy")
	param := d.Param
	if param == "" {
		param = DefaultParam
	}

	x := x0
	if x == nil {
		x = d.Problem.GuessVector()
	}
	var fn solver.IterationFunc
	if d.Monitor != nil {
		fn = d.Monitor.Iterate
	}

	stages := make([]*Stage, len(d.Stages))
	for i := range d.Stages {
		stages[i] = &d.Stages[i]
	}
	if len(stages) == 0 {
		stages = []*Stage{nil}
	}

	start := time.Now()
	report := &Report{Param: param}
	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, stageErr(i, st, err)
		}
		if st != nil {
			var opts []ocp.BoundOption
			if st.Forced {
				opts = append(opts, ocp.Force())
			}
			if err := d.Problem.Bound(param, st.Lower, st.Upper, opts...); err != nil {
				return nil, stageErr(i, st, err)
			}
		}
		p, err := d.Problem.Problem()
		if err != nil {
			return nil, stageErr(i, st, err)
		}

		if d.Monitor != nil {
			d.Monitor.BeginStage(i)
		}
		log.Info("stage started", stageFields(i, st)...)
		res, err := d.Solver.Solve(ctx, p, x, fn)
		if err != nil {
			return nil, stageErr(i, st, err)
		}
		x = res.X

		summary := StageSummary{
			Stage:      i,
			Iterations: res.Iterations,
			Objective:  res.Objective,
			Violation:  res.Violation,
			Status:     res.Status,
			Elapsed:    res.Elapsed,
		}
		if st != nil {
			b := *st
			summary.Bound = &b
		}
		report.Stages = append(report.Stages, summary)
		log.Info("stage finished", append(stageFields(i, st),
			zap.Int("iterations", res.Iterations),
			zap.Float64("objective", res.Objective),
			zap.Duration("elapsed", res.Elapsed))...)
	}
	report.Elapsed = time.Since(start)

	traj, err := d.Problem.Decode(x)
	if err != nil {
		return nil, fmt.Errorf("homotopy: decode result: %w", err)
	}
	last := report.Stages[len(report.Stages)-1]
	traj.Stage = last.Stage
	traj.Iteration = report.Iterations()
	traj.Elapsed = report.Elapsed
	traj.Objective = last.Objective
	report.X = x
	report.Final = traj

	if d.Sink != nil {
		if err := d.Sink.Save(traj, report); err != nil {
			return nil, fmt.Errorf("homotopy: persist result: %w", err)
		}
	}
	return report, nil
}

func stageErr(i int, st *Stage, err error) error {
	e := &StageError{Stage: i, Err: err}
	if st != nil {
		e.Bound = *st
	}
	return e
}

func stageFields(i int, st *Stage) []zap.Field {
	fields := []zap.Field{zap.Int("stage", i)}
	if st != nil {
		fields = append(fields,
			zap.Float64("lower", st.Lower),
			zap.Float64("upper", st.Upper),
			zap.Bool("forced", st.Forced))
	}
	return fields
}
