// Package sweep solves several variants of a study concurrently, one
// homotopy run per variant.
package sweep

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/kiteopt/internal/config"
	"github.com/san-kum/kiteopt/internal/homotopy"
	"github.com/san-kum/kiteopt/internal/metrics"
	"github.com/san-kum/kiteopt/internal/ocp"
	"github.com/san-kum/kiteopt/internal/solver"
	"github.com/san-kum/kiteopt/internal/storage"
	"github.com/san-kum/kiteopt/internal/study"
)

// Variant is one configuration of the sweep.
type Variant struct {
	Name   string
	Config *config.Config
}

// Outcome is the result of one variant. Err is set when the variant failed;
// the other variants are unaffected.
type Outcome struct {
	Variant string
	RunID   string
	Report  *homotopy.Report
	Err     error
}

type Runner struct {
	Registry *study.Registry
	Store    *storage.Store
	// Workers bounds concurrent solves; zero means GOMAXPROCS.
	Workers int
	Logger  *zap.Logger
}

// WindVariants copies base once per wind speed.
func WindVariants(base *config.Config, speeds []float64) []Variant {
	out := make([]Variant, len(speeds))
	for i, w := range speeds {
		cfg := base.Clone()
		cfg.Kite.WindSpeed = w
		cfg.Telemetry.Enabled = false
		out[i] = Variant{Name: fmt.Sprintf("wind=%g", w), Config: cfg}
	}
	return out
}

// Run solves every variant and returns the outcomes in input order. The
// error is non-nil only when ctx was cancelled.
func (r *Runner) Run(ctx context.Context, variants []Variant) ([]Outcome, error) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	outcomes := make([]Outcome, len(variants))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			outcomes[i] = r.solve(ctx, v, log.With(zap.String("variant", v.Name)))
			return ctx.Err()
		})
	}
	err := g.Wait()
	return outcomes, err
}

func (r *Runner) solve(ctx context.Context, v Variant, log *zap.Logger) Outcome {
	out := Outcome{Variant: v.Name}
	cfg := v.Config

	s, err := r.Registry.Get(cfg.Study)
	if err != nil {
		out.Err = err
		return out
	}
	o, err := s.Build(cfg, log)
	if err != nil {
		out.Err = err
		return out
	}
	nlp, err := solver.NewAugLag(cfg.Solver, log)
	if err != nil {
		out.Err = err
		return out
	}
	sink := &storage.RunSink{
		Store:   r.Store,
		Study:   cfg.Study,
		Variant: v.Name,
		Metrics: func(traj *ocp.Trajectory) map[string]float64 {
			return metrics.Summary(traj, metrics.Defaults(cfg.Kite.MinAltitude)...)
		},
	}
	d := &homotopy.Driver{
		Problem: o,
		Solver:  nlp,
		Param:   cfg.Homotopy.Param,
		Sink:    sink,
		Logger:  log,
	}
	if s.Homotopy {
		d.Stages = cfg.Homotopy.Stages
	}

	out.Report, out.Err = d.Run(ctx, nil)
	out.RunID = sink.RunID
	if out.Err != nil {
		log.Warn("variant failed", zap.Error(out.Err))
	}
	return out
}
