package storage

import (
	"github.com/san-kum/kiteopt/internal/homotopy"
	"github.com/san-kum/kiteopt/internal/ocp"
)

// RunSink saves the final trajectory of a homotopy sweep as a new run.
type RunSink struct {
	Store   *Store
	Study   string
	Variant string
	Metrics func(traj *ocp.Trajectory) map[string]float64

	// RunID is set after a successful save.
	RunID string
}

func (r *RunSink) Save(traj *ocp.Trajectory, report *homotopy.Report) error {
	meta := RunMetadata{
		Study:      r.Study,
		Variant:    r.Variant,
		Iterations: traj.Iteration,
		Objective:  traj.Objective,
		Elapsed:    traj.Elapsed,
	}
	if report != nil {
		meta.Param = report.Param
		meta.Stages = report.Stages
	}
	if r.Metrics != nil {
		meta.Metrics = r.Metrics(traj)
	}
	runID, err := r.Store.Save(meta, traj)
	if err != nil {
		return err
	}
	r.RunID = runID
	return nil
}
