// Package metrics summarizes an optimized trajectory.
package metrics

import (
	"math"
	"sort"

	"github.com/san-kum/kiteopt/internal/ocp"
)

// Sample is one state node of a trajectory with the control of the interval
// it belongs to.
type Sample struct {
	X map[string]float64
	U map[string]float64
	T float64
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

// Samples walks the state nodes of traj.
func Samples(traj *ocp.Trajectory) []Sample {
	nodes := 0
	for _, v := range traj.States {
		nodes = len(v)
		break
	}
	disc := traj.Discretization
	perInterval := disc.NICP * (disc.Deg + 1)

	out := make([]Sample, nodes)
	for n := range out {
		s := Sample{X: make(map[string]float64, len(traj.States)), U: make(map[string]float64, len(traj.Controls))}
		for name, v := range traj.States {
			s.X[name] = v[n]
		}
		k := n
		if perInterval > 0 {
			k = n / perInterval
		}
		for name, v := range traj.Controls {
			if len(v) == 0 {
				continue
			}
			s.U[name] = v[min(k, len(v)-1)]
		}
		if n < len(traj.Times) {
			s.T = traj.Times[n]
		}
		out[n] = s
	}
	return out
}

// Evaluate resets every metric, feeds it all samples of traj and returns
// the values by name.
func Evaluate(traj *ocp.Trajectory, ms ...Metric) map[string]float64 {
	samples := Samples(traj)
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Reset()
		for _, s := range samples {
			m.Observe(s)
		}
		out[m.Name()] = m.Value()
	}
	return out
}

// PeriodicityError is the largest gap between the first and last node over
// the named states, or over all states when names is empty.
func PeriodicityError(traj *ocp.Trajectory, names ...string) float64 {
	if len(names) == 0 {
		for name := range traj.States {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	worst := 0.0
	for _, name := range names {
		v := traj.States[name]
		if len(v) < 2 {
			continue
		}
		worst = math.Max(worst, math.Abs(v[len(v)-1]-v[0]))
	}
	return worst
}

// Summary evaluates ms and adds the periodicity error of the position and
// velocity states that exist in traj, plus every parameter as param_<name>.
func Summary(traj *ocp.Trajectory, ms ...Metric) map[string]float64 {
	out := Evaluate(traj, ms...)
	var names []string
	for _, name := range []string{"y", "z", "dy", "dz"} {
		if _, ok := traj.States[name]; ok {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		out["periodicity_error"] = PeriodicityError(traj, names...)
	}
	for name, p := range traj.Params {
		out["param_"+name] = p
	}
	return out
}

// Defaults are the metrics recorded with every run.
func Defaults(minAltitude float64) []Metric {
	return []Metric{
		NewControlEffort(),
		NewSpeed(),
		NewEnvelope("altitude_ok", "z", minAltitude, math.Inf(1)),
	}
}
