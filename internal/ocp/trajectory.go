package ocp

import (
	"fmt"
	"sort"
	"time"
)

// EndTimeParam is the horizon parameter used to place nodes in time.
const EndTimeParam = "endTime"

// Trajectory is a decision vector decoded into named arrays.
type Trajectory struct {
	Model          string               `json:"model" msgpack:"model"`
	Discretization Discretization       `json:"discretization" msgpack:"discretization"`
	States         map[string][]float64 `json:"states" msgpack:"states"`
	Controls       map[string][]float64 `json:"controls" msgpack:"controls"`
	Params         map[string]float64   `json:"params" msgpack:"params"`
	Times          []float64            `json:"times" msgpack:"times"`

	Iteration int           `json:"iteration" msgpack:"iteration"`
	Stage     int           `json:"stage" msgpack:"stage"`
	Elapsed   time.Duration `json:"elapsed" msgpack:"elapsed"`
	Objective float64       `json:"objective" msgpack:"objective"`
}

// Names returns every state, control and parameter name in sorted order.
func (t *Trajectory) Names() []string {
	names := make([]string, 0, len(t.States)+len(t.Controls)+len(t.Params))
	for n := range t.States {
		names = append(names, n)
	}
	for n := range t.Controls {
		names = append(names, n)
	}
	for n := range t.Params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Series returns the time series of a state or control, and the matching
// time grid. Parameters come back as a constant series over the state grid.
func (t *Trajectory) Series(name string) ([]float64, []float64, error) {
	if v, ok := t.States[name]; ok {
		return t.Times, v, nil
	}
	if v, ok := t.Controls[name]; ok {
		times := make([]float64, len(v))
		if len(v) > 0 && len(t.Times) > 0 {
			T := t.Times[len(t.Times)-1]
			for k := range times {
				times[k] = T * float64(k) / float64(len(v))
			}
		}
		return times, v, nil
	}
	if p, ok := t.Params[name]; ok {
		v := make([]float64, len(t.Times))
		for i := range v {
			v[i] = p
		}
		return t.Times, v, nil
	}
	return nil, nil, &LookupError{Name: name, Wrapped: ErrUnknownVariable}
}

// Decode splits v into named arrays.
func (l *Layout) Decode(v []float64) (*Trajectory, error) {
	if len(v) != l.size {
		return nil, fmt.Errorf("%w: vector has %d entries, layout %d", ErrDimensionMismatch, len(v), l.size)
	}
	m := l.model
	t := &Trajectory{
		Model:          m.Name,
		Discretization: l.disc,
		States:         make(map[string][]float64, l.nx),
		Controls:       make(map[string][]float64, l.nu),
		Params:         make(map[string]float64, l.np),
	}
	for si, name := range m.States {
		series := make([]float64, l.stateNodes)
		for n := range series {
			series[n] = v[l.StateSlot(si, n)]
		}
		t.States[name] = series
	}
	for ci, name := range m.Controls {
		series := make([]float64, l.disc.NK)
		for k := range series {
			series[k] = v[l.ControlSlot(ci, k)]
		}
		t.Controls[name] = series
	}
	for pi, name := range m.Params {
		t.Params[name] = v[l.ParamSlot(pi)]
	}
	T := 1.0
	if et, ok := t.Params[EndTimeParam]; ok && et > 0 {
		T = et
	}
	t.Times = l.NodeTimes(T)
	return t, nil
}

// Encode flattens a trajectory back into a decision vector. Every model
// variable must be present with the layout's length.
func (l *Layout) Encode(t *Trajectory) ([]float64, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil trajectory", ErrDimensionMismatch)
	}
	m := l.model
	v := make([]float64, l.size)
	for si, name := range m.States {
		series, ok := t.States[name]
		if !ok {
			return nil, fmt.Errorf("%w: state %q missing", ErrDimensionMismatch, name)
		}
		if len(series) != l.stateNodes {
			return nil, fmt.Errorf("%w: state %q has %d nodes, want %d", ErrDimensionMismatch, name, len(series), l.stateNodes)
		}
		for n, x := range series {
			v[l.StateSlot(si, n)] = x
		}
	}
	for ci, name := range m.Controls {
		series, ok := t.Controls[name]
		if !ok {
			return nil, fmt.Errorf("%w: control %q missing", ErrDimensionMismatch, name)
		}
		if len(series) != l.disc.NK {
			return nil, fmt.Errorf("%w: control %q has %d intervals, want %d", ErrDimensionMismatch, name, len(series), l.disc.NK)
		}
		for k, u := range series {
			v[l.ControlSlot(ci, k)] = u
		}
	}
	for pi, name := range m.Params {
		p, ok := t.Params[name]
		if !ok {
			return nil, fmt.Errorf("%w: param %q missing", ErrDimensionMismatch, name)
		}
		v[l.ParamSlot(pi)] = p
	}
	return v, nil
}
