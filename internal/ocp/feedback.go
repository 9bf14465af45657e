package ocp

import (
	"fmt"
	"math"
	"sort"
)

// ActiveBound is a decision slot sitting at, or within a threshold of, one
// of its bounds.
type ActiveBound struct {
	Slot  SlotInfo
	Value float64
	Bound Bound
	Side  string
}

func (a ActiveBound) String() string {
	return fmt.Sprintf("%-28s %-5s %12.6g in [%g, %g]", a.Slot, a.Side, a.Value, a.Bound.Lower, a.Bound.Upper)
}

// BoundsFeedback lists slots of x whose distance to a finite bound is at
// most threshold. Fixed slots are skipped.
func (p *Problem) BoundsFeedback(x []float64, threshold float64) ([]ActiveBound, error) {
	if len(x) != len(p.Bounds) {
		return nil, fmt.Errorf("%w: vector has %d entries, problem %d", ErrDimensionMismatch, len(x), len(p.Bounds))
	}
	var out []ActiveBound
	for i, b := range p.Bounds {
		if b.Fixed() {
			continue
		}
		side := ""
		switch {
		case !math.IsInf(b.Lower, -1) && x[i]-b.Lower <= threshold:
			side = "lower"
		case !math.IsInf(b.Upper, 1) && b.Upper-x[i] <= threshold:
			side = "upper"
		default:
			continue
		}
		info, err := p.Layout.Describe(i)
		if err != nil {
			return nil, err
		}
		out = append(out, ActiveBound{Slot: info, Value: x[i], Bound: b, Side: side})
	}
	return out, nil
}

// Violation aggregates constraint residuals sharing a tag name.
type Violation struct {
	Name  string
	Count int
	Max   float64
}

// ConstraintReport evaluates every constraint at x and returns the worst
// residual per tag name, largest first.
func (p *Problem) ConstraintReport(x []float64) []Violation {
	agg := make(map[string]*Violation)
	add := func(tag Tag, r float64) {
		v, ok := agg[tag.Name]
		if !ok {
			v = &Violation{Name: tag.Name}
			agg[tag.Name] = v
		}
		v.Count++
		v.Max = math.Max(v.Max, r)
	}
	for _, c := range p.Eq {
		add(c.Tag, math.Abs(c.Fn(x)))
	}
	for _, c := range p.Ineq {
		add(c.Tag, math.Max(0, -c.Fn(x)))
	}
	out := make([]Violation, 0, len(agg))
	for _, v := range agg {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Max != out[j].Max {
			return out[i].Max > out[j].Max
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// MaxViolation is the largest residual over all constraints and bounds.
func (p *Problem) MaxViolation(x []float64) float64 {
	worst := 0.0
	for _, c := range p.Eq {
		worst = math.Max(worst, math.Abs(c.Fn(x)))
	}
	for _, c := range p.Ineq {
		worst = math.Max(worst, -c.Fn(x))
	}
	for i, b := range p.Bounds {
		worst = math.Max(worst, b.Lower-x[i])
		worst = math.Max(worst, x[i]-b.Upper)
	}
	return worst
}
