package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/kiteopt/internal/ocp"
)

// loop is a two-interval trajectory with one sub-node per interval.
func loop() *ocp.Trajectory {
	return &ocp.Trajectory{
		Discretization: ocp.Discretization{NK: 2, NICP: 1, Deg: 1},
		States: map[string][]float64{
			"z":  {1, 2, 0.2, 3, 1.5},
			"dx": {3, 0, 0, 0, 3},
			"dy": {4, 1, 0, 0, 4},
			"dz": {0, 0, 2, 0, 0},
		},
		Controls: map[string][]float64{
			"u": {1, -2},
		},
		Params: map[string]float64{"endTime": 4},
		Times:  []float64{0, 1, 2, 3, 4},
	}
}

func TestSamples(t *testing.T) {
	samples := Samples(loop())
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	wantU := []float64{1, 1, -2, -2, -2}
	for n, s := range samples {
		if s.U["u"] != wantU[n] {
			t.Errorf("node %d: expected u=%g, got %g", n, wantU[n], s.U["u"])
		}
		if s.T != float64(n) {
			t.Errorf("node %d: expected t=%d, got %g", n, n, s.T)
		}
	}
}

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	v := Evaluate(loop(), m)["control_effort"]
	if math.Abs(v-8.0/5) > 1e-12 {
		t.Errorf("expected 1.6, got %g", v)
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero effort after reset")
	}
}

func TestSpeed(t *testing.T) {
	m := NewSpeed()
	v := Evaluate(loop(), m)["mean_speed"]
	if math.Abs(v-(5+1+2+0+5)/5.0) > 1e-12 {
		t.Errorf("unexpected mean speed %g", v)
	}
	if m.Peak() != 5 {
		t.Errorf("expected peak 5, got %g", m.Peak())
	}
}

func TestEnvelope(t *testing.T) {
	tests := []struct {
		lo, hi float64
		want   float64
	}{
		{0.5, math.Inf(1), 0.8},
		{0, 10, 1},
		{5, 10, 0},
	}
	for _, tt := range tests {
		m := NewEnvelope("altitude_ok", "z", tt.lo, tt.hi)
		if got := Evaluate(loop(), m)["altitude_ok"]; math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("[%g, %g]: expected %g, got %g", tt.lo, tt.hi, tt.want, got)
		}
	}

	if v := NewEnvelope("x_ok", "x", 0, 1).Value(); v != 1 {
		t.Errorf("expected 1 without samples, got %g", v)
	}
}

func TestSummary(t *testing.T) {
	s := Summary(loop(), Defaults(0.5)...)

	if s["periodicity_error"] != 0.5 {
		t.Errorf("expected periodicity error 0.5, got %g", s["periodicity_error"])
	}
	if s["param_endTime"] != 4 {
		t.Errorf("expected param_endTime 4, got %g", s["param_endTime"])
	}
	for _, name := range []string{"control_effort", "mean_speed", "altitude_ok"} {
		if _, ok := s[name]; !ok {
			t.Errorf("missing %s", name)
		}
	}
}
