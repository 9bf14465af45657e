package sweep

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/san-kum/kiteopt/internal/config"
	"github.com/san-kum/kiteopt/internal/ocp"
	"github.com/san-kum/kiteopt/internal/storage"
	"github.com/san-kum/kiteopt/internal/study"
)

// tracking is a params-only study whose optimum sits at the wind speed.
func tracking(cfg *config.Config, logger *zap.Logger) (*ocp.OCP, error) {
	m, err := ocp.NewModel("tracking", nil, nil, []string{"w0", "gamma_homotopy"})
	if err != nil {
		return nil, err
	}
	o, err := ocp.New(m, ocp.Discretization{NK: 1, NICP: 1, Deg: 1}, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Kite.WindSpeed < 0 {
		return nil, errors.New("negative wind")
	}
	w, err := o.Lookup("w0")
	if err != nil {
		return nil, err
	}
	g, err := o.Lookup("gamma_homotopy")
	if err != nil {
		return nil, err
	}
	obj := ocp.Add(ocp.Square(ocp.Sub(w, ocp.Const(cfg.Kite.WindSpeed))), ocp.Scale(-1, g))
	return o, o.SetObjective(obj)
}

func newRunner(t *testing.T) *Runner {
	t.Helper()
	reg := study.NewRegistry()
	reg.Register(study.Study{Name: "tracking", Homotopy: true, Build: tracking})
	st := storage.New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	return &Runner{Registry: reg, Store: st, Workers: 2}
}

func TestWindVariants(t *testing.T) {
	base := config.DefaultConfig()
	vs := WindVariants(base, []float64{6, 8})
	if len(vs) != 2 || vs[1].Name != "wind=8" || vs[1].Config.Kite.WindSpeed != 8 {
		t.Fatalf("unexpected variants %+v", vs)
	}
	if vs[0].Config.Telemetry.Enabled {
		t.Error("sweep variants should not publish telemetry")
	}
	if base.Kite.WindSpeed != 10 {
		t.Error("base config mutated")
	}
}

func TestRun(t *testing.T) {
	r := newRunner(t)
	base := config.DefaultConfig()
	base.Study = "tracking"

	speeds := []float64{4, 7, -1}
	outcomes, err := r.Run(context.Background(), WindVariants(base, speeds))
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	for i, w := range speeds[:2] {
		out := outcomes[i]
		if out.Err != nil {
			t.Errorf("%s: %v", out.Variant, out.Err)
			continue
		}
		traj, err := r.Store.LoadTrajectory(out.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(traj.Params["w0"]-w) > 1e-3 {
			t.Errorf("%s: expected w0 near %g, got %g", out.Variant, w, traj.Params["w0"])
		}
		if traj.Params["gamma_homotopy"] != 1 {
			t.Errorf("%s: expected gamma_homotopy 1, got %g", out.Variant, traj.Params["gamma_homotopy"])
		}
	}

	if outcomes[2].Err == nil || outcomes[2].RunID != "" {
		t.Errorf("expected failed variant without run, got %+v", outcomes[2])
	}

	runs, err := r.Store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 saved runs, got %d", len(runs))
	}
}

func TestRunUnknownStudy(t *testing.T) {
	r := newRunner(t)
	base := config.DefaultConfig()
	base.Study = "nonexistent"

	outcomes, err := r.Run(context.Background(), WindVariants(base, []float64{5}))
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Err == nil {
		t.Error("expected error for unknown study")
	}
}
