package homotopy_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/kiteopt/internal/homotopy"
	"github.com/san-kum/kiteopt/internal/ocp"
	"github.com/san-kum/kiteopt/internal/solver"
	"github.com/san-kum/kiteopt/internal/storage"
	"github.com/san-kum/kiteopt/internal/telemetry"
)

// toyProblem has one state, one control and the continuation parameter.
// Minimizing it pushes gamma_homotopy to its upper bound.
func toyProblem() *ocp.OCP {
	m, err := ocp.NewModel("toy", []string{"x"}, []string{"u"}, []string{homotopy.DefaultParam})
	Expect(err).NotTo(HaveOccurred())
	o, err := ocp.New(m, ocp.Discretization{NK: 3, NICP: 1, Deg: 1}, nil)
	Expect(err).NotTo(HaveOccurred())

	gamma, err := o.Lookup(homotopy.DefaultParam)
	Expect(err).NotTo(HaveOccurred())
	obj := &ocp.Accumulator{}
	obj.Add(ocp.Scale(-1, gamma))
	for n := 0; n < o.Layout().StateNodes(); n++ {
		obj.Add(ocp.Square(ocp.Sub(ocp.Slot(o.Layout().StateSlot(0, n)), ocp.Const(1))))
	}
	for k := 0; k < o.NK(); k++ {
		u, err := o.Lookup("u", ocp.Timestep(k))
		Expect(err).NotTo(HaveOccurred())
		obj.Add(ocp.Square(u))
	}
	Expect(o.SetObjective(obj.Expr())).To(Succeed())

	x0, err := o.Lookup("x", ocp.Timestep(0))
	Expect(err).NotTo(HaveOccurred())
	Expect(o.Constrain(x0, ocp.EQ, ocp.Const(0.5), ocp.Named("initial x"))).To(Succeed())
	return o
}

type call struct {
	x0    []float64
	bound ocp.Bound
}

// fakeSolver records every invocation and returns x0 with one slot bumped.
type fakeSolver struct {
	calls  []call
	failAt int
}

func (f *fakeSolver) Solve(ctx context.Context, p *ocp.Problem, x0 []float64, fn solver.IterationFunc) (*solver.Result, error) {
	slot := p.Layout.ParamSlot(p.Layout.Model().MustRef(homotopy.DefaultParam).Index)
	f.calls = append(f.calls, call{x0: append([]float64(nil), x0...), bound: p.Bounds[slot]})

	x := append([]float64(nil), x0...)
	x[0] += 1
	x[slot] = p.Bounds[slot].Clamp(x[slot])
	if fn != nil {
		fn(solver.Iterate{Iteration: 1, X: x, Objective: float64(len(f.calls))})
	}
	res := &solver.Result{X: x, Objective: float64(len(f.calls)), Iterations: 1, Status: "fake", Converged: true}
	if len(f.calls)-1 == f.failAt {
		res.Converged = false
		return res, fmt.Errorf("%w: fake", solver.ErrNotConverged)
	}
	return res, nil
}

type recordingMonitor struct {
	stages []int
	iters  int
}

func (m *recordingMonitor) BeginStage(stage int) { m.stages = append(m.stages, stage) }

func (m *recordingMonitor) Iterate(it solver.Iterate) bool {
	m.iters++
	return true
}

type memorySender struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *memorySender) Send(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *memorySender) Close() error { return nil }

type failingSender struct{ err error }

func (s failingSender) Send(string, []byte) error { return s.err }
func (s failingSender) Close() error { return nil }

var _ = Describe("Driver", func() {
	var (
		o     *ocp.OCP
		fake  *fakeSolver
		saved []*ocp.Trajectory
		sink  homotopy.Sink
	)

	BeforeEach(func() {
		o = toyProblem()
		fake = &fakeSolver{failAt: -1}
		saved = nil
		sink = homotopy.SinkFunc(func(traj *ocp.Trajectory, report *homotopy.Report) error {
			saved = append(saved, traj)
			return nil
		})
	})

	It("solves each stage once, seeding it with the previous optimum", func() {
		d := &homotopy.Driver{Problem: o, Solver: fake, Stages: homotopy.DefaultStages(), Sink: sink}

		report, err := d.Run(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(fake.calls).To(HaveLen(3))
		Expect(fake.calls[0].bound).To(Equal(ocp.Bound{Lower: 1e-4, Upper: 1e-4}))
		Expect(fake.calls[1].bound).To(Equal(ocp.Bound{Lower: 0, Upper: 1}))
		Expect(fake.calls[2].bound).To(Equal(ocp.Bound{Lower: 1, Upper: 1}))
		Expect(fake.calls[0].x0).To(Equal(o.GuessVector()))
		Expect(fake.calls[1].x0[0]).To(Equal(1.0))
		Expect(fake.calls[2].x0[0]).To(Equal(2.0))

		Expect(report.Stages).To(HaveLen(3))
		Expect(report.Iterations()).To(Equal(3))
		Expect(*report.Stages[2].Bound).To(Equal(homotopy.Stage{Lower: 1, Upper: 1, Forced: true}))
		Expect(report.X[0]).To(Equal(3.0))

		Expect(saved).To(HaveLen(1))
		Expect(saved[0].Params[homotopy.DefaultParam]).To(Equal(1.0))
		Expect(saved[0].Stage).To(Equal(2))
		Expect(saved[0].Iteration).To(Equal(3))
	})

	It("starts from an explicit initial point", func() {
		x0 := make([]float64, o.Layout().Len())
		x0[0] = 10
		d := &homotopy.Driver{Problem: o, Solver: fake, Stages: homotopy.DefaultStages()}

		_, err := d.Run(context.Background(), x0)
		Expect(err).NotTo(HaveOccurred())
		Expect(fake.calls[0].x0[0]).To(Equal(10.0))
	})

	It("tells the monitor about every stage", func() {
		mon := &recordingMonitor{}
		d := &homotopy.Driver{Problem: o, Solver: fake, Stages: homotopy.DefaultStages(), Monitor: mon}

		_, err := d.Run(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(mon.stages).To(Equal([]int{0, 1, 2}))
		Expect(mon.iters).To(Equal(3))
	})

	It("solves once when there are no stages", func() {
		d := &homotopy.Driver{Problem: o, Solver: fake, Sink: sink}

		report, err := d.Run(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(fake.calls).To(HaveLen(1))
		Expect(fake.calls[0].bound).To(Equal(ocp.Unbounded))
		Expect(report.Stages).To(HaveLen(1))
		Expect(report.Stages[0].Bound).To(BeNil())
		Expect(saved).To(HaveLen(1))
	})

	It("stops at the first stage that does not converge", func() {
		fake.failAt = 1
		d := &homotopy.Driver{Problem: o, Solver: fake, Stages: homotopy.DefaultStages(), Sink: sink}

		report, err := d.Run(context.Background(), nil)
		Expect(report).To(BeNil())
		Expect(errors.Is(err, solver.ErrNotConverged)).To(BeTrue())

		var stageErr *homotopy.StageError
		Expect(errors.As(err, &stageErr)).To(BeTrue())
		Expect(stageErr.Stage).To(Equal(1))
		Expect(stageErr.Bound.Upper).To(Equal(1.0))
		Expect(fake.calls).To(HaveLen(2))
		Expect(saved).To(BeEmpty())
	})

	It("refuses to rebound the parameter unless the stage is forced", func() {
		Expect(o.Bound(homotopy.DefaultParam, 0, 0)).To(Succeed())
		d := &homotopy.Driver{Problem: o, Solver: fake, Stages: []homotopy.Stage{{Lower: 0, Upper: 1}}}

		_, err := d.Run(context.Background(), nil)
		Expect(errors.Is(err, ocp.ErrBoundAlreadySet)).To(BeTrue())
		Expect(fake.calls).To(BeEmpty())

		d.Stages[0].Forced = true
		_, err = d.Run(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(fake.calls[0].bound).To(Equal(ocp.Bound{Lower: 0, Upper: 1}))
	})

	It("fails when the result cannot be persisted", func() {
		d := &homotopy.Driver{
			Problem: o,
			Solver:  fake,
			Stages:  homotopy.DefaultStages(),
			Sink: homotopy.SinkFunc(func(*ocp.Trajectory, *homotopy.Report) error {
				return errors.New("disk full")
			}),
		}

		_, err := d.Run(context.Background(), nil)
		Expect(err).To(MatchError(ContainSubstring("persist result")))
		var stageErr *homotopy.StageError
		Expect(errors.As(err, &stageErr)).To(BeFalse())
	})

	It("does not start a stage after cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d := &homotopy.Driver{Problem: o, Solver: fake, Stages: homotopy.DefaultStages()}

		_, err := d.Run(ctx, nil)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(fake.calls).To(BeEmpty())
	})

	It("rejects a driver without a solver or problem", func() {
		_, err := (&homotopy.Driver{Problem: o}).Run(context.Background(), nil)
		Expect(err).To(MatchError(homotopy.ErrNoSolver))
		_, err = (&homotopy.Driver{Solver: fake}).Run(context.Background(), nil)
		Expect(err).To(MatchError(homotopy.ErrNoProblem))
	})
})

var _ = Describe("Sweep with the bundled solver", func() {
	It("publishes telemetry and persists a run with the parameter at one", func() {
		o := toyProblem()
		aug, err := solver.NewAugLag(solver.DefaultOptions(), nil)
		Expect(err).NotTo(HaveOccurred())

		var invocations int
		counting := solver.Func(func(ctx context.Context, p *ocp.Problem, x0 []float64, fn solver.IterationFunc) (*solver.Result, error) {
			invocations++
			return aug.Solve(ctx, p, x0, fn)
		})

		sender := &memorySender{}
		pub := telemetry.NewPublisher(sender, telemetry.DefaultTopic, 4096, nil)
		cb := telemetry.NewCallback(o.Layout(), pub, telemetry.CallbackOptions{}, nil)

		store := storage.New(GinkgoT().TempDir())
		Expect(store.Init()).To(Succeed())
		runSink := &storage.RunSink{Store: store, Study: "toy"}

		d := &homotopy.Driver{
			Problem: o,
			Solver:  counting,
			Stages:  homotopy.DefaultStages(),
			Monitor: cb,
			Sink:    runSink,
		}
		report, err := d.Run(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(pub.Close()).To(Succeed())

		Expect(invocations).To(Equal(3))
		Expect(*report.Stages[2].Bound).To(Equal(homotopy.Stage{Lower: 1, Upper: 1, Forced: true}))
		Expect(report.Final.States["x"][0]).To(BeNumerically("~", 0.5, 1e-3))

		Expect(runSink.RunID).NotTo(BeEmpty())
		traj, err := store.LoadTrajectory(runSink.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(traj.Params[homotopy.DefaultParam]).To(Equal(1.0))

		meta, err := store.Load(runSink.RunID)
		Expect(err).NotTo(HaveOccurred())
		Expect(meta.Stages).To(HaveLen(3))
		Expect(meta.Param).To(Equal(homotopy.DefaultParam))

		Expect(pub.Stats().Sent).To(BeNumerically(">", 0))
		sender.mu.Lock()
		last := sender.payloads[len(sender.payloads)-1]
		sender.mu.Unlock()
		msg, err := telemetry.Unmarshal(last)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.States).To(HaveLen(3))
		Expect(msg.Stage).To(BeNumerically("<=", 2))
		Expect(int(msg.Iters)).To(BeNumerically(">", 0))
		Expect(int(msg.Iters)).To(BeNumerically("<=", cb.Iterations()))
	})

	It("reaches the same optimum whether or not telemetry can be delivered", func() {
		solveWith := func(sender telemetry.Sender) (*homotopy.Report, telemetry.Stats) {
			o := toyProblem()
			aug, err := solver.NewAugLag(solver.DefaultOptions(), nil)
			Expect(err).NotTo(HaveOccurred())
			pub := telemetry.NewPublisher(sender, telemetry.DefaultTopic, 4096, nil)
			d := &homotopy.Driver{
				Problem: o,
				Solver:  aug,
				Stages:  homotopy.DefaultStages(),
				Monitor: telemetry.NewCallback(o.Layout(), pub, telemetry.CallbackOptions{}, nil),
			}
			report, err := d.Run(context.Background(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(pub.Close()).To(Succeed())
			return report, pub.Stats()
		}

		working, okStats := solveWith(&memorySender{})
		broken, badStats := solveWith(failingSender{err: errors.New("connection refused")})

		Expect(okStats.Sent).To(BeNumerically(">", 0))
		Expect(badStats.Sent).To(BeZero())
		Expect(badStats.Failed + badStats.Dropped).To(Equal(badStats.Published))
		Expect(broken.X).To(Equal(working.X))
		Expect(broken.Iterations()).To(Equal(working.Iterations()))
	})
})
