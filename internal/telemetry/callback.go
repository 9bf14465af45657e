package telemetry

import (
	"go.uber.org/zap"

	"github.com/san-kum/kiteopt/internal/ocp"
	"github.com/san-kum/kiteopt/internal/solver"
)

// Counter is the iteration count carried across callback invocations.
type Counter struct {
	n int
}

// Next increments and returns the count.
func (c *Counter) Next() int {
	c.n++
	return c.n
}

func (c *Counter) Value() int { return c.n }

func (c *Counter) Reset() { c.n = 0 }

// CallbackOptions configures a Callback.
type CallbackOptions struct {
	// ResetPerStage restarts the iteration count at every homotopy stage
	// instead of counting across the whole run.
	ResetPerStage bool

	// WindParam names the model parameter reported as wind_speed. When the
	// model has no such parameter WindSpeed is reported instead.
	WindParam string
	WindSpeed float64
}

// Callback turns solver iterates into KiteOpt messages on a Publisher.
type Callback struct {
	layout  *ocp.Layout
	pub     *Publisher
	opts    CallbackOptions
	counter Counter
	stage   int
	logger  *zap.Logger

	endTime, wind int
}

func NewCallback(layout *ocp.Layout, pub *Publisher, opts CallbackOptions, logger *zap.Logger) *Callback {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Callback{
		layout:  layout,
		pub:     pub,
		opts:    opts,
		logger:  logger.Named("telemetry"),
		endTime: -1,
		wind:    -1,
	}
	m := layout.Model()
	if r, err := m.Ref(ocp.EndTimeParam); err == nil && r.Kind == ocp.KindParam {
		c.endTime = layout.ParamSlot(r.Index)
	}
	if opts.WindParam != "" {
		if r, err := m.Ref(opts.WindParam); err == nil && r.Kind == ocp.KindParam {
			c.wind = layout.ParamSlot(r.Index)
		}
	}
	return c
}

// BeginStage tags subsequent messages with stage.
func (c *Callback) BeginStage(stage int) {
	c.stage = stage
	if c.opts.ResetPerStage {
		c.counter.Reset()
	}
}

// Iterations is the current iteration count.
func (c *Callback) Iterations() int { return c.counter.Value() }

// Message samples the first sub-node of every interval of x.
func (c *Callback) Message(x []float64) *KiteOpt {
	m := c.layout.Model()
	nk := c.layout.Discretization().NK
	msg := &KiteOpt{
		States:        make([]KiteState, nk),
		Iters:         int32(c.counter.Value()),
		Stage:         uint32(c.stage),
		WindSpeed:     c.opts.WindSpeed,
		StateNames:    m.States,
		ControlNames:  m.Controls,
		ParamNames:    m.Params,
		SchemaVersion: SchemaVersion,
	}
	for k := 0; k < nk; k++ {
		n := c.layout.Node(x, c.layout.IntervalStart(k))
		msg.States[k] = KiteState{X: n.X, U: n.U, P: n.P}
	}
	if c.endTime >= 0 {
		msg.EndTime = x[c.endTime]
	}
	if c.wind >= 0 {
		msg.WindSpeed = x[c.wind]
	}
	return msg
}

// Iterate is a solver.IterationFunc. Publishing is best effort and the
// solve always continues.
func (c *Callback) Iterate(it solver.Iterate) bool {
	c.counter.Next()
	msg := c.Message(it.X)
	if !c.pub.Publish(msg.Marshal()) {
		c.logger.Debug("telemetry dropped", zap.Int("iter", c.counter.Value()), zap.Int("stage", c.stage))
	}
	return true
}
