package ocp

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Bound is a closed interval; infinite endpoints mean unbounded.
type Bound struct {
	Lower float64 `json:"lower" msgpack:"lower"`
	Upper float64 `json:"upper" msgpack:"upper"`
}

// Unbounded is the default bound of every slot.
var Unbounded = Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}

func (b Bound) Fixed() bool { return b.Lower == b.Upper }

func (b Bound) Contains(x float64) bool { return x >= b.Lower && x <= b.Upper }

// Clamp projects x into the interval.
func (b Bound) Clamp(x float64) float64 {
	return math.Min(math.Max(x, b.Lower), b.Upper)
}

// Op is a constraint comparison.
type Op int

const (
	EQ Op = iota
	LE
	GE
)

func (o Op) String() string {
	switch o {
	case EQ:
		return "=="
	case LE:
		return "<="
	case GE:
		return ">="
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Tag labels a constraint for diagnostics, e.g. {"line angle", 3}.
type Tag struct {
	Name  string
	Index int
}

// Named is a tag without an index.
func Named(name string) Tag { return Tag{Name: name, Index: -1} }

// Indexed is a tag for the k-th member of a family of constraints.
func Indexed(name string, k int) Tag { return Tag{Name: name, Index: k} }

func (t Tag) String() string {
	if t.Index < 0 {
		return t.Name
	}
	return fmt.Sprintf("%s[%d]", t.Name, t.Index)
}

// Constraint is normalized to Fn(v) == 0 for equalities and Fn(v) >= 0
// for inequalities.
type Constraint struct {
	Fn  Expr
	Tag Tag
}

type boundOrigin uint8

const (
	originNone boundOrigin = iota
	originWhole
	originTimestep
)

// OCP accumulates bounds, constraints, guesses and the objective over a
// layout.
type OCP struct {
	layout *Layout
	logger *zap.Logger

	bounds    []Bound
	origin    []boundOrigin
	guess     []float64
	guessed   []bool
	objective Expr
	eq        []Constraint
	ineq      []Constraint
}

// New creates an empty problem over model m. A nil logger discards output.
func New(m *Model, disc Discretization, logger *zap.Logger) (*OCP, error) {
	layout, err := NewLayout(m, disc)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := layout.Len()
	o := &OCP{
		layout:  layout,
		logger:  logger.Named("ocp"),
		bounds:  make([]Bound, n),
		origin:  make([]boundOrigin, n),
		guess:   make([]float64, n),
		guessed: make([]bool, n),
	}
	for i := range o.bounds {
		o.bounds[i] = Unbounded
	}
	return o, nil
}

func (o *OCP) Layout() *Layout { return o.layout }
func (o *OCP) Model() *Model   { return o.layout.model }

// NK returns the number of control intervals.
func (o *OCP) NK() int { return o.layout.disc.NK }

// At selects a collocation point for Lookup and Guess.
type At func(*position)

type position struct {
	k, i, j int
	hasK    bool
	hasSub  bool
}

// Timestep selects interval k; negative values count from the end.
func Timestep(k int) At {
	return func(p *position) { p.k, p.hasK = k, true }
}

// SubInterval selects the sub-interval inside a timestep.
func SubInterval(i int) At {
	return func(p *position) { p.i, p.hasSub = i, true }
}

// Point selects the collocation point inside a sub-interval.
func Point(j int) At {
	return func(p *position) { p.j, p.hasSub = j, true }
}

func resolve(opts []At) position {
	var p position
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (p position) String() string {
	if !p.hasK {
		return ""
	}
	return fmt.Sprintf("at timestep=%d nicpIdx=%d degIdx=%d", p.k, p.i, p.j)
}

func (o *OCP) lookupErr(name string, p position, err error) error {
	return &LookupError{Name: name, Request: p.String(), Wrapped: err}
}

func (o *OCP) node(name string, p position) (int, error) {
	if !p.hasK {
		return 0, o.lookupErr(name, p, ErrTimestepRequired)
	}
	node, err := o.layout.NodeIndex(p.k, p.i, p.j)
	if err != nil {
		return 0, o.lookupErr(name, p, fmt.Errorf("%w: %v", ErrIndexRange, err))
	}
	return node, nil
}

// Lookup resolves a state, control, parameter or output to an expression
// over the decision vector. States, controls and outputs need a Timestep;
// parameters take none. Only states and outputs have sub-nodes.
func (o *OCP) Lookup(name string, opts ...At) (Expr, error) {
	ref, err := o.Model().Ref(name)
	if err != nil {
		return nil, err
	}
	p := resolve(opts)
	if p.hasSub && (ref.Kind == KindParam || ref.Kind == KindControl) {
		return nil, o.lookupErr(name, p, fmt.Errorf("%w: only states and outputs have sub-nodes", ErrIndexRange))
	}
	switch ref.Kind {
	case KindParam:
		if p.hasK {
			return nil, o.lookupErr(name, p, fmt.Errorf("%w: parameters have no timestep", ErrIndexRange))
		}
		return Slot(o.layout.ParamSlot(ref.Index)), nil
	case KindState:
		node, err := o.node(name, p)
		if err != nil {
			return nil, err
		}
		return Slot(o.layout.StateSlot(ref.Index, node)), nil
	case KindControl:
		if !p.hasK {
			return nil, o.lookupErr(name, p, ErrTimestepRequired)
		}
		k, err := o.layout.IntervalIndex(p.k)
		if err != nil {
			return nil, o.lookupErr(name, p, fmt.Errorf("%w: %v", ErrIndexRange, err))
		}
		return Slot(o.layout.ControlSlot(ref.Index, k)), nil
	}
	node, err := o.node(name, p)
	if err != nil {
		return nil, err
	}
	fn, layout := o.Model().output(name), o.layout
	return func(v []float64) float64 {
		return fn(layout.Node(v, node))
	}, nil
}

// slots returns the decision slots a name covers, either every slot of the
// variable or only those at timestep k.
func (o *OCP) slots(name string, k int, hasK bool) ([]int, error) {
	ref, err := o.Model().Ref(name)
	if err != nil {
		return nil, err
	}
	p := position{k: k, hasK: hasK}
	switch ref.Kind {
	case KindParam:
		if hasK {
			return nil, o.lookupErr(name, p, fmt.Errorf("%w: parameters have no timestep", ErrIndexRange))
		}
		return []int{o.layout.ParamSlot(ref.Index)}, nil
	case KindState:
		if hasK {
			node, err := o.node(name, p)
			if err != nil {
				return nil, err
			}
			return []int{o.layout.StateSlot(ref.Index, node)}, nil
		}
		out := make([]int, o.layout.StateNodes())
		for n := range out {
			out[n] = o.layout.StateSlot(ref.Index, n)
		}
		return out, nil
	case KindControl:
		if hasK {
			kk, err := o.layout.IntervalIndex(k)
			if err != nil {
				return nil, o.lookupErr(name, p, fmt.Errorf("%w: %v", ErrIndexRange, err))
			}
			return []int{o.layout.ControlSlot(ref.Index, kk)}, nil
		}
		out := make([]int, o.NK())
		for kk := range out {
			out[kk] = o.layout.ControlSlot(ref.Index, kk)
		}
		return out, nil
	}
	return nil, &LookupError{Name: name, Wrapped: ErrNotDecision}
}

// BoundOption modifies a Bound call.
type BoundOption func(*boundOpts)

type boundOpts struct {
	k     int
	hasK  bool
	force bool
	quiet bool
}

// AtTimestep restricts a bound to the main node of timestep k.
func AtTimestep(k int) BoundOption {
	return func(b *boundOpts) { b.k, b.hasK = k, true }
}

// Force overrides any bound already set on the affected slots.
func Force() BoundOption {
	return func(b *boundOpts) { b.force = true }
}

// Quiet suppresses the override log line.
func Quiet() BoundOption {
	return func(b *boundOpts) { b.quiet = true }
}

// Bound sets the interval [lo, hi] on a decision variable. Re-bounding a
// slot fails with ErrBoundAlreadySet unless Force is given or a
// timestep-specific bound refines a whole-variable one. Nothing is changed
// when an error is returned.
func (o *OCP) Bound(name string, lo, hi float64, opts ...BoundOption) error {
	var bo boundOpts
	for _, opt := range opts {
		opt(&bo)
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi || math.IsInf(lo, 1) || math.IsInf(hi, -1) {
		return fmt.Errorf("%w: %q (%g, %g)", ErrInvalidBound, name, lo, hi)
	}
	slots, err := o.slots(name, bo.k, bo.hasK)
	if err != nil {
		return err
	}

	origin := originWhole
	if bo.hasK {
		origin = originTimestep
	}
	overrides := 0
	for _, s := range slots {
		prev := o.origin[s]
		if prev == originNone {
			continue
		}
		refines := origin == originTimestep && prev == originWhole
		if !bo.force && !refines {
			return fmt.Errorf("%w: %q is %v, requested (%g, %g)", ErrBoundAlreadySet, name, o.bounds[s], lo, hi)
		}
		overrides++
	}

	for _, s := range slots {
		o.bounds[s] = Bound{Lower: lo, Upper: hi}
		o.origin[s] = origin
	}
	if overrides > 0 && !bo.quiet {
		o.logger.Debug("bound overridden",
			zap.String("name", name),
			zap.Int("slots", overrides),
			zap.Float64("lower", lo),
			zap.Float64("upper", hi),
			zap.Bool("forced", bo.force))
	}
	return nil
}

// BoundOf reports the bound of a parameter, or of a state or control at a
// timestep.
func (o *OCP) BoundOf(name string, opts ...At) (Bound, error) {
	p := resolve(opts)
	ref, err := o.Model().Ref(name)
	if err != nil {
		return Bound{}, err
	}
	switch ref.Kind {
	case KindParam:
		return o.bounds[o.layout.ParamSlot(ref.Index)], nil
	case KindState:
		node, err := o.node(name, p)
		if err != nil {
			return Bound{}, err
		}
		return o.bounds[o.layout.StateSlot(ref.Index, node)], nil
	case KindControl:
		if !p.hasK {
			return Bound{}, o.lookupErr(name, p, ErrTimestepRequired)
		}
		k, err := o.layout.IntervalIndex(p.k)
		if err != nil {
			return Bound{}, o.lookupErr(name, p, fmt.Errorf("%w: %v", ErrIndexRange, err))
		}
		return o.bounds[o.layout.ControlSlot(ref.Index, k)], nil
	}
	return Bound{}, &LookupError{Name: name, Wrapped: ErrNotDecision}
}

// Guess sets the initial value of a decision variable. Without a Timestep
// every slot of the variable is set; with one, only the selected point.
func (o *OCP) Guess(name string, value float64, opts ...At) error {
	p := resolve(opts)
	var slots []int
	ref, err := o.Model().Ref(name)
	if err != nil {
		return err
	}
	if ref.Kind == KindState && p.hasK {
		node, err := o.node(name, p)
		if err != nil {
			return err
		}
		slots = []int{o.layout.StateSlot(ref.Index, node)}
	} else {
		if p.hasSub && ref.Kind != KindState {
			return o.lookupErr(name, p, fmt.Errorf("%w: only states have sub-nodes", ErrIndexRange))
		}
		if slots, err = o.slots(name, p.k, p.hasK); err != nil {
			return err
		}
	}
	for _, s := range slots {
		o.guess[s] = value
		o.guessed[s] = true
	}
	return nil
}

// GuessValue reads back a guessed parameter, e.g. the horizon used to
// build a reference path.
func (o *OCP) GuessValue(name string) (float64, error) {
	slots, err := o.slots(name, 0, false)
	if err != nil {
		return 0, err
	}
	return o.guess[slots[0]], nil
}

// GuessVector returns a copy of the initial guess. Slots never guessed are
// zero.
func (o *OCP) GuessVector() []float64 {
	missing := 0
	for _, g := range o.guessed {
		if !g {
			missing++
		}
	}
	if missing > 0 {
		o.logger.Debug("slots without guess default to zero", zap.Int("count", missing))
	}
	return append([]float64(nil), o.guess...)
}

// Constrain adds lhs op rhs.
func (o *OCP) Constrain(lhs Expr, op Op, rhs Expr, tag Tag) error {
	if lhs == nil || rhs == nil {
		return fmt.Errorf("%w: constraint %v", ErrNilExpr, tag)
	}
	switch op {
	case EQ:
		o.eq = append(o.eq, Constraint{Fn: Sub(lhs, rhs), Tag: tag})
	case GE:
		o.ineq = append(o.ineq, Constraint{Fn: Sub(lhs, rhs), Tag: tag})
	case LE:
		o.ineq = append(o.ineq, Constraint{Fn: Sub(rhs, lhs), Tag: tag})
	default:
		return fmt.Errorf("ocp: unknown comparison %v for %v", op, tag)
	}
	return nil
}

// ConstrainRange adds lo <= e <= hi; infinite ends are skipped.
func (o *OCP) ConstrainRange(e Expr, lo, hi float64, tag Tag) error {
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return fmt.Errorf("%w: %v (%g, %g)", ErrInvalidBound, tag, lo, hi)
	}
	if !math.IsInf(lo, -1) {
		if err := o.Constrain(e, GE, Const(lo), tag); err != nil {
			return err
		}
	}
	if !math.IsInf(hi, 1) {
		if err := o.Constrain(e, LE, Const(hi), tag); err != nil {
			return err
		}
	}
	return nil
}

// SetObjective replaces the scalar objective.
func (o *OCP) SetObjective(e Expr) error {
	if e == nil {
		return fmt.Errorf("%w: objective", ErrNilExpr)
	}
	o.objective = e
	return nil
}

// Problem is an immutable snapshot of an OCP for one solve.
type Problem struct {
	Layout    *Layout
	Bounds    []Bound
	Objective Expr
	Eq        []Constraint
	Ineq      []Constraint
	Guess     []float64
}

func (p *Problem) N() int { return len(p.Bounds) }

// Problem snapshots the current bounds, constraints and guess.
func (o *OCP) Problem() (*Problem, error) {
	if o.objective == nil {
		return nil, ErrNoObjective
	}
	return &Problem{
		Layout:    o.layout,
		Bounds:    append([]Bound(nil), o.bounds...),
		Objective: o.objective,
		Eq:        append([]Constraint(nil), o.eq...),
		Ineq:      append([]Constraint(nil), o.ineq...),
		Guess:     o.GuessVector(),
	}, nil
}

// Decode is Layout().Decode.
func (o *OCP) Decode(v []float64) (*Trajectory, error) {
	return o.layout.Decode(v)
}
