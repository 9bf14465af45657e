package ocp

import (
	"fmt"
)

// Discretization sizes the collocation grid: NK intervals, NICP
// sub-intervals per interval and Deg collocation points per sub-interval.
type Discretization struct {
	NK   int `yaml:"nk" json:"nk" msgpack:"nk"`
	NICP int `yaml:"nicp" json:"nicp" msgpack:"nicp"`
	Deg  int `yaml:"deg" json:"deg" msgpack:"deg"`
}

// Validate rejects non-positive sizes.
func (d Discretization) Validate() error {
	if d.NK <= 0 {
		return fmt.Errorf("nk must be positive, got %d", d.NK)
	}
	if d.NICP <= 0 {
		return fmt.Errorf("nicp must be positive, got %d", d.NICP)
	}
	if d.Deg <= 0 {
		return fmt.Errorf("deg must be positive, got %d", d.Deg)
	}
	return nil
}

// Layout maps (name, timestep, sub-interval, degree) to decision-vector slots.
//
// Slot order: states at every collocation point (k, i, j) for k < NK,
// i < NICP, j <= Deg, then the terminal state node (NK, 0, 0), then one
// control vector per interval, then the parameters.
type Layout struct {
	model *Model
	disc  Discretization

	nx, nu, np  int
	stateNodes  int
	controlBase int
	paramBase   int
	size        int
}

// NewLayout builds the slot map for a model on a grid.
func NewLayout(m *Model, disc Discretization) (*Layout, error) {
	if m == nil {
		return nil, fmt.Errorf("ocp: nil model")
	}
	if err := disc.Validate(); err != nil {
		return nil, err
	}
	l := &Layout{
		model: m,
		disc:  disc,
		nx:    len(m.States),
		nu:    len(m.Controls),
		np:    len(m.Params),
	}
	l.stateNodes = disc.NK*disc.NICP*(disc.Deg+1) + 1
	l.controlBase = l.stateNodes * l.nx
	l.paramBase = l.controlBase + disc.NK*l.nu
	l.size = l.paramBase + l.np
	return l, nil
}

func (l *Layout) Model() *Model                  { return l.model }
func (l *Layout) Discretization() Discretization { return l.disc }
func (l *Layout) Len() int                       { return l.size }
func (l *Layout) StateNodes() int                { return l.stateNodes }

// NodeIndex resolves a collocation point to its state-node index. A negative
// timestep counts from the terminal node, so -1 is (NK, 0, 0).
func (l *Layout) NodeIndex(k, i, j int) (int, error) {
	if k < 0 {
		k += l.disc.NK + 1
	}
	switch {
	case k < 0 || k > l.disc.NK:
		return 0, fmt.Errorf("timestep %d not in [0, %d]", k, l.disc.NK)
	case k == l.disc.NK && (i != 0 || j != 0):
		return 0, fmt.Errorf("terminal timestep %d has no sub-node (%d, %d)", k, i, j)
	case i < 0 || i >= l.disc.NICP:
		return 0, fmt.Errorf("sub-interval %d not in [0, %d)", i, l.disc.NICP)
	case j < 0 || j > l.disc.Deg:
		return 0, fmt.Errorf("degree index %d not in [0, %d]", j, l.disc.Deg)
	}
	return (k*l.disc.NICP+i)*(l.disc.Deg+1) + j, nil
}

// IntervalIndex resolves a control timestep; negative counts from the end.
func (l *Layout) IntervalIndex(k int) (int, error) {
	if k < 0 {
		k += l.disc.NK
	}
	if k < 0 || k >= l.disc.NK {
		return 0, fmt.Errorf("control timestep %d not in [0, %d)", k, l.disc.NK)
	}
	return k, nil
}

// interval returns the control interval a state node belongs to.
func (l *Layout) interval(node int) int {
	k := node / (l.disc.NICP * (l.disc.Deg + 1))
	if k >= l.disc.NK {
		k = l.disc.NK - 1
	}
	return k
}

// IntervalStart returns the state-node index of the first sub-node of interval k.
func (l *Layout) IntervalStart(k int) int {
	return k * l.disc.NICP * (l.disc.Deg + 1)
}

func (l *Layout) StateSlot(ref, node int) int   { return node*l.nx + ref }
func (l *Layout) ControlSlot(ref, k int) int    { return l.controlBase + k*l.nu + ref }
func (l *Layout) ParamSlot(ref int) int         { return l.paramBase + ref }
func (l *Layout) stateBlock(node int) (int, int) { return node * l.nx, (node + 1) * l.nx }

// Node returns the slices of v visible at a state node. The slices alias v.
func (l *Layout) Node(v []float64, node int) Node {
	lo, hi := l.stateBlock(node)
	k := l.interval(node)
	cl := l.controlBase + k*l.nu
	return Node{
		X: v[lo:hi:hi],
		U: v[cl : cl+l.nu : cl+l.nu],
		P: v[l.paramBase:l.size:l.size],
	}
}

// SlotInfo describes one slot of the decision vector.
type SlotInfo struct {
	Name string
	Kind Kind
	K    int
	I    int
	J    int
}

func (s SlotInfo) String() string {
	switch s.Kind {
	case KindParam:
		return s.Name
	case KindControl:
		return fmt.Sprintf("%s[k=%d]", s.Name, s.K)
	}
	return fmt.Sprintf("%s[k=%d,i=%d,j=%d]", s.Name, s.K, s.I, s.J)
}

// Describe reverses a slot index.
func (l *Layout) Describe(slot int) (SlotInfo, error) {
	switch {
	case slot < 0 || slot >= l.size:
		return SlotInfo{}, fmt.Errorf("%w: slot %d of %d", ErrIndexRange, slot, l.size)
	case slot >= l.paramBase:
		return SlotInfo{Name: l.model.Params[slot-l.paramBase], Kind: KindParam}, nil
	case slot >= l.controlBase:
		off := slot - l.controlBase
		return SlotInfo{Name: l.model.Controls[off%l.nu], Kind: KindControl, K: off / l.nu}, nil
	}
	node := slot / l.nx
	per := l.disc.Deg + 1
	k := node / (l.disc.NICP * per)
	rem := node % (l.disc.NICP * per)
	return SlotInfo{
		Name: l.model.States[slot%l.nx],
		Kind: KindState,
		K:    k,
		I:    rem / per,
		J:    rem % per,
	}, nil
}

// NodeTimes returns the time of every state node for a horizon T. Sub-nodes
// are placed uniformly inside each sub-interval.
func (l *Layout) NodeTimes(T float64) []float64 {
	h := T / float64(l.disc.NK*l.disc.NICP)
	per := l.disc.Deg + 1
	times := make([]float64, l.stateNodes)
	for n := 0; n < l.stateNodes-1; n++ {
		sub := n / per
		tau := float64(n%per) / float64(per)
		times[n] = (float64(sub) + tau) * h
	}
	times[l.stateNodes-1] = T
	return times
}
