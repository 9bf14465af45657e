package ocp

import (
	"fmt"
	"sort"
)

// Kind classifies a model name.
type Kind int

const (
	KindState Kind = iota
	KindControl
	KindParam
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindControl:
		return "control"
	case KindParam:
		return "param"
	case KindOutput:
		return "output"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Ref is a resolved model name. Output functions capture refs at model
// construction so evaluation never touches a map.
type Ref struct {
	Kind  Kind
	Index int
}

// OutputFunc evaluates a derived quantity at one node.
type OutputFunc func(n Node) float64

// Node is the view of the decision vector at one collocation point.
type Node struct {
	X []float64
	U []float64
	P []float64
}

// At returns the value of a state, control or parameter ref.
func (n Node) At(r Ref) float64 {
	switch r.Kind {
	case KindState:
		return n.X[r.Index]
	case KindControl:
		return n.U[r.Index]
	case KindParam:
		return n.P[r.Index]
	}
	panic(fmt.Sprintf("ocp: cannot read %s ref from node", r.Kind))
}

// Model is the variable layout of a dynamic system plus its output
// expressions.
type Model struct {
	Name     string
	States   []string
	Controls []string
	Params   []string

	outputs     map[string]OutputFunc
	outputNames []string
	index       map[string]Ref
}

// NewModel declares a model. Names must be unique across all categories.
func NewModel(name string, states, controls, params []string) (*Model, error) {
	m := &Model{
		Name:    name,
		outputs: make(map[string]OutputFunc),
		index:   make(map[string]Ref),
	}
	for _, s := range states {
		if err := m.declare(s, KindState); err != nil {
			return nil, err
		}
	}
	for _, c := range controls {
		if err := m.declare(c, KindControl); err != nil {
			return nil, err
		}
	}
	for _, p := range params {
		if err := m.declare(p, KindParam); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Model) declare(name string, kind Kind) error {
	if _, ok := m.index[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	switch kind {
	case KindState:
		m.index[name] = Ref{Kind: kind, Index: len(m.States)}
		m.States = append(m.States, name)
	case KindControl:
		m.index[name] = Ref{Kind: kind, Index: len(m.Controls)}
		m.Controls = append(m.Controls, name)
	case KindParam:
		m.index[name] = Ref{Kind: kind, Index: len(m.Params)}
		m.Params = append(m.Params, name)
	case KindOutput:
		m.index[name] = Ref{Kind: kind, Index: len(m.outputNames)}
		m.outputNames = append(m.outputNames, name)
	}
	return nil
}

// AddParam appends a parameter after construction.
func (m *Model) AddParam(name string) error {
	return m.declare(name, KindParam)
}

// AddOutput registers a derived quantity evaluated per node.
func (m *Model) AddOutput(name string, fn OutputFunc) error {
	if fn == nil {
		return fmt.Errorf("%w: output %q", ErrNilExpr, name)
	}
	if err := m.declare(name, KindOutput); err != nil {
		return err
	}
	m.outputs[name] = fn
	return nil
}

// Ref resolves a name.
func (m *Model) Ref(name string) (Ref, error) {
	r, ok := m.index[name]
	if !ok {
		return Ref{}, &LookupError{Name: name, Wrapped: ErrUnknownVariable}
	}
	return r, nil
}

// MustRef is Ref for model definitions where the name is a literal.
func (m *Model) MustRef(name string) Ref {
	r, err := m.Ref(name)
	if err != nil {
		panic(err)
	}
	return r
}

// Has reports whether name is declared.
func (m *Model) Has(name string) bool {
	_, ok := m.index[name]
	return ok
}

// Outputs returns output names in sorted order.
func (m *Model) Outputs() []string {
	names := append([]string(nil), m.outputNames...)
	sort.Strings(names)
	return names
}

func (m *Model) output(name string) OutputFunc {
	return m.outputs[name]
}
