// Package study assembles the kite optimal-control problems.
package study

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/san-kum/kiteopt/internal/config"
	"github.com/san-kum/kiteopt/internal/ocp"
)

// Builder assembles a problem from configuration.
type Builder func(cfg *config.Config, logger *zap.Logger) (*ocp.OCP, error)

type Study struct {
	Name        string
	Description string
	// Homotopy marks studies solved as a continuation sweep; the others
	// are solved once.
	Homotopy bool
	Build    Builder
}

type Registry struct {
	studies map[string]Study
}

func NewRegistry() *Registry {
	r := &Registry{studies: make(map[string]Study)}
	r.Register(Study{
		Name:        "crosswind_drag",
		Description: "crosswind loops in drag mode, homotopy from a tracked circle",
		Homotopy:    true,
		Build:       Crosswind,
	})
	r.Register(Study{
		Name:        "carousel",
		Description: "periodic carousel launch, minimum control effort",
		Build:       Carousel,
	})
	return r
}

func (r *Registry) Register(s Study) {
	r.studies[s.Name] = s
}

func (r *Registry) Get(name string) (Study, error) {
	s, ok := r.studies[name]
	if !ok {
		return Study{}, fmt.Errorf("unknown study: %s", name)
	}
	return s, nil
}

func (r *Registry) List() []Study {
	out := make([]Study, 0, len(r.studies))
	for _, s := range r.studies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// setup wraps an OCP and keeps the first error, so a problem definition
// reads as a list of calls and still fails on the first bad one.
type setup struct {
	o   *ocp.OCP
	err error
}

func (s *setup) fail(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

func (s *setup) lookup(name string, at ...ocp.At) ocp.Expr {
	if s.err != nil {
		return ocp.Const(0)
	}
	e, err := s.o.Lookup(name, at...)
	if err != nil {
		s.fail(err)
		return ocp.Const(0)
	}
	return e
}

func (s *setup) at(name string, k int) ocp.Expr {
	return s.lookup(name, ocp.Timestep(k))
}

func (s *setup) bound(name string, lo, hi float64, opts ...ocp.BoundOption) {
	if s.err == nil {
		s.fail(s.o.Bound(name, lo, hi, opts...))
	}
}

func (s *setup) constrain(lhs ocp.Expr, op ocp.Op, rhs ocp.Expr, tag ocp.Tag) {
	if s.err == nil {
		s.fail(s.o.Constrain(lhs, op, rhs, tag))
	}
}

func (s *setup) constrainRange(e ocp.Expr, lo, hi float64, tag ocp.Tag) {
	if s.err == nil {
		s.fail(s.o.ConstrainRange(e, lo, hi, tag))
	}
}

func (s *setup) guess(name string, v float64, at ...ocp.At) {
	if s.err == nil {
		s.fail(s.o.Guess(name, v, at...))
	}
}

// periodic constrains name at the first and last node to be equal.
func (s *setup) periodic(names ...string) {
	for _, name := range names {
		s.constrain(s.at(name, 0), ocp.EQ, s.at(name, -1), ocp.Named("periodic "+name))
	}
}

// invariantsAtStart pins the tether constraint, its derivative and the
// attitude orthonormality at node 0.
func (s *setup) invariantsAtStart() {
	for _, e := range []string{"dcm_err_11", "dcm_err_22", "dcm_err_33", "dcm_err_12", "dcm_err_13", "dcm_err_23"} {
		s.constrain(s.at(e, 0), ocp.EQ, ocp.Const(0), ocp.Named("initial dcm orthonormal"))
	}
	s.constrain(s.at("c", 0), ocp.EQ, ocp.Const(0), ocp.Named("initial c 0"))
	s.constrain(s.at("cdot", 0), ocp.EQ, ocp.Const(0), ocp.Named("initial cdot 0"))
}
