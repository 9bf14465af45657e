package ocp

import "math"

// Expr is a scalar function of the full decision vector.
type Expr func(v []float64) float64

func Const(c float64) Expr {
	return func([]float64) float64 { return c }
}

// Slot reads one decision-vector entry.
func Slot(i int) Expr {
	return func(v []float64) float64 { return v[i] }
}

func Add(a, b Expr) Expr {
	return func(v []float64) float64 { return a(v) + b(v) }
}

func Sub(a, b Expr) Expr {
	return func(v []float64) float64 { return a(v) - b(v) }
}

func Mul(a, b Expr) Expr {
	return func(v []float64) float64 { return a(v) * b(v) }
}

func Scale(c float64, e Expr) Expr {
	return func(v []float64) float64 { return c * e(v) }
}

func Square(e Expr) Expr {
	return func(v []float64) float64 {
		x := e(v)
		return x * x
	}
}

func Cos(e Expr) Expr {
	return func(v []float64) float64 { return math.Cos(e(v)) }
}

// Sum adds any number of terms; an empty sum is zero.
func Sum(terms ...Expr) Expr {
	ts := append([]Expr(nil), terms...)
	return func(v []float64) float64 {
		s := 0.0
		for _, t := range ts {
			s += t(v)
		}
		return s
	}
}

// Accumulator collects objective terms incrementally.
type Accumulator struct {
	terms []Expr
}

func (a *Accumulator) Add(e Expr) {
	if e != nil {
		a.terms = append(a.terms, e)
	}
}

func (a *Accumulator) Len() int { return len(a.terms) }

func (a *Accumulator) Expr() Expr { return Sum(a.terms...) }
