package solver

import (
	"math"

	"github.com/san-kum/kiteopt/internal/ocp"
)

type boundKind uint8

const (
	kindFree boundKind = iota
	kindLower
	kindUpper
	kindBox
)

// edge keeps reparameterized starts off the flat points of sin and z^2.
const edge = 1e-6

// transform maps an unconstrained z onto the bounded decision vector.
// Fixed slots are removed from z and always take their bound value.
type transform struct {
	n      int
	free   []int
	kind   []boundKind
	lo, hi []float64
	fixed  []float64
}

func newTransform(bounds []ocp.Bound) *transform {
	t := &transform{n: len(bounds), fixed: make([]float64, len(bounds))}
	for i, b := range bounds {
		if b.Fixed() {
			t.fixed[i] = b.Lower
			continue
		}
		loInf, hiInf := math.IsInf(b.Lower, -1), math.IsInf(b.Upper, 1)
		k := kindFree
		switch {
		case !loInf && !hiInf:
			k = kindBox
		case !loInf:
			k = kindLower
		case !hiInf:
			k = kindUpper
		}
		t.free = append(t.free, i)
		t.kind = append(t.kind, k)
		t.lo = append(t.lo, b.Lower)
		t.hi = append(t.hi, b.Upper)
	}
	return t
}

func (t *transform) dim() int { return len(t.free) }

// expand writes the decision vector for z into x.
func (t *transform) expand(x, z []float64) {
	copy(x, t.fixed)
	for m, i := range t.free {
		switch t.kind[m] {
		case kindBox:
			x[i] = t.lo[m] + (t.hi[m]-t.lo[m])*(math.Sin(z[m])+1)/2
		case kindLower:
			x[i] = t.lo[m] + z[m]*z[m]
		case kindUpper:
			x[i] = t.hi[m] - z[m]*z[m]
		default:
			x[i] = z[m]
		}
	}
}

// contract returns a z whose expansion is x projected into its bounds.
func (t *transform) contract(x []float64) []float64 {
	z := make([]float64, len(t.free))
	for m, i := range t.free {
		switch t.kind[m] {
		case kindBox:
			r := 2*(x[i]-t.lo[m])/(t.hi[m]-t.lo[m]) - 1
			z[m] = math.Asin(math.Max(-1+edge, math.Min(1-edge, r)))
		case kindLower:
			z[m] = math.Sqrt(math.Max(x[i]-t.lo[m], edge))
		case kindUpper:
			z[m] = math.Sqrt(math.Max(t.hi[m]-x[i], edge))
		default:
			z[m] = x[i]
		}
	}
	return z
}
