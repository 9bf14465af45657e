package study

import (
	"fmt"
	"math"

	"github.com/san-kum/kiteopt/internal/model"
	"github.com/san-kum/kiteopt/internal/ocp"
)

// Periodicity selects how attitude is made periodic over one loop.
type Periodicity string

const (
	// PeriodicDCM asks the relative rotation R0^T RF to be diagonal.
	PeriodicDCM Periodicity = "dcm"
	// PeriodicOrthonormalizedDCM does the same after Gram-Schmidt on both
	// matrices.
	PeriodicOrthonormalizedDCM Periodicity = "orthonormalized_dcm"
	// PeriodicEulers equates yaw, pitch and roll.
	PeriodicEulers Periodicity = "eulers"
)

func ParsePeriodicity(s string) (Periodicity, error) {
	switch p := Periodicity(s); p {
	case PeriodicDCM, PeriodicOrthonormalizedDCM, PeriodicEulers:
		return p, nil
	case "":
		return PeriodicDCM, nil
	}
	return "", fmt.Errorf("unknown attitude periodicity: %s (want dcm, orthonormalized_dcm or eulers)", s)
}

type matrixExpr [3][3]ocp.Expr

func (s *setup) dcm(k int) matrixExpr {
	var m matrixExpr
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = s.at(model.DCMNames[3*i+j], k)
		}
	}
	return m
}

func (m matrixExpr) eval(v []float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][j](v)
		}
	}
	return out
}

// orthonormalize applies Gram-Schmidt to the rows of R.
func orthonormalize(R [3][3]float64) [3][3]float64 {
	var Q [3][3]float64
	for i := 0; i < 3; i++ {
		q := R[i]
		for p := 0; p < i; p++ {
			d := q[0]*Q[p][0] + q[1]*Q[p][1] + q[2]*Q[p][2]
			for c := 0; c < 3; c++ {
				q[c] -= d * Q[p][c]
			}
		}
		n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2])
		if n > 0 {
			for c := 0; c < 3; c++ {
				q[c] /= n
			}
		}
		Q[i] = q
	}
	return Q
}

// relative returns entry (i, j) of R0^T RF.
func relative(r0, rf matrixExpr, i, j int, ortho bool) ocp.Expr {
	return func(v []float64) float64 {
		a, b := r0.eval(v), rf.eval(v)
		if ortho {
			a, b = orthonormalize(a), orthonormalize(b)
		}
		return a[0][i]*b[0][j] + a[1][i]*b[1][j] + a[2][i]*b[2][j]
	}
}

func (s *setup) periodicAttitude(p Periodicity) {
	switch p {
	case PeriodicEulers:
		s.periodic("yaw_deg", "pitch_deg", "roll_deg")
	case PeriodicDCM, PeriodicOrthonormalizedDCM:
		r0, rf := s.dcm(0), s.dcm(-1)
		ortho := p == PeriodicOrthonormalizedDCM
		for _, ij := range [][2]int{{0, 1}, {0, 2}, {1, 2}} {
			s.constrain(relative(r0, rf, ij[0], ij[1], ortho), ocp.EQ, ocp.Const(0),
				ocp.Named(fmt.Sprintf("periodic dcm %d%d", ij[0]+1, ij[1]+1)))
		}
	default:
		s.fail(fmt.Errorf("unknown attitude periodicity: %s", p))
	}
}
