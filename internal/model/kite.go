// Package model declares the kite variable layouts and the kinematic output
// expressions evaluated at each collocation node.
package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/kiteopt/internal/ocp"
)

// DCMNames lists the direction cosine entries; row i is body axis i
// expressed in the reference frame.
var DCMNames = []string{"e11", "e12", "e13", "e21", "e22", "e23", "e31", "e32", "e33"}

const rad2deg = 180 / math.Pi

type kinematics struct {
	pos, vel [3]ocp.Ref
	dcm      [9]ocp.Ref
	r, dr    ocp.Ref
	wind     ocp.Ref
	hasDr    bool
	hasWind  bool
}

func resolve(m *ocp.Model, windParam string) kinematics {
	var k kinematics
	for i, n := range []string{"x", "y", "z"} {
		k.pos[i] = m.MustRef(n)
		k.vel[i] = m.MustRef("d" + n)
	}
	for i, n := range DCMNames {
		k.dcm[i] = m.MustRef(n)
	}
	k.r = m.MustRef("r")
	if m.Has("dr") {
		k.dr, k.hasDr = m.MustRef("dr"), true
	}
	if windParam != "" && m.Has(windParam) {
		k.wind, k.hasWind = m.MustRef(windParam), true
	}
	return k
}

// DCM returns the direction cosine matrix at a node, row major.
func (k kinematics) DCM(n ocp.Node) [3][3]float64 {
	var R [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			R[i][j] = n.At(k.dcm[3*i+j])
		}
	}
	return R
}

// airVelocity is the kite velocity relative to a wind blowing along +x.
func (k kinematics) airVelocity(n ocp.Node) [3]float64 {
	v := [3]float64{n.At(k.vel[0]), n.At(k.vel[1]), n.At(k.vel[2])}
	if k.hasWind {
		v[0] -= n.At(k.wind)
	}
	return v
}

func (k kinematics) bodyAirVelocity(n ocp.Node) [3]float64 {
	R := k.DCM(n)
	va := k.airVelocity(n)
	var vb [3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			vb[i] += R[i][j] * va[j]
		}
	}
	return vb
}

func norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// addKinematics registers the outputs shared by every kite model.
func addKinematics(m *ocp.Model, windParam string) error {
	k := resolve(m, windParam)

	outputs := map[string]ocp.OutputFunc{
		"c": func(n ocp.Node) float64 {
			p := [3]float64{n.At(k.pos[0]), n.At(k.pos[1]), n.At(k.pos[2])}
			r := n.At(k.r)
			return (p[0]*p[0] + p[1]*p[1] + p[2]*p[2] - r*r) / 2
		},
		"cdot": func(n ocp.Node) float64 {
			c := 0.0
			for i := 0; i < 3; i++ {
				c += n.At(k.pos[i]) * n.At(k.vel[i])
			}
			if k.hasDr {
				c -= n.At(k.r) * n.At(k.dr)
			}
			return c
		},
		"airspeed": func(n ocp.Node) float64 {
			return norm(k.airVelocity(n))
		},
		"cos_line_angle": func(n ocp.Node) float64 {
			p := [3]float64{n.At(k.pos[0]), n.At(k.pos[1]), n.At(k.pos[2])}
			d := norm(p)
			if d == 0 {
				return 1
			}
			return p[0] / d
		},
		"alpha_deg": func(n ocp.Node) float64 {
			vb := k.bodyAirVelocity(n)
			return math.Atan2(vb[2], vb[0]) * rad2deg
		},
		"beta_deg": func(n ocp.Node) float64 {
			vb := k.bodyAirVelocity(n)
			s := norm(vb)
			if s == 0 {
				return 0
			}
			return math.Asin(vb[1]/s) * rad2deg
		},
		"yaw_deg": func(n ocp.Node) float64 {
			R := k.DCM(n)
			return math.Atan2(R[0][1], R[0][0]) * rad2deg
		},
		"pitch_deg": func(n ocp.Node) float64 {
			R := k.DCM(n)
			return -math.Asin(math.Max(-1, math.Min(1, R[0][2]))) * rad2deg
		},
		"roll_deg": func(n ocp.Node) float64 {
			R := k.DCM(n)
			return math.Atan2(R[1][2], R[2][2]) * rad2deg
		},
	}

	// dcm_err_ij is entry (i, j) of R^T R - I for i <= j
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			i, j := i, j
			outputs[fmt.Sprintf("dcm_err_%d%d", i+1, j+1)] = func(n ocp.Node) float64 {
				R := k.DCM(n)
				s := R[0][i]*R[0][j] + R[1][i]*R[1][j] + R[2][i]*R[2][j]
				if i == j {
					s--
				}
				return s
			}
		}
	}

	for _, name := range sortedOutputNames(outputs) {
		if err := m.AddOutput(name, outputs[name]); err != nil {
			return err
		}
	}
	return nil
}

func sortedOutputNames(outputs map[string]ocp.OutputFunc) []string {
	names := make([]string, 0, len(outputs))
	for n := range outputs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
