package model

import (
	"github.com/san-kum/kiteopt/internal/ocp"
)

// HomotopyNames are the fictitious forces and torques that let the
// crosswind kite follow any path while gamma_homotopy is near zero.
var HomotopyNames = []string{"f1_homotopy", "f2_homotopy", "f3_homotopy", "t1_homotopy", "t2_homotopy", "t3_homotopy"}

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Crosswind is a tethered kite flying crosswind loops with a drag-mode
// propeller. Wind blows along +x with speed w0; z points up.
func Crosswind() (*ocp.Model, error) {
	states := concat(
		[]string{"x", "y", "z", "dx", "dy", "dz"},
		DCMNames,
		[]string{"w1", "w2", "w3", "r", "dr", "aileron", "elevator"},
		HomotopyNames,
	)
	controls := []string{"daileron", "delevator", "prop_drag"}
	params := []string{ocp.EndTimeParam, "w0", "gamma_homotopy"}

	m, err := ocp.NewModel("crosswind_drag", states, controls, params)
	if err != nil {
		return nil, err
	}
	if err := addKinematics(m, "w0"); err != nil {
		return nil, err
	}
	return m, nil
}

// Carousel is a kite tethered to a rotating arm; delta is the arm angle.
func Carousel() (*ocp.Model, error) {
	states := concat(
		[]string{"x", "y", "z"},
		DCMNames,
		[]string{"dx", "dy", "dz", "w1", "w2", "w3", "delta", "ddelta", "r", "dr"},
	)
	controls := []string{"aileron", "elevator", "tc", "ddr"}
	params := []string{"w0", ocp.EndTimeParam}

	m, err := ocp.NewModel("carousel", states, controls, params)
	if err != nil {
		return nil, err
	}
	if err := addKinematics(m, "w0"); err != nil {
		return nil, err
	}
	return m, nil
}
