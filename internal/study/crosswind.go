package study

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/san-kum/kiteopt/internal/config"
	"github.com/san-kum/kiteopt/internal/model"
	"github.com/san-kum/kiteopt/internal/ocp"
)

const (
	minLineAngleDeg = 55
	minAirspeed     = 20

	daileronSigma  = 0.01
	delevatorSigma = 0.1
)

// Crosswind assembles the drag-mode crosswind problem. The objective rewards
// gamma_homotopy, tracks a circular reference path and regularizes control
// rates and the homotopy forces and torques.
func Crosswind(cfg *config.Config, logger *zap.Logger) (*ocp.OCP, error) {
	periodicity, err := ParsePeriodicity(cfg.Kite.Periodicity)
	if err != nil {
		return nil, err
	}
	m, err := model.Crosswind()
	if err != nil {
		return nil, err
	}
	o, err := ocp.New(m, cfg.Discretization, logger)
	if err != nil {
		return nil, err
	}
	s := &setup{o: o}
	nk := o.NK()

	s.invariantsAtStart()

	for k := 0; k < nk; k++ {
		s.constrain(s.at("cos_line_angle", k), ocp.GE, ocp.Const(math.Cos(minLineAngleDeg*math.Pi/180)), ocp.Indexed("line angle", k))
		s.constrain(s.at("airspeed", k), ocp.GE, ocp.Const(minAirspeed), ocp.Indexed("airspeed", k))
		s.constrainRange(s.at("alpha_deg", k), -5, 15, ocp.Indexed("alpha", k))
		s.constrainRange(s.at("beta_deg", k), -10, 10, ocp.Indexed("beta", k))
	}

	s.periodic("y", "z", "dy", "dz", "w1", "w2", "w3", "aileron", "elevator")
	s.periodicAttitude(periodicity)

	crosswindBounds(s, cfg.Kite)
	if s.err != nil {
		return nil, fmt.Errorf("crosswind_drag setup: %w", s.err)
	}

	ref := crosswindGuess(s, cfg.Kite)
	s.guess("gamma_homotopy", 0)

	obj := &ocp.Accumulator{}
	obj.Add(ocp.Scale(-1e6, s.lookup("gamma_homotopy")))
	for k := 0; k <= nk; k++ {
		for i, name := range []string{"x", "y", "z"} {
			obj.Add(ocp.Square(ocp.Sub(s.at(name, k), ocp.Const(ref[k][i]))))
		}
	}
	for k := 0; k < nk; k++ {
		ail := ocp.Scale(1/(daileronSigma*daileronSigma), ocp.Square(s.at("daileron", k)))
		ele := ocp.Scale(1/(delevatorSigma*delevatorSigma), ocp.Square(s.at("delevator", k)))
		obj.Add(ocp.Scale(1e-2/float64(nk), ocp.Add(ail, ele)))
	}
	disc := cfg.Discretization
	homoScale := 1e-2 / float64(nk*disc.NICP*disc.Deg)
	for k := 0; k < nk; k++ {
		for i := 0; i < disc.NICP; i++ {
			for j := 1; j <= disc.Deg; j++ {
				for _, name := range model.HomotopyNames {
					e := s.lookup(name, ocp.Timestep(k), ocp.SubInterval(i), ocp.Point(j))
					obj.Add(ocp.Scale(homoScale, ocp.Square(e)))
				}
			}
		}
	}
	if s.err != nil {
		return nil, fmt.Errorf("crosswind_drag setup: %w", s.err)
	}
	if err := o.SetObjective(obj.Expr()); err != nil {
		return nil, err
	}
	return o, nil
}

func crosswindBounds(s *setup, kite config.KiteConfig) {
	s.bound("aileron", -0.04, 0.04)
	s.bound("elevator", -0.1, 0.1)
	s.bound("daileron", -2, 2)
	s.bound("delevator", -2, 2)
	s.bound("prop_drag", 0, 1e4)

	s.bound("x", -2000, 2000)
	s.bound("y", -2000, 2000)
	s.bound("z", kite.MinAltitude, 2000)
	s.bound("r", kite.TetherLength, kite.TetherLength)

	for _, e := range model.DCMNames {
		s.bound(e, -1.1, 1.1)
	}
	for _, d := range []string{"dx", "dy", "dz"} {
		s.bound(d, -70, 70)
	}
	for _, w := range []string{"w1", "w2", "w3"} {
		s.bound(w, -4*math.Pi, 4*math.Pi)
	}

	s.bound(ocp.EndTimeParam, kite.EndTime, kite.EndTime)
	s.bound("w0", kite.WindSpeed, kite.WindSpeed)

	s.bound("y", 0, 0, ocp.AtTimestep(0), ocp.Quiet())
}

// crosswindGuess seeds every node with one loop around a circle on the
// tether sphere and returns the reference position at each interval start
// and the terminal node.
func crosswindGuess(s *setup, kite config.KiteConfig) [][3]float64 {
	disc := s.o.Layout().Discretization()
	endTime := kite.EndTime
	s.guess(ocp.EndTimeParam, endTime)

	r := kite.CircleRadiusGuess
	lineR := kite.LineRadiusGuess
	h := math.Sqrt(lineR*lineR - r*r)
	thetaDot := 2 * math.Pi / endTime
	phi := math.Asin(r/lineR) + math.Asin((kite.MinAltitude+0.3)/lineR)
	cphi, sphi := math.Cos(phi), math.Sin(phi)
	rotate := func(v [3]float64) [3]float64 {
		return [3]float64{cphi*v[0] - sphi*v[2], v[1], sphi*v[0] + cphi*v[2]}
	}

	nodes := s.o.Layout().StateNodes()
	ref := make([][3]float64, 0, disc.NK+1)
	node := 0
	for k := 0; k <= disc.NK; k++ {
		for i := 0; i < disc.NICP; i++ {
			if k == disc.NK && i > 0 {
				break
			}
			for j := 0; j <= disc.Deg; j++ {
				if k == disc.NK && j > 0 {
					break
				}
				theta := 2 * math.Pi * float64(node) / float64(nodes-2)
				p := rotate([3]float64{h, r * math.Sin(theta), -r * math.Cos(theta)})
				dp := rotate([3]float64{0, r * math.Cos(theta) * thetaDot, r * math.Sin(theta) * thetaDot})
				if i == 0 && j == 0 {
					ref = append(ref, p)
				}

				at := []ocp.At{ocp.Timestep(k), ocp.SubInterval(i), ocp.Point(j)}
				for c, name := range []string{"x", "y", "z"} {
					s.guess(name, p[c], at...)
					s.guess("d"+name, dp[c], at...)
				}

				e1 := unit(dp)
				e3 := [3]float64{p[0] / lineR, p[1] / lineR, p[2] / lineR}
				e2 := cross(e3, e1)
				for c := 0; c < 3; c++ {
					s.guess(model.DCMNames[c], e1[c], at...)
					s.guess(model.DCMNames[3+c], e2[c], at...)
					s.guess(model.DCMNames[6+c], e3[c], at...)
				}
				node++
			}
		}
	}

	s.guess("w3", 2*math.Pi/endTime)
	s.guess("w0", kite.WindSpeed)
	s.guess("r", lineR)
	for _, name := range []string{"w1", "w2", "aileron", "elevator", "daileron", "delevator", "prop_drag"} {
		s.guess(name, 0)
	}
	return ref
}

func unit(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
