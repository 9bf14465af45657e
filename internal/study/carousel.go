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
	carouselThrust      = 390
	carouselThrustGuess = 389.970797939731
)

// carouselStart is a trimmed carousel state: position, rows of the DCM,
// velocity, body rates, arm angle and arm rate.
var carouselStart = []float64{
	1.154244772411, -0.103540608242, -0.347959211327,
	0.124930983341, 0.991534857363, 0.035367725910,
	0.316039689643, -0.073559821379, 0.945889986864,
	0.940484536806, -0.106993361072, -0.322554269411,
	0, 0, 0,
	0.137035790811, 3.664945343102, -1.249768772258,
	0, 3.8746,
}

// Carousel assembles the periodic carousel problem: one full revolution of
// the arm with minimum aileron and elevator effort.
func Carousel(cfg *config.Config, logger *zap.Logger) (*ocp.OCP, error) {
	m, err := model.Carousel()
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

	s.bound("aileron", -0.04, 0.04)
	s.bound("elevator", -0.1, 0.1)

	s.bound("x", 0, 4)
	s.bound("y", -3, 3)
	s.bound("z", -2, 3)
	s.bound("r", 1, 2)
	s.bound("dr", -1, 1)
	s.bound("ddr", 0, 0)
	s.bound("r", 1.2, 1.2, ocp.AtTimestep(0))

	for _, e := range model.DCMNames {
		s.bound(e, -1.1, 1.1)
	}
	for _, d := range []string{"dx", "dy", "dz"} {
		s.bound(d, -50, 50)
	}
	for _, w := range []string{"w1", "w2", "w3"} {
		s.bound(w, -8*math.Pi, 8*math.Pi)
	}

	s.bound("delta", -0.01, 1.01*2*math.Pi)
	s.bound("ddelta", -math.Pi/4, 8*math.Pi)
	s.bound("tc", -200, 1000)
	s.bound(ocp.EndTimeParam, 0.5, 2.0)
	s.bound("w0", cfg.Kite.WindSpeed, cfg.Kite.WindSpeed)

	s.bound("delta", 0, 0, ocp.AtTimestep(0))
	s.bound("delta", 2*math.Pi, 2*math.Pi, ocp.AtTimestep(-1))

	s.periodic("y", "z", "dy", "dz", "w1", "w2", "w3", "ddelta", "r", "dr")

	carouselGuess(s, cfg.Kite)

	endTime := s.lookup(ocp.EndTimeParam)
	obj := &ocp.Accumulator{}
	for k := 0; k < nk; k++ {
		ail := ocp.Square(s.at("aileron", k))
		ele := ocp.Square(s.at("elevator", k))
		tc := ocp.Scale(1e-10, ocp.Square(ocp.Sub(s.at("tc", k), ocp.Const(carouselThrust))))
		obj.Add(ocp.Mul(ocp.Sum(ail, ele, tc), endTime))
	}
	if s.err != nil {
		return nil, fmt.Errorf("carousel setup: %w", s.err)
	}
	if err := o.SetObjective(obj.Expr()); err != nil {
		return nil, err
	}
	return o, nil
}

func carouselGuess(s *setup, kite config.KiteConfig) {
	names := []string{"x", "y", "z"}
	names = append(names, model.DCMNames...)
	names = append(names, "dx", "dy", "dz", "w1", "w2", "w3", "delta", "ddelta")
	for i, name := range names {
		s.guess(name, carouselStart[i])
	}
	x, y := carouselStart[0], carouselStart[1]
	s.guess("r", math.Sqrt(x*x+y*y))
	s.guess("dr", 0)

	// the arm angle ramps through one revolution over every collocation node
	disc := s.o.Layout().Discretization()
	last := float64(s.o.Layout().StateNodes() - 1)
	node := 0
	for k := 0; k <= disc.NK; k++ {
		for i := 0; i < disc.NICP; i++ {
			for j := 0; j <= disc.Deg; j++ {
				if k == disc.NK && (i > 0 || j > 0) {
					continue
				}
				s.guess("delta", 2*math.Pi*float64(node)/last,
					ocp.Timestep(k), ocp.SubInterval(i), ocp.Point(j))
				node++
			}
		}
	}

	s.guess("aileron", 0)
	s.guess("elevator", 0)
	s.guess("tc", carouselThrustGuess)
	s.guess("ddr", 0)
	s.guess(ocp.EndTimeParam, kite.EndTime)
	s.guess("w0", kite.WindSpeed)
}
