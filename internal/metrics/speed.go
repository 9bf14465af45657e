package metrics

import (
	"math"
)

// Speed is the mean inertial speed |(dx, dy, dz)|.
type Speed struct {
	name    string
	total   float64
	peak    float64
	samples int
}

func NewSpeed() *Speed {
	return &Speed{name: "mean_speed"}
}

func (s *Speed) Name() string { return s.name }

func (s *Speed) Observe(smp Sample) {
	dx, okx := smp.X["dx"]
	dy, oky := smp.X["dy"]
	dz, okz := smp.X["dz"]
	if !okx || !oky || !okz {
		return
	}
	v := math.Sqrt(dx*dx + dy*dy + dz*dz)
	s.total += v
	s.peak = math.Max(s.peak, v)
	s.samples++
}

func (s *Speed) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.total / float64(s.samples)
}

func (s *Speed) Peak() float64 { return s.peak }

func (s *Speed) Reset() {
	s.total = 0
	s.peak = 0
	s.samples = 0
}
