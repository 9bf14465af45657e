package metrics

// Envelope is the fraction of nodes where a state stays inside [lo, hi].
type Envelope struct {
	name       string
	state      string
	lo, hi     float64
	violations int
	samples    int
}

func NewEnvelope(name, state string, lo, hi float64) *Envelope {
	return &Envelope{
		name:  name,
		state: state,
		lo:    lo,
		hi:    hi,
	}
}

func (e *Envelope) Name() string {
	return e.name
}

func (e *Envelope) Observe(s Sample) {
	v, ok := s.X[e.state]
	if !ok {
		return
	}
	e.samples++
	if v < e.lo || v > e.hi {
		e.violations++
	}
}

func (e *Envelope) Value() float64 {
	if e.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(e.violations)/float64(e.samples)
}

func (e *Envelope) Reset() {
	e.violations = 0
	e.samples = 0
}
