package solver

import "fmt"

// Options tunes the augmented-Lagrangian backend.
type Options struct {
	MaxIter       int     `yaml:"max_iter" json:"max_iter"`
	MaxOuter      int     `yaml:"max_outer" json:"max_outer"`
	Tol           float64 `yaml:"tol" json:"tol"`
	ConstraintTol float64 `yaml:"constraint_tol" json:"constraint_tol"`
	PenaltyInit   float64 `yaml:"penalty_init" json:"penalty_init"`
	PenaltyGrowth float64 `yaml:"penalty_growth" json:"penalty_growth"`
	FDStep        float64 `yaml:"fd_step" json:"fd_step"`
	Concurrent    bool    `yaml:"concurrent" json:"concurrent"`
}

func DefaultOptions() Options {
	return Options{
		MaxIter:       500,
		MaxOuter:      20,
		Tol:           1e-8,
		ConstraintTol: 1e-4,
		PenaltyInit:   10,
		PenaltyGrowth: 10,
		FDStep:        1e-6,
	}
}

// Validate rejects settings the backend cannot run with.
func (o Options) Validate() error {
	switch {
	case o.MaxIter <= 0:
		return fmt.Errorf("max_iter must be positive, got %d", o.MaxIter)
	case o.MaxOuter <= 0:
		return fmt.Errorf("max_outer must be positive, got %d", o.MaxOuter)
	case o.Tol <= 0:
		return fmt.Errorf("tol must be positive, got %g", o.Tol)
	case o.ConstraintTol <= 0:
		return fmt.Errorf("constraint_tol must be positive, got %g", o.ConstraintTol)
	case o.PenaltyInit <= 0:
		return fmt.Errorf("penalty_init must be positive, got %g", o.PenaltyInit)
	case o.PenaltyGrowth <= 1:
		return fmt.Errorf("penalty_growth must exceed 1, got %g", o.PenaltyGrowth)
	case o.FDStep <= 0:
		return fmt.Errorf("fd_step must be positive, got %g", o.FDStep)
	}
	return nil
}
