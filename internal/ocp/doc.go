// Package ocp assembles trajectory-optimization problems over a fixed
// collocation layout.
//
// The package owns the mapping from named model variables to slots of the
// flat decision vector and everything a study needs to describe a problem
// on top of it:
//
//   - [Layout]: slot indexing for states, controls and parameters
//   - [OCP]: fail-fast lookup, bounds, tagged constraints, objective, guesses
//   - [Problem]: immutable snapshot handed to a solver
//   - [Trajectory]: the decoded, named form of a decision vector
//
// # Example
//
//	o, _ := ocp.New(m, ocp.Discretization{NK: 40, NICP: 1, Deg: 4}, logger)
//	y0, _ := o.Lookup("y", ocp.Timestep(0))
//	yN, _ := o.Lookup("y", ocp.Timestep(-1))
//	_ = o.Constrain(y0, ocp.EQ, yN, ocp.Tag{Name: "periodic y"})
//	_ = o.Bound("r", 100, 100)
//
// Collocation polynomials and the dynamics defects are not built here; a
// layout only reserves the slots a collocation scheme would use.
package ocp
