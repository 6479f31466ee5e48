package planner

import "errors"

// The LP planner fails loudly instead of degrading its answer. The planning
// task treats both errors the same way and falls back to the rule planner.
var (
	ErrInfeasible    = errors.New("optimization has no feasible solution")
	ErrSolverTimeout = errors.New("solver exceeded its time budget")
)
