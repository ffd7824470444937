package mpcmsg

import "strings"

// Status is the closed classification of a producer's solve_status string.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusInfeasible
	StatusMaxIterations
	StatusSolverError
)

// Canonical wire strings.
const (
	StatusStringOptimal       = "optimal"
	StatusStringInfeasible    = "infeasible"
	StatusStringMaxIterations = "max_iterations"
	StatusStringSolverError   = "solver_error"
)

// ParseStatus classifies a raw status string. Matching ignores case and
// surrounding whitespace; anything unrecognized is StatusUnknown. The IPOPT
// return codes are accepted so a solver node can forward its backend status
// verbatim.
func ParseStatus(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")

	switch key {
	case "optimal", "success", "solved", "solve_succeeded":
		return StatusOptimal
	case "infeasible", "primal_infeasible", "infeasible_problem_detected":
		return StatusInfeasible
	case "max_iterations", "max_iter", "maximum_iterations_exceeded",
		"maximum_cputime_exceeded", "maximum_wallclocktime_exceeded":
		return StatusMaxIterations
	case "solver_error", "error", "internal_error",
		"invalid_number_detected", "restoration_failed":
		return StatusSolverError
	}
	return StatusUnknown
}

// String returns the canonical wire string. StatusUnknown has none and
// returns "unknown".
func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return StatusStringOptimal
	case StatusInfeasible:
		return StatusStringInfeasible
	case StatusMaxIterations:
		return StatusStringMaxIterations
	case StatusSolverError:
		return StatusStringSolverError
	default:
		return "unknown"
	}
}

// Success reports whether the solution arrays of a message with this status
// may be used.
func (s Status) Success() bool {
	return s == StatusOptimal
}

// Failure reports whether the status is one of the known failure kinds.
// StatusUnknown is neither a success nor a known failure.
func (s Status) Failure() bool {
	switch s {
	case StatusInfeasible, StatusMaxIterations, StatusSolverError:
		return true
	}
	return false
}
