package mpcmsg

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors wrapped by ValidationError.
var (
	ErrNegativeSolveTime = errors.New("negative solve_time")
	ErrNonFinite         = errors.New("non-finite value")
	ErrLengthMismatch    = errors.New("sequence length mismatch")
	ErrControlConvention = errors.New("control length violates convention")
	ErrOddWaypoint       = errors.New("xy_waypoint has odd length")
	ErrMixedHeading      = errors.New("mixed heading conventions")
	ErrHeadingRange      = errors.New("heading outside configured range")
)

// ValidationError describes the first invariant a message violates.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...), Err: err}
}

// Validator checks the structural invariants of a Solution.
type Validator struct {
	Convention ControlConvention
	Headings   HeadingRange
}

// NewValidator returns a validator for the given conventions.
func NewValidator(conv ControlConvention, headings HeadingRange) Validator {
	return Validator{Convention: conv, Headings: headings}
}

// Result summarizes a successful validation.
type Result struct {
	Status     Status
	Horizon    int
	Controls   int
	Convention ControlConvention // concrete convention; ControlsAuto when arrays are unusable
	Usable     bool
}

// Validate checks m and returns what it learned about the message.
//
// solve_time and xy_waypoint are checked for every status. Solution arrays
// are only checked when the status is a success: a failed solve may carry
// empty or stale arrays, and those are never used.
func (v Validator) Validate(m *Solution) (Result, error) {
	if m == nil {
		return Result{}, invalid("message", ErrLengthMismatch, "nil message")
	}
	res := Result{Status: m.Status()}

	if math.IsNaN(m.SolveTime) || math.IsInf(m.SolveTime, 0) {
		return res, invalid("solve_time", ErrNonFinite, "%v", m.SolveTime)
	}
	if m.SolveTime < 0 {
		return res, invalid("solve_time", ErrNegativeSolveTime, "%v < 0", m.SolveTime)
	}
	if len(m.XYWaypoint)%2 != 0 {
		return res, invalid("xy_waypoint", ErrOddWaypoint, "length %d", len(m.XYWaypoint))
	}

	if !res.Status.Success() {
		return res, nil
	}

	n := len(m.Xs)
	for _, seq := range m.sequences()[:8] {
		if len(seq.values) != n {
			return res, invalid(seq.name, ErrLengthMismatch, "length %d, want %d (len(xs))", len(seq.values), n)
		}
	}
	if len(m.Acc) != len(m.Df) {
		return res, invalid("acc", ErrLengthMismatch, "length %d, want %d (len(df))", len(m.Acc), len(m.Df))
	}
	if len(m.AyMdl) != len(m.Df) {
		return res, invalid("ay_mdl", ErrLengthMismatch, "length %d, want %d (len(df))", len(m.AyMdl), len(m.Df))
	}

	conv, ok := Detect(n, len(m.Df))
	if !ok {
		return res, invalid("df", ErrControlConvention, "length %d with horizon %d is neither N nor N-1", len(m.Df), n)
	}
	if v.Convention != ControlsAuto && v.Convention.ExpectedLen(n) != len(m.Df) {
		return res, invalid("df", ErrControlConvention, "length %d with horizon %d, convention %s", len(m.Df), n, v.Convention)
	}
	if v.Convention != ControlsAuto {
		conv = v.Convention
	}

	for _, seq := range m.sequences() {
		for i, x := range seq.values {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return res, invalid(seq.name, ErrNonFinite, "index %d is %v", i, x)
			}
		}
	}
	for _, s := range []struct {
		name string
		x    float64
	}{{"s", m.S}, {"e_y", m.EY}, {"e_psi", m.EPsi}, {"v_ref", m.VRef}} {
		if math.IsNaN(s.x) || math.IsInf(s.x, 0) {
			return res, invalid(s.name, ErrNonFinite, "%v", s.x)
		}
	}

	if err := v.checkHeadings(m); err != nil {
		return res, err
	}

	res.Horizon = n
	res.Controls = len(m.Df)
	res.Convention = conv
	res.Usable = true
	return res, nil
}

func (v Validator) checkHeadings(m *Solution) error {
	r := v.Headings
	if r == HeadingAny {
		detected, err := DetectHeadingRange(m.Psis, m.Psir)
		if err != nil {
			return invalid("psis", ErrMixedHeading, "%v", err)
		}
		r = detected
	}
	for _, seq := range []namedSeq{{"psis", m.Psis}, {"psir", m.Psir}} {
		for i, a := range seq.values {
			if !r.Contains(a) {
				return invalid(seq.name, ErrHeadingRange, "index %d = %g not in %s", i, a, r)
			}
		}
	}
	return nil
}
