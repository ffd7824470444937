package mpcmsg

import (
	"fmt"
	"math"
	"strings"
)

// ControlConvention selects how long the control arrays (df, acc, ay_mdl)
// are relative to the state horizon N.
type ControlConvention int

const (
	// ControlsAuto accepts either N or N-1 controls.
	ControlsAuto ControlConvention = iota
	// ControlsPerState expects N controls, including a terminal one.
	ControlsPerState
	// ControlsPerInterval expects N-1 controls, none after the last state.
	ControlsPerInterval
)

// ParseControlConvention accepts "auto", "n" / "per_state" and
// "n-1" / "per_interval".
func ParseControlConvention(s string) (ControlConvention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ControlsAuto, nil
	case "n", "per_state":
		return ControlsPerState, nil
	case "n-1", "n_minus_1", "per_interval":
		return ControlsPerInterval, nil
	}
	return ControlsAuto, fmt.Errorf("unknown control convention %q", s)
}

func (c ControlConvention) String() string {
	switch c {
	case ControlsPerState:
		return "N"
	case ControlsPerInterval:
		return "N-1"
	default:
		return "auto"
	}
}

// ExpectedLen returns the control length this convention requires for
// horizon n. ControlsAuto has no single answer and returns -1.
func (c ControlConvention) ExpectedLen(n int) int {
	switch c {
	case ControlsPerState:
		return n
	case ControlsPerInterval:
		if n == 0 {
			return 0
		}
		return n - 1
	}
	return -1
}

// Detect returns the concrete convention a control length implies for
// horizon n. When n is 0 or 1 both conventions can yield the same length for
// empty inputs; Detect prefers ControlsPerState when n == controls.
func Detect(n, controls int) (ControlConvention, bool) {
	switch {
	case controls == n:
		return ControlsPerState, true
	case n > 0 && controls == n-1:
		return ControlsPerInterval, true
	}
	return ControlsAuto, false
}

// HeadingRange is the interval heading angles are wrapped into.
type HeadingRange int

const (
	// HeadingAny performs no wrapping and only checks that a message does not
	// mix the two conventions.
	HeadingAny HeadingRange = iota
	// HeadingSymmetric is (-π, π].
	HeadingSymmetric
	// HeadingPositive is [0, 2π).
	HeadingPositive
)

// ParseHeadingRange accepts "any", "symmetric" / "pi" and "positive" / "2pi".
func ParseHeadingRange(s string) (HeadingRange, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return HeadingAny, nil
	case "symmetric", "pi", "-pi..pi":
		return HeadingSymmetric, nil
	case "positive", "2pi", "0..2pi":
		return HeadingPositive, nil
	}
	return HeadingAny, fmt.Errorf("unknown heading range %q", s)
}

func (r HeadingRange) String() string {
	switch r {
	case HeadingSymmetric:
		return "(-pi, pi]"
	case HeadingPositive:
		return "[0, 2pi)"
	default:
		return "any"
	}
}

// Wrap maps an angle into the range. HeadingAny returns a unchanged.
func (r HeadingRange) Wrap(a float64) float64 {
	switch r {
	case HeadingSymmetric:
		w := math.Mod(a+math.Pi, 2*math.Pi)
		if w <= 0 {
			w += 2 * math.Pi
		}
		return w - math.Pi
	case HeadingPositive:
		w := math.Mod(a, 2*math.Pi)
		if w < 0 {
			w += 2 * math.Pi
		}
		if w >= 2*math.Pi {
			w = 0
		}
		return w
	}
	return a
}

// Contains reports whether a already lies inside the range.
func (r HeadingRange) Contains(a float64) bool {
	switch r {
	case HeadingSymmetric:
		return a > -math.Pi && a <= math.Pi
	case HeadingPositive:
		return a >= 0 && a < 2*math.Pi
	}
	return true
}

// DetectHeadingRange infers which convention a set of heading sequences
// follows. Values in [0, π] fit both; a negative value implies
// HeadingSymmetric and a value above π implies HeadingPositive. Seeing both
// is an error. HeadingAny is returned when the values fit either.
func DetectHeadingRange(seqs ...[]float64) (HeadingRange, error) {
	var negative, abovePi bool
	for _, seq := range seqs {
		for _, a := range seq {
			if a < -math.Pi || a >= 2*math.Pi {
				return HeadingAny, fmt.Errorf("heading %g outside both (-pi, pi] and [0, 2pi): %w", a, ErrMixedHeading)
			}
			if a < 0 {
				negative = true
			}
			if a > math.Pi {
				abovePi = true
			}
		}
	}
	switch {
	case negative && abovePi:
		return HeadingAny, fmt.Errorf("headings mix (-pi, pi] and [0, 2pi): %w", ErrMixedHeading)
	case negative:
		return HeadingSymmetric, nil
	case abovePi:
		return HeadingPositive, nil
	}
	return HeadingAny, nil
}
