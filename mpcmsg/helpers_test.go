package mpcmsg

import "math"

// sampleSolution builds an optimal solution with horizon n and the given
// number of controls along a gentle left curve.
func sampleSolution(n, controls int) *Solution {
	m := &Solution{
		Header: Header{
			Seq:     42,
			Stamp:   Stamp{Secs: 1_700_000_000, Nsecs: 123_456_789},
			FrameID: "map",
		},
		SolveStatus: StatusStringOptimal,
		SolveTime:   0.0123,
		S:           12.5,
		EY:          -0.05,
		EPsi:        0.01,
		VRef:        5.0,
		XYWaypoint:  []float64{10, 2.5},
	}
	steps := make([]StateStep, n)
	for i := range steps {
		t := 0.1 * float64(i)
		steps[i] = StateStep{
			X: 5 * t, Y: 0.1 * t * t, V: 5 + 0.01*float64(i), Psi: 0.02 * float64(i),
			XRef: 5 * t, YRef: 0, VRef: 5, PsiRef: 0,
		}
	}
	m.SetStates(steps)
	ctrl := make([]ControlStep, controls)
	for i := range ctrl {
		ctrl[i] = ControlStep{Df: 0.01 * math.Sin(float64(i)), Acc: 0.1, AyMdl: 0.2}
	}
	m.SetControls(ctrl)
	return m
}
