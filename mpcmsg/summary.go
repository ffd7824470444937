package mpcmsg

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a horizon into a few numbers for logging and latency
// monitoring.
type Summary struct {
	Seq        uint32
	Status     Status
	SolveTime  float64
	Horizon    int
	Controls   int
	MeanSpeed  float64
	MaxAbsDf   float64
	MaxAbsAcc  float64
	MaxAbsAy   float64
	MaxDev     float64 // worst xy distance between prediction and reference, m
	PathLength float64 // polyline length of the predicted xy trajectory, m
}

// Summarize computes a Summary. Arrays of a message whose status is not a
// success are ignored.
func Summarize(m *Solution) Summary {
	sum := Summary{
		Seq:       m.Header.Seq,
		Status:    m.Status(),
		SolveTime: m.SolveTime,
		Horizon:   len(m.Xs),
		Controls:  len(m.Df),
	}
	if !sum.Status.Success() {
		return sum
	}
	if len(m.Vs) > 0 {
		sum.MeanSpeed = stat.Mean(m.Vs, nil)
	}
	sum.MaxAbsDf = maxAbs(m.Df)
	sum.MaxAbsAcc = maxAbs(m.Acc)
	sum.MaxAbsAy = maxAbs(m.AyMdl)

	if n := len(m.Xs); n > 0 && len(m.Ys) == n && len(m.Xr) == n && len(m.Yr) == n {
		dev := make([]float64, len(m.Xs))
		for i := range dev {
			dev[i] = floats.Distance([]float64{m.Xs[i], m.Ys[i]}, []float64{m.Xr[i], m.Yr[i]}, 2)
		}
		sum.MaxDev = floats.Max(dev)
	}
	if len(m.Xs) == len(m.Ys) {
		for i := 1; i < len(m.Xs); i++ {
			sum.PathLength += floats.Distance(
				[]float64{m.Xs[i-1], m.Ys[i-1]},
				[]float64{m.Xs[i], m.Ys[i]}, 2)
		}
	}
	return sum
}

func maxAbs(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return max(floats.Max(s), -floats.Min(s))
}
