package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mpc-solution-core/mpcmsg"
)

// Fault forces a solver outcome during [T0, T1) of scenario time. T1 < 0
// extends the fault to the end of the run.
type Fault struct {
	T0 float64 `json:"t0"`
	T1 float64 `json:"t1"`

	// Status replaces the solver status (e.g. "infeasible"). Arrays from
	// the inner solve are kept so a failure message may carry stale data.
	Status string `json:"status,omitempty"`
	// Error makes the solve return an error.
	Error string `json:"error,omitempty"`
	// Panic makes the solve panic.
	Panic bool `json:"panic,omitempty"`
	// DelayMS stalls the solve, honoring ctx.
	DelayMS int `json:"delay_ms,omitempty"`
	// DropControl removes the last control step, breaking the length
	// invariants of a successful result.
	DropControl bool `json:"drop_control,omitempty"`

	Comment string `json:"comment,omitempty"`
}

func (f Fault) active(t float64) bool {
	return t >= f.T0 && (f.T1 < 0 || t < f.T1)
}

// FaultySolver wraps a Solver and applies the first active fault.
type FaultySolver struct {
	Inner  Solver
	Faults []Fault
}

func (fs *FaultySolver) Solve(ctx context.Context, in Input) (Result, error) {
	var fault *Fault
	for i := range fs.Faults {
		if fs.Faults[i].active(in.T) {
			fault = &fs.Faults[i]
			break
		}
	}
	if fault == nil {
		return fs.Inner.Solve(ctx, in)
	}

	if fault.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(fault.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if fault.Panic {
		panic(fmt.Sprintf("injected panic at t=%.3f", in.T))
	}
	if fault.Error != "" {
		return Result{}, errors.New(fault.Error)
	}

	res, err := fs.Inner.Solve(ctx, in)
	if err != nil {
		return res, err
	}
	if fault.Status != "" {
		res.Status = fault.Status
	}
	if fault.DropControl && len(res.Controls) > 0 {
		res.Controls = append([]mpcmsg.ControlStep(nil), res.Controls[:len(res.Controls)-1]...)
	}
	return res, nil
}
