package producer

import (
	"context"
	"fmt"
	"math"

	"mpc-solution-core/mpcmsg"
)

// TrackingConfig parameterizes the reference tracking solver. Geometry and
// limits default to a mid-size passenger car.
type TrackingConfig struct {
	Horizon int     `json:"horizon" yaml:"horizon"` // N, number of predicted states
	DtS     float64 `json:"dt_s" yaml:"dt_s"`

	LF float64 `json:"l_f" yaml:"l_f"` // CoG to front axle, m
	LR float64 `json:"l_r" yaml:"l_r"` // CoG to rear axle, m

	VSet     float64 `json:"v_set" yaml:"v_set"`           // driver set speed, m/s
	AyMax    float64 `json:"ay_max" yaml:"ay_max"`         // m/s²
	AxMax    float64 `json:"ax_max" yaml:"ax_max"`         // m/s²
	AxMin    float64 `json:"ax_min" yaml:"ax_min"`         // m/s², negative
	DfMax    float64 `json:"df_max" yaml:"df_max"`         // rad
	DfDotMax float64 `json:"df_dot_max" yaml:"df_dot_max"` // rad/s

	KEy   float64 `json:"k_ey" yaml:"k_ey"`     // steering gain on lateral error, rad/m
	KEpsi float64 `json:"k_epsi" yaml:"k_epsi"` // steering gain on heading error

	// Lateral error beyond which the problem is reported infeasible.
	EyLimit float64 `json:"ey_limit" yaml:"ey_limit"`

	MaxIterations int     `json:"max_iterations" yaml:"max_iterations"`
	Tolerance     float64 `json:"tolerance" yaml:"tolerance"`

	// Controls selects N or N-1 control steps; ControlsAuto means N-1.
	Controls mpcmsg.ControlConvention `json:"-" yaml:"-"`

	Waypoints       int     `json:"waypoints" yaml:"waypoints"`
	WaypointSpacing float64 `json:"waypoint_spacing" yaml:"waypoint_spacing"` // m
}

func DefaultTrackingConfig() TrackingConfig {
	return TrackingConfig{
		Horizon:         20,
		DtS:             0.2,
		LF:              1.5213,
		LR:              1.4987,
		VSet:            45.0 / 2.237,
		AyMax:           4.0,
		AxMax:           5.0,
		AxMin:           -10.0,
		DfMax:           30 * math.Pi / 180,
		DfDotMax:        30 * math.Pi / 180,
		KEy:             0.25,
		KEpsi:           1.0,
		EyLimit:         5.0,
		MaxIterations:   50,
		Tolerance:       1e-6,
		Controls:        mpcmsg.ControlsPerInterval,
		Waypoints:       5,
		WaypointSpacing: 10,
	}
}

// Validate checks the configuration is usable.
func (c TrackingConfig) Validate() error {
	switch {
	case c.Horizon < 2:
		return fmt.Errorf("horizon must be >= 2, got %d", c.Horizon)
	case c.DtS <= 0:
		return fmt.Errorf("invalid dt_s: %f", c.DtS)
	case c.LF <= 0 || c.LR <= 0:
		return fmt.Errorf("invalid axle distances l_f=%f l_r=%f", c.LF, c.LR)
	case c.VSet <= 0:
		return fmt.Errorf("invalid v_set: %f", c.VSet)
	case c.AyMax <= 0:
		return fmt.Errorf("invalid ay_max: %f", c.AyMax)
	case c.AxMax <= 0 || c.AxMin >= 0:
		return fmt.Errorf("invalid acceleration limits [%f, %f]", c.AxMin, c.AxMax)
	case c.DfMax <= 0 || c.DfDotMax <= 0:
		return fmt.Errorf("invalid steering limits df_max=%f df_dot_max=%f", c.DfMax, c.DfDotMax)
	case c.MaxIterations <= 0:
		return fmt.Errorf("invalid max_iterations: %d", c.MaxIterations)
	}
	return nil
}

// TrackingSolver is a deterministic reference solver for a kinematic
// bicycle following a constant-curvature path. Each solve refines a control
// sequence by repeated rollout: steering from the Frenet errors of each
// predicted state, acceleration from the speed error over the horizon.
// The previous solution, shifted by one step, seeds the next solve.
type TrackingSolver struct {
	cfg  TrackingConfig
	path Path

	warm    []mpcmsg.ControlStep
	prevDf  float64
	lastIts int
}

func NewTrackingSolver(cfg TrackingConfig, path Path) *TrackingSolver {
	return &TrackingSolver{cfg: cfg, path: path}
}

// Reset clears the warm start.
func (ts *TrackingSolver) Reset() {
	ts.warm = nil
	ts.prevDf = 0
}

// LastIterations is the number of refinement passes of the latest solve.
func (ts *TrackingSolver) LastIterations() int {
	return ts.lastIts
}

// controlLen is the number of control intervals actually optimized.
func (ts *TrackingSolver) controlLen() int {
	return ts.cfg.Horizon - 1
}

// SpeedTarget caps the set speed by the lateral acceleration limit on
// curvature kappa.
func (ts *TrackingSolver) SpeedTarget(kappa float64) float64 {
	v := ts.cfg.VSet
	if k := math.Abs(kappa); k > 1e-9 {
		v = math.Min(v, math.Sqrt(ts.cfg.AyMax/k))
	}
	return v
}

func (ts *TrackingSolver) Solve(ctx context.Context, in Input) (Result, error) {
	st := in.State
	s0, ey0, epsi0 := ts.path.Frenet(st.X, st.Y, st.Psi)
	vTarget := ts.SpeedTarget(ts.path.At(s0).Kappa)

	res := Result{S: s0, EY: ey0, EPsi: epsi0, VRef: vTarget}
	res.Waypoints = ts.waypoints(s0)

	if math.Abs(ey0) > ts.cfg.EyLimit {
		ts.Reset()
		res.Status = "Infeasible_Problem_Detected"
		return res, nil
	}

	u := ts.seed()
	var states []mpcmsg.StateStep
	converged := false
	for it := 1; it <= ts.cfg.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		states = ts.rollout(st, u, s0, vTarget)
		next := ts.law(states, vTarget)
		diff := 0.0
		for i := range next {
			diff = math.Max(diff, math.Abs(next[i].Df-u[i].Df))
			diff = math.Max(diff, math.Abs(next[i].Acc-u[i].Acc))
		}
		u = next
		ts.lastIts = it
		if diff < ts.cfg.Tolerance {
			converged = true
			break
		}
	}
	states = ts.rollout(st, u, s0, vTarget)
	ts.fillAy(states, u)

	if !converged {
		// No usable trajectory: next solve starts cold.
		ts.Reset()
		res.Status = "Maximum_Iterations_Exceeded"
		return res, nil
	}

	ts.warm = u
	ts.prevDf = u[0].Df

	if ts.cfg.Controls == mpcmsg.ControlsPerState {
		u = append(u, u[len(u)-1])
	}
	res.Status = "Solve_Succeeded"
	res.States = states
	res.Controls = u
	return res, nil
}

// seed returns the previous controls shifted one step, repeating the last.
func (ts *TrackingSolver) seed() []mpcmsg.ControlStep {
	n := ts.controlLen()
	u := make([]mpcmsg.ControlStep, n)
	if len(ts.warm) == n {
		copy(u, ts.warm[1:])
		u[n-1] = ts.warm[n-1]
	}
	return u
}

// rollout integrates the kinematic bicycle from st under u. The reference
// advances along the path at vTarget.
func (ts *TrackingSolver) rollout(st VehicleState, u []mpcmsg.ControlStep, s0, vTarget float64) []mpcmsg.StateStep {
	c := ts.cfg
	out := make([]mpcmsg.StateStep, c.Horizon)
	x, y, psi, v := st.X, st.Y, st.Psi, st.V
	for i := range out {
		ref := ts.path.At(s0 + vTarget*c.DtS*float64(i))
		out[i] = mpcmsg.StateStep{
			X: x, Y: y, V: v, Psi: psi,
			XRef: ref.X, YRef: ref.Y, VRef: vTarget, PsiRef: ref.Psi,
		}
		if i == len(u) {
			break
		}
		beta := math.Atan(c.LR / (c.LF + c.LR) * math.Tan(u[i].Df))
		x += c.DtS * v * math.Cos(psi+beta)
		y += c.DtS * v * math.Sin(psi+beta)
		psi += c.DtS * v / c.LR * math.Sin(beta)
		v = math.Max(0, v+c.DtS*u[i].Acc)
	}
	return out
}

// law computes one control per interval from the predicted states.
func (ts *TrackingSolver) law(states []mpcmsg.StateStep, vTarget float64) []mpcmsg.ControlStep {
	c := ts.cfg
	n := ts.controlLen()
	out := make([]mpcmsg.ControlStep, n)
	horizonTime := float64(c.Horizon) * c.DtS
	prevDf := ts.prevDf
	for i := 0; i < n; i++ {
		sp := states[i]
		s, ey, epsi := ts.path.Frenet(sp.X, sp.Y, sp.Psi)
		kappa := ts.path.At(s).Kappa

		df := math.Atan((c.LF+c.LR)*kappa) - c.KEy*ey - c.KEpsi*epsi
		df = clampFloat(df, -c.DfMax, c.DfMax)
		maxStep := c.DfDotMax * c.DtS
		df = clampFloat(df, prevDf-maxStep, prevDf+maxStep)
		prevDf = df

		acc := (vTarget - sp.V) / horizonTime
		if i > 0 {
			acc -= 0.5 * (sp.V - states[i-1].V) / c.DtS
		}
		acc = clampFloat(acc, c.AxMin, c.AxMax)

		out[i] = mpcmsg.ControlStep{Df: df, Acc: acc}
	}
	return out
}

// fillAy sets the model lateral acceleration ay = v·ψ̇ for each control.
func (ts *TrackingSolver) fillAy(states []mpcmsg.StateStep, u []mpcmsg.ControlStep) {
	c := ts.cfg
	for i := range u {
		beta := math.Atan(c.LR / (c.LF + c.LR) * math.Tan(u[i].Df))
		v := states[i].V
		u[i].AyMdl = v * v / c.LR * math.Sin(beta)
	}
}

func (ts *TrackingSolver) waypoints(s0 float64) []mpcmsg.Waypoint {
	out := make([]mpcmsg.Waypoint, ts.cfg.Waypoints)
	for k := range out {
		p := ts.path.At(s0 + ts.cfg.WaypointSpacing*float64(k+1))
		out[k] = mpcmsg.Waypoint{X: p.X, Y: p.Y}
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
