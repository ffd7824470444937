package mpcmsg

import "fmt"

// StateStep is one predicted time step zipped from the parallel state and
// reference arrays.
type StateStep struct {
	X, Y, V, Psi             float64
	XRef, YRef, VRef, PsiRef float64
}

// ControlStep is one control interval zipped from df, acc and ay_mdl.
type ControlStep struct {
	Df    float64
	Acc   float64
	AyMdl float64
}

// Waypoint is one (x, y) pair of xy_waypoint.
type Waypoint struct {
	X, Y float64
}

// States zips the state and reference arrays index by index. It returns nil
// when the arrays are not all the same length; validate first.
func (m *Solution) States() []StateStep {
	n := len(m.Xs)
	for _, seq := range m.sequences()[:8] {
		if len(seq.values) != n {
			return nil
		}
	}
	out := make([]StateStep, n)
	for i := range out {
		out[i] = StateStep{
			X: m.Xs[i], Y: m.Ys[i], V: m.Vs[i], Psi: m.Psis[i],
			XRef: m.Xr[i], YRef: m.Yr[i], VRef: m.Vr[i], PsiRef: m.Psir[i],
		}
	}
	return out
}

// Controls zips df, acc and ay_mdl. It returns nil when their lengths differ.
func (m *Solution) Controls() []ControlStep {
	n := len(m.Df)
	if len(m.Acc) != n || len(m.AyMdl) != n {
		return nil
	}
	out := make([]ControlStep, n)
	for i := range out {
		out[i] = ControlStep{Df: m.Df[i], Acc: m.Acc[i], AyMdl: m.AyMdl[i]}
	}
	return out
}

// FirstControl returns the control to apply now. ok is false when the
// message carries no controls or the status is not a success.
func (m *Solution) FirstControl() (ControlStep, bool) {
	if !m.Usable() || len(m.Df) == 0 || len(m.Acc) != len(m.Df) {
		return ControlStep{}, false
	}
	step := ControlStep{Df: m.Df[0], Acc: m.Acc[0]}
	if len(m.AyMdl) > 0 {
		step.AyMdl = m.AyMdl[0]
	}
	return step, true
}

// Waypoints unflattens xy_waypoint into pairs.
func (m *Solution) Waypoints() ([]Waypoint, error) {
	if len(m.XYWaypoint)%2 != 0 {
		return nil, fmt.Errorf("xy_waypoint length %d: %w", len(m.XYWaypoint), ErrOddWaypoint)
	}
	out := make([]Waypoint, len(m.XYWaypoint)/2)
	for i := range out {
		out[i] = Waypoint{X: m.XYWaypoint[2*i], Y: m.XYWaypoint[2*i+1]}
	}
	return out, nil
}

// SetStates writes steps back into the parallel arrays, allocating fresh
// slices.
func (m *Solution) SetStates(steps []StateStep) {
	n := len(steps)
	m.Xs, m.Ys, m.Vs, m.Psis = make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	m.Xr, m.Yr, m.Vr, m.Psir = make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, st := range steps {
		m.Xs[i], m.Ys[i], m.Vs[i], m.Psis[i] = st.X, st.Y, st.V, st.Psi
		m.Xr[i], m.Yr[i], m.Vr[i], m.Psir[i] = st.XRef, st.YRef, st.VRef, st.PsiRef
	}
}

// SetControls writes steps back into df, acc and ay_mdl.
func (m *Solution) SetControls(steps []ControlStep) {
	n := len(steps)
	m.Df, m.Acc, m.AyMdl = make([]float64, n), make([]float64, n), make([]float64, n)
	for i, c := range steps {
		m.Df[i], m.Acc[i], m.AyMdl[i] = c.Df, c.Acc, c.AyMdl
	}
}

// SetWaypoints flattens pts into xy_waypoint.
func (m *Solution) SetWaypoints(pts []Waypoint) {
	m.XYWaypoint = make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		m.XYWaypoint = append(m.XYWaypoint, p.X, p.Y)
	}
}
