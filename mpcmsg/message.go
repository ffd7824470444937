// Package mpcmsg defines the MPC solution message published once per control
// cycle by a solver node, together with its validation rules and codecs.
//
// Units: positions in meters, speeds in m/s, angles in radians,
// accelerations in m/s², times in seconds.
package mpcmsg

import (
	"math"
	"time"
)

// Stamp is a wall-clock timestamp split into whole seconds and nanoseconds.
type Stamp struct {
	Secs  int64  `json:"secs"`
	Nsecs uint32 `json:"nsecs"`
}

// StampFromTime converts t to a Stamp.
func StampFromTime(t time.Time) Stamp {
	secs, nsecs := t.Unix(), int64(t.Nanosecond())
	return Stamp{Secs: secs, Nsecs: uint32(nsecs)}
}

// Time returns the stamp as a UTC time.Time.
func (s Stamp) Time() time.Time {
	return time.Unix(s.Secs, int64(s.Nsecs)).UTC()
}

// Before reports whether s is strictly earlier than o.
func (s Stamp) Before(o Stamp) bool {
	if s.Secs != o.Secs {
		return s.Secs < o.Secs
	}
	return s.Nsecs < o.Nsecs
}

// Header carries provenance and ordering metadata owned by the transport.
type Header struct {
	Seq     uint32 `json:"seq"`
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Solution is the result of one MPC solve.
//
// A published *Solution is shared by every consumer and must be treated as
// read-only. Use Clone to obtain a private copy.
type Solution struct {
	Header Header `json:"header"`

	// SolveStatus is the raw status string as emitted by the producer.
	// Use Status to classify it.
	SolveStatus string  `json:"solve_status"`
	SolveTime   float64 `json:"solve_time"` // s, >= 0

	// Predicted state trajectory, all length N.
	Xs   []float64 `json:"xs"`
	Ys   []float64 `json:"ys"`
	Vs   []float64 `json:"vs"`
	Psis []float64 `json:"psis"`

	// Reference trajectory tracked by the solver, all length N.
	Xr   []float64 `json:"xr"`
	Yr   []float64 `json:"yr"`
	Vr   []float64 `json:"vr"`
	Psir []float64 `json:"psir"`

	// Control sequence, length N or N-1.
	Df  []float64 `json:"df"`  // front steering angle, rad
	Acc []float64 `json:"acc"` // longitudinal acceleration, m/s²

	S    float64 `json:"s"`     // Frenet arc length at current state, m
	EY   float64 `json:"e_y"`   // lateral error, m
	EPsi float64 `json:"e_psi"` // heading error, rad

	AyMdl []float64 `json:"ay_mdl"` // predicted lateral acceleration, m/s²
	VRef  float64   `json:"v_ref"`  // reference speed at current state, m/s

	// XYWaypoint holds flattened (x, y) pairs.
	XYWaypoint []float64 `json:"xy_waypoint"`
}

// Status classifies SolveStatus.
func (m *Solution) Status() Status {
	return ParseStatus(m.SolveStatus)
}

// Usable reports whether the solution arrays may be trusted at all. It only
// looks at the status; callers still need Validate for the length invariants.
func (m *Solution) Usable() bool {
	return m.Status().Success()
}

// Horizon returns N, the length of the state trajectory.
func (m *Solution) Horizon() int {
	return len(m.Xs)
}

// ControlLen returns the length of the control sequence.
func (m *Solution) ControlLen() int {
	return len(m.Df)
}

// Clone returns a deep copy of m.
func (m *Solution) Clone() *Solution {
	if m == nil {
		return nil
	}
	c := *m
	c.Xs = cloneFloats(m.Xs)
	c.Ys = cloneFloats(m.Ys)
	c.Vs = cloneFloats(m.Vs)
	c.Psis = cloneFloats(m.Psis)
	c.Xr = cloneFloats(m.Xr)
	c.Yr = cloneFloats(m.Yr)
	c.Vr = cloneFloats(m.Vr)
	c.Psir = cloneFloats(m.Psir)
	c.Df = cloneFloats(m.Df)
	c.Acc = cloneFloats(m.Acc)
	c.AyMdl = cloneFloats(m.AyMdl)
	c.XYWaypoint = cloneFloats(m.XYWaypoint)
	return &c
}

// Equal reports whether m and o carry the same values bit for bit.
// Nil and empty sequences compare equal.
func (m *Solution) Equal(o *Solution) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Header != o.Header || m.SolveStatus != o.SolveStatus {
		return false
	}
	scalars := [][2]float64{
		{m.SolveTime, o.SolveTime},
		{m.S, o.S},
		{m.EY, o.EY},
		{m.EPsi, o.EPsi},
		{m.VRef, o.VRef},
	}
	for _, p := range scalars {
		if math.Float64bits(p[0]) != math.Float64bits(p[1]) {
			return false
		}
	}
	a, b := m.sequences(), o.sequences()
	for i := range a {
		if !equalBits(a[i].values, b[i].values) {
			return false
		}
	}
	return true
}

// namedSeq pairs a sequence with its wire name.
type namedSeq struct {
	name   string
	values []float64
}

// sequences lists every sequence field in wire order.
func (m *Solution) sequences() []namedSeq {
	return []namedSeq{
		{"xs", m.Xs}, {"ys", m.Ys}, {"vs", m.Vs}, {"psis", m.Psis},
		{"xr", m.Xr}, {"yr", m.Yr}, {"vr", m.Vr}, {"psir", m.Psir},
		{"df", m.Df}, {"acc", m.Acc},
		{"ay_mdl", m.AyMdl},
		{"xy_waypoint", m.XYWaypoint},
	}
}

// ClearArrays drops every solution array. Used by producers when the solve
// failed and no trajectory is available.
func (m *Solution) ClearArrays() {
	m.Xs, m.Ys, m.Vs, m.Psis = nil, nil, nil, nil
	m.Xr, m.Yr, m.Vr, m.Psir = nil, nil, nil, nil
	m.Df, m.Acc, m.AyMdl = nil, nil, nil
}

func cloneFloats(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

func equalBits(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}
