package mpcmsg

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSuccessScenario(t *testing.T) {
	m := sampleSolution(20, 19)
	v := NewValidator(ControlsAuto, HeadingAny)

	res, err := v.Validate(m)
	require.NoError(t, err)
	assert.True(t, res.Usable)
	assert.Equal(t, 20, res.Horizon)
	assert.Equal(t, 19, res.Controls)
	assert.Equal(t, ControlsPerInterval, res.Convention)
	assert.Equal(t, 5.0, m.VRef)

	states := m.States()
	require.Len(t, states, 20)
	for i := 0; i < 20; i++ {
		assert.Equal(t, m.Xs[i], states[i].X)
	}
	controls := m.Controls()
	require.Len(t, controls, 19)
	for i := 0; i < 19; i++ {
		assert.Equal(t, m.Df[i], controls[i].Df)
	}
}

func TestValidateFailureScenario(t *testing.T) {
	m := &Solution{SolveStatus: StatusStringInfeasible, SolveTime: 0.008}
	v := NewValidator(ControlsPerInterval, HeadingSymmetric)

	res, err := v.Validate(m)
	require.NoError(t, err)
	assert.False(t, res.Usable)
	assert.Equal(t, StatusInfeasible, res.Status)

	assert.Empty(t, m.States())
	assert.Empty(t, m.Controls())
	_, ok := m.FirstControl()
	assert.False(t, ok)
	wps, err := m.Waypoints()
	require.NoError(t, err)
	assert.Empty(t, wps)
}

func TestValidateFailureIgnoresStaleArrays(t *testing.T) {
	m := sampleSolution(20, 19)
	m.SolveStatus = "Maximum_CpuTime_Exceeded"
	m.Ys = m.Ys[:3]

	res, err := NewValidator(ControlsAuto, HeadingAny).Validate(m)
	require.NoError(t, err)
	assert.False(t, res.Usable)
	assert.Equal(t, StatusMaxIterations, res.Status)
}

func TestValidateSchemaViolation(t *testing.T) {
	m := sampleSolution(20, 19)
	m.Ys = m.Ys[:19]

	_, err := NewValidator(ControlsAuto, HeadingAny).Validate(m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "ys", verr.Field)

	// never truncated or padded
	assert.Len(t, m.Xs, 20)
	assert.Len(t, m.Ys, 19)
}

func TestValidateLengthInvariants(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m *Solution)
		conv   ControlConvention
		want   error
	}{
		{"xr short", func(m *Solution) { m.Xr = m.Xr[:9] }, ControlsAuto, ErrLengthMismatch},
		{"psir long", func(m *Solution) { m.Psir = append(m.Psir, 0) }, ControlsAuto, ErrLengthMismatch},
		{"acc differs from df", func(m *Solution) { m.Acc = m.Acc[:8] }, ControlsAuto, ErrLengthMismatch},
		{"ay_mdl differs from df", func(m *Solution) { m.AyMdl = m.AyMdl[:8] }, ControlsAuto, ErrLengthMismatch},
		{"controls N-2", func(m *Solution) {
			m.Df, m.Acc, m.AyMdl = m.Df[:8], m.Acc[:8], m.AyMdl[:8]
		}, ControlsAuto, ErrControlConvention},
		{"controls N+1", func(m *Solution) {
			m.Df, m.Acc, m.AyMdl = append(m.Df, 0, 0), append(m.Acc, 0, 0), append(m.AyMdl, 0, 0)
		}, ControlsAuto, ErrControlConvention},
		{"N-1 under per-state", func(m *Solution) {}, ControlsPerState, ErrControlConvention},
		{"odd waypoint", func(m *Solution) { m.XYWaypoint = []float64{1, 2, 3} }, ControlsAuto, ErrOddWaypoint},
		{"negative solve time", func(m *Solution) { m.SolveTime = -0.001 }, ControlsAuto, ErrNegativeSolveTime},
		{"nan solve time", func(m *Solution) { m.SolveTime = math.NaN() }, ControlsAuto, ErrNonFinite},
		{"nan state", func(m *Solution) { m.Vs[3] = math.NaN() }, ControlsAuto, ErrNonFinite},
		{"inf v_ref", func(m *Solution) { m.VRef = math.Inf(1) }, ControlsAuto, ErrNonFinite},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := sampleSolution(10, 9)
			tc.mutate(m)
			_, err := NewValidator(tc.conv, HeadingAny).Validate(m)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateConventions(t *testing.T) {
	perState := sampleSolution(10, 10)
	perInterval := sampleSolution(10, 9)

	_, err := NewValidator(ControlsPerState, HeadingAny).Validate(perState)
	assert.NoError(t, err)
	_, err = NewValidator(ControlsPerInterval, HeadingAny).Validate(perInterval)
	assert.NoError(t, err)
	_, err = NewValidator(ControlsPerInterval, HeadingAny).Validate(perState)
	assert.ErrorIs(t, err, ErrControlConvention)

	res, err := NewValidator(ControlsAuto, HeadingAny).Validate(perState)
	require.NoError(t, err)
	assert.Equal(t, ControlsPerState, res.Convention)
}

func TestValidateEmptyHorizon(t *testing.T) {
	m := &Solution{SolveStatus: StatusStringOptimal}
	for _, conv := range []ControlConvention{ControlsAuto, ControlsPerState, ControlsPerInterval} {
		res, err := NewValidator(conv, HeadingAny).Validate(m)
		require.NoError(t, err, conv.String())
		assert.True(t, res.Usable)
		assert.Zero(t, res.Horizon)
	}
}

func TestValidateHeadings(t *testing.T) {
	m := sampleSolution(10, 9)
	m.Psis[2] = -0.5
	m.Psis[5] = 4.0

	_, err := NewValidator(ControlsAuto, HeadingAny).Validate(m)
	assert.ErrorIs(t, err, ErrMixedHeading)

	m = sampleSolution(10, 9)
	m.Psir[1] = 3.5
	_, err = NewValidator(ControlsAuto, HeadingSymmetric).Validate(m)
	assert.ErrorIs(t, err, ErrHeadingRange)
	_, err = NewValidator(ControlsAuto, HeadingPositive).Validate(m)
	assert.NoError(t, err)

	m = sampleSolution(10, 9)
	m.Psis[0] = -math.Pi
	_, err = NewValidator(ControlsAuto, HeadingAny).Validate(m)
	assert.ErrorIs(t, err, ErrHeadingRange)
}

func TestValidateNil(t *testing.T) {
	_, err := NewValidator(ControlsAuto, HeadingAny).Validate(nil)
	assert.Error(t, err)
}
