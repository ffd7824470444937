package main

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpc-solution-core/closed_loop/follower"
	"mpc-solution-core/closed_loop/producer"
	"mpc-solution-core/mpcmsg"
	"mpc-solution-core/utils"
)

func TestAdvance(t *testing.T) {
	st := producer.VehicleState{V: 10}
	next := advance(st, follower.Command{Acc: 1}, 0.1, 1.5, 1.5)
	assert.InDelta(t, 1.0, next.X, 1e-12)
	assert.Zero(t, next.Y)
	assert.Zero(t, next.Psi)
	assert.InDelta(t, 10.1, next.V, 1e-12)

	left := advance(st, follower.Command{Df: 0.1}, 0.1, 1.5, 1.5)
	assert.Positive(t, left.Psi)
	assert.Positive(t, left.Y)

	stopped := advance(producer.VehicleState{V: 0.2}, follower.Command{Acc: -3}, 0.1, 1.5, 1.5)
	assert.Zero(t, stopped.V)

	wrapped := advance(producer.VehicleState{Psi: math.Pi - 1e-3, V: 20}, follower.Command{Df: 0.3}, 0.1, 1.5, 1.5)
	assert.True(t, mpcmsg.HeadingSymmetric.Contains(wrapped.Psi))
}

func newTestRunner(t *testing.T, scen Scenario) *Runner {
	t.Helper()
	cfg := DefaultNodeConfig()
	cfg.Record = filepath.Join(t.TempDir(), "run.db")
	cfg.Follower.MaxHoldCycles = 3
	r, err := NewRunner(context.Background(), cfg, scen, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRunnerStraight(t *testing.T) {
	scen := DefaultScenario()
	scen.Timing.DurationS = 2
	r := newTestRunner(t, scen)

	require.NoError(t, r.Run(context.Background()))

	d := r.prod.GetDiagnostics()
	assert.Equal(t, uint64(40), d.Produced)
	assert.Equal(t, uint32(39), d.LastSeq)
	assert.Positive(t, d.Optimal)
	assert.Positive(t, r.follower.Stats().Applied)
	assert.Equal(t, mpcmsg.ControlsPerInterval, r.follower.Pinned())
	assert.Positive(t, r.state.X, "vehicle moves along the path")
	assert.Less(t, math.Abs(r.state.Y), 0.5)

	sessions, err := r.rec.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 40, sessions[0].Messages)
	assert.False(t, sessions[0].EndedAt.IsZero())
	assert.Equal(t, "straight", sessions[0].Notes)
}

func TestRunnerFaultsHoldThenStop(t *testing.T) {
	scen := DefaultScenario()
	scen.Timing.DurationS = 2
	scen.Faults = []producer.Fault{{T0: 0.5, T1: 1.0, Error: "linear solver failed"}}
	r := newTestRunner(t, scen)

	require.NoError(t, r.Run(context.Background()))

	d := r.prod.GetDiagnostics()
	assert.Equal(t, uint64(40), d.Produced, "every cycle publishes, failures included")
	assert.GreaterOrEqual(t, d.Failures, uint64(9))

	fs := r.follower.Stats()
	assert.GreaterOrEqual(t, fs.Held, uint64(3))
	assert.GreaterOrEqual(t, fs.Stopped, uint64(6))
	assert.Positive(t, fs.Applied)
	assert.Equal(t, follower.DecisionApply, r.decision, "recovers after the outage")
}

func TestRunnerCanceled(t *testing.T) {
	r := newTestRunner(t, DefaultScenario())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Zero(t, r.prod.GetDiagnostics().Produced)
}

func TestReplayRecordedRun(t *testing.T) {
	scen := DefaultScenario()
	scen.Timing.DurationS = 0.5
	scen.Faults = []producer.Fault{{T0: 0.2, T1: 0.3, Status: "infeasible"}}
	r := newTestRunner(t, scen)
	require.NoError(t, r.Run(context.Background()))

	ctx := context.Background()
	sessions, err := r.rec.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].ID

	var buf bytes.Buffer
	require.NoError(t, listSessions(ctx, r.rec, &buf))
	assert.Contains(t, buf.String(), id)

	buf.Reset()
	require.NoError(t, replaySession(ctx, r.rec, id, &buf, false))
	sc := bufio.NewScanner(&buf)
	sc.Buffer(nil, 1<<20)
	var seqs []uint32
	for sc.Scan() {
		m, err := mpcmsg.DecodeJSON(sc.Bytes())
		require.NoError(t, err)
		seqs = append(seqs, m.Header.Seq)
	}
	require.NoError(t, sc.Err())
	require.Len(t, seqs, 10)
	for i, s := range seqs {
		assert.Equal(t, uint32(i), s)
	}

	buf.Reset()
	require.NoError(t, replaySession(ctx, r.rec, id, &buf, true))
	out := buf.String()
	assert.Contains(t, out, "infeasible: ")
	assert.Contains(t, out, "optimal: ")
	assert.Equal(t, 10, strings.Count(out, "seq="))

	assert.Error(t, replaySession(ctx, r.rec, "no-such-session", &buf, false))
}

func TestRunnerTraceReportsIterations(t *testing.T) {
	scen := DefaultScenario()
	scen.Timing.DurationS = 0.2
	var buf bytes.Buffer
	r, err := NewRunner(context.Background(), DefaultNodeConfig(), scen, utils.NewLogger(&buf, utils.TRACE))
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.NoError(t, r.Run(context.Background()))
	out := buf.String()
	assert.Equal(t, 4, strings.Count(out, " its="))
	assert.Contains(t, out, "skipped=0")
}
