package recorder

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpc-solution-core/mpcmsg"
)

func openTemp(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "mpc.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func message(seq uint32, status string) *mpcmsg.Solution {
	m := &mpcmsg.Solution{
		Header:      mpcmsg.Header{Seq: seq, Stamp: mpcmsg.Stamp{Secs: 100, Nsecs: seq}, FrameID: "map"},
		SolveStatus: status,
		SolveTime:   0.001 * float64(seq),
		EY:          math.Copysign(0, -1),
		XYWaypoint:  []float64{1, 2},
	}
	if mpcmsg.ParseStatus(status).Success() {
		m.SetStates([]mpcmsg.StateStep{{X: 1}, {X: 2}, {X: 3}})
		m.SetControls([]mpcmsg.ControlStep{{Df: 0.1}, {Df: 0.2}})
	}
	return m
}

func TestRecordAndReplay(t *testing.T) {
	ctx := context.Background()
	r := openTemp(t)

	assert.ErrorIs(t, r.Record(ctx, message(0, "optimal")), ErrNoSession)

	id, err := r.StartSession(ctx, "map", "unit test")
	require.NoError(t, err)

	var sent []*mpcmsg.Solution
	for i, st := range []string{"optimal", "Solve_Succeeded", "infeasible", "optimal", "whatever"} {
		m := message(uint32(i), st)
		sent = append(sent, m)
		require.NoError(t, r.Record(ctx, m))
	}

	n, err := r.Count(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, len(sent), n)

	var got []*mpcmsg.Solution
	require.NoError(t, r.Replay(ctx, id, func(m *mpcmsg.Solution) error {
		got = append(got, m)
		return nil
	}))
	require.Len(t, got, len(sent))
	for i := range sent {
		assert.True(t, sent[i].Equal(got[i]), "message %d differs", i)
	}
	assert.True(t, math.Signbit(got[0].EY), "negative zero survives the round trip")

	counts, err := r.StatusCounts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[mpcmsg.Status]int{
		mpcmsg.StatusOptimal:    3,
		mpcmsg.StatusInfeasible: 1,
		mpcmsg.StatusUnknown:    1,
	}, counts)
}

func TestReplayStopsOnError(t *testing.T) {
	ctx := context.Background()
	r := openTemp(t)
	id, err := r.StartSession(ctx, "map", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Record(ctx, message(uint32(i), "optimal")))
	}

	stop := errors.New("stop")
	calls := 0
	err = r.Replay(ctx, id, func(*mpcmsg.Solution) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	r := openTemp(t)

	assert.ErrorIs(t, r.EndSession(ctx), ErrNoSession)

	first, err := r.StartSession(ctx, "map", "first")
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, message(1, "optimal")))
	require.NoError(t, r.EndSession(ctx))

	second, err := r.StartSession(ctx, "odom", "second")
	require.NoError(t, err)

	sessions, err := r.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	byID := map[string]Session{}
	for _, s := range sessions {
		byID[s.ID] = s
	}
	assert.Equal(t, 1, byID[first].Messages)
	assert.False(t, byID[first].EndedAt.IsZero())
	assert.Equal(t, "odom", byID[second].FrameID)
	assert.True(t, byID[second].EndedAt.IsZero())
}

func TestDrain(t *testing.T) {
	ctx := context.Background()
	r := openTemp(t)
	id, err := r.StartSession(ctx, "map", "")
	require.NoError(t, err)

	ch := make(chan *mpcmsg.Solution, 4)
	ch <- message(1, "optimal")
	ch <- nil
	ch <- message(2, "max_iterations")
	close(ch)
	r.Drain(ctx, ch)

	n, err := r.Count(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mpc.db")

	r, err := Open(path, nil)
	require.NoError(t, err)
	id, err := r.StartSession(ctx, "map", "")
	require.NoError(t, err)
	require.NoError(t, r.Record(ctx, message(7, "optimal")))
	require.NoError(t, r.Close())

	r, err = Open(path, nil)
	require.NoError(t, err)
	defer r.Close()
	n, err := r.Count(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
