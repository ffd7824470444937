package bus

import (
	"context"
	"io"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"mpc-solution-core/mpcmsg"
)

func testSolution(seq uint32) *mpcmsg.Solution {
	m := &mpcmsg.Solution{
		Header: mpcmsg.Header{
			Seq:     seq,
			Stamp:   mpcmsg.Stamp{Secs: 1_700_000_000, Nsecs: seq * 1000},
			FrameID: "map",
		},
		SolveStatus: "optimal",
		SolveTime:   0.012,
		S:           3.5,
		EY:          -0.1,
		EPsi:        0.02,
		VRef:        5,
		XYWaypoint:  []float64{1, 2, 3, 4},
	}
	m.SetStates([]mpcmsg.StateStep{{X: 1, V: 5}, {X: 2, V: 5}, {X: 3, V: 5}})
	m.SetControls([]mpcmsg.ControlStep{{Df: 0.1, Acc: 0.2, AyMdl: 0.3}, {Df: -0.1, Acc: 0, AyMdl: -0.3}})
	return m
}

func TestBusFanOut(t *testing.T) {
	b := New(nil)
	a := b.Subscribe("a", 4)
	c := b.Subscribe("c", 4)
	assert.NotEqual(t, a.ID, c.ID)

	m := testSolution(1)
	assert.Equal(t, 2, b.Publish(m))
	assert.Same(t, m, <-a.C)
	assert.Same(t, m, <-c.C)

	c.Close()
	c.Close()
	_, ok := <-c.C
	assert.False(t, ok)
	assert.Equal(t, 1, b.Publish(testSolution(2)))

	st := b.Stats()
	assert.Equal(t, Stats{Published: 2, Delivered: 3, Dropped: 0, Subscribers: 1}, st)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := New(nil)
	slow := b.Subscribe("slow", 1)
	fast := b.Subscribe("fast", 10)

	for i := uint32(0); i < 5; i++ {
		b.Publish(testSolution(i))
	}
	assert.Equal(t, uint64(4), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, uint32(0), (<-slow.C).Header.Seq)
	assert.Len(t, fast.C, 5)
	assert.Equal(t, uint64(4), b.Stats().Dropped)
}

func TestBusClose(t *testing.T) {
	b := New(nil)
	s := b.Subscribe("s", 0)
	assert.Equal(t, DefaultBuffer, cap(s.C))

	b.Close()
	_, ok := <-s.C
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish(testSolution(1)))
	s.Close()

	late := b.Subscribe("late", 1)
	_, ok = <-late.C
	assert.False(t, ok)
	assert.Zero(t, b.Publish(nil))
}

func TestBusConcurrentPublishAndClose(t *testing.T) {
	b := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := b.Subscribe("worker", 2)
			for j := 0; j < 20; j++ {
				select {
				case <-s.C:
				default:
				}
			}
			s.Close()
		}()
	}
	for i := uint32(0); i < 100; i++ {
		b.Publish(testSolution(i))
	}
	wg.Wait()
	assert.Equal(t, 0, b.Stats().Subscribers)
}

func TestCodec(t *testing.T) {
	var c Codec
	assert.Equal(t, CodecName, c.Name())

	m := testSolution(9)
	data, err := c.Marshal(m)
	require.NoError(t, err)
	var got mpcmsg.Solution
	require.NoError(t, c.Unmarshal(data, &got))
	assert.True(t, m.Equal(&got))

	req := &SubscribeRequest{Name: "viz", Buffer: 32}
	data, err = c.Marshal(req)
	require.NoError(t, err)
	var gotReq SubscribeRequest
	require.NoError(t, c.Unmarshal(data, &gotReq))
	assert.Equal(t, *req, gotReq)

	_, err = c.Marshal("nope")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(nil, new(int)))
	assert.Error(t, c.Unmarshal([]byte{0x0a, 0x05, 'a'}, &gotReq))
}

func startBufconn(t *testing.T, b *Bus) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer()
	RegisterSolutionStreamServer(srv, NewStreamServer(b, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCStream(t *testing.T) {
	b := New(nil)
	client := startBufconn(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.Subscribe(ctx, SubscribeRequest{Name: "test", Buffer: 8})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)

	sent := []*mpcmsg.Solution{testSolution(1), testSolution(2)}
	failed := &mpcmsg.Solution{
		Header:      mpcmsg.Header{Seq: 3, FrameID: "map"},
		SolveStatus: "infeasible",
		SolveTime:   0.008,
	}
	sent = append(sent, failed)
	for _, m := range sent {
		b.Publish(m)
	}

	for _, want := range sent {
		got, err := stream.Recv()
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got, cmpopts.EquateEmpty()))
	}

	b.Close()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestGRPCStreamCancel(t *testing.T) {
	b := New(nil)
	client := startBufconn(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := client.Subscribe(ctx, SubscribeRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return b.Stats().Subscribers == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestGRPCStreamBufferClamped(t *testing.T) {
	b := New(nil)
	client := startBufconn(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Subscribe(ctx, SubscribeRequest{Name: "greedy", Buffer: math.MaxUint32})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		assert.Equal(t, "greedy", s.Name)
		assert.Equal(t, MaxStreamBuffer, cap(s.ch))
	}
}
