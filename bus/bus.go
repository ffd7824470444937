// Package bus distributes published MPC solutions to subscribers, in
// process and over a gRPC server stream.
//
// Delivery is best effort: a subscriber whose buffer is full misses the
// message instead of stalling the producer. Published messages are shared
// by every subscriber and must not be mutated; a subscriber that needs to
// edit one works on mpcmsg.Solution.Clone.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"mpc-solution-core/mpcmsg"
	"mpc-solution-core/utils"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 16

type Bus struct {
	log *utils.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Subscription receives messages on C until Close or Bus.Close.
type Subscription struct {
	ID   string
	Name string
	C    <-chan *mpcmsg.Solution

	ch      chan *mpcmsg.Solution
	bus     *Bus
	dropped atomic.Uint64
	once    sync.Once
}

type Stats struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

func New(log *utils.Logger) *Bus {
	return &Bus{
		log:  log,
		subs: make(map[string]*Subscription),
	}
}

// Subscribe registers a subscriber with a queue of buffer messages.
// Subscribing to a closed bus returns an already closed subscription.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan *mpcmsg.Solution, buffer)
	s := &Subscription{
		ID:   uuid.NewString(),
		Name: name,
		C:    ch,
		ch:   ch,
		bus:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(ch) })
		return s
	}
	b.subs[s.ID] = s
	b.log.Info("subscriber %s (%s) joined, total=%d", s.ID, name, len(b.subs))
	return s
}

// Dropped is the number of messages this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.ID]; ok {
		delete(b.subs, s.ID)
		b.log.Info("subscriber %s (%s) left, dropped=%d remaining=%d", s.ID, s.Name, s.dropped.Load(), len(b.subs))
	}
	s.once.Do(func() { close(s.ch) })
}

// Publish hands m to every subscriber without blocking and returns how
// many received it.
func (b *Bus) Publish(m *mpcmsg.Solution) int {
	if m == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	b.published.Add(1)

	n := 0
	for _, s := range b.subs {
		select {
		case s.ch <- m:
			n++
		default:
			s.dropped.Add(1)
			total := b.dropped.Add(1)
			b.log.Debug("subscriber %s slow, dropped seq=%d (total dropped %d)", s.Name, m.Header.Seq, total)
		}
	}
	b.delivered.Add(uint64(n))
	return n
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.once.Do(func() { close(s.ch) })
		delete(b.subs, id)
	}
}
