// Package producer builds one MPC solution message per control cycle.
//
// A Producer wraps a Solver and guarantees that every call yields a
// well-formed message: solver errors, panics and deadline expiry become
// failure statuses, never missing messages.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mpc-solution-core/mpcmsg"
	"mpc-solution-core/utils"
)

// VehicleState is the measured state the solve starts from.
type VehicleState struct {
	X   float64 // m
	Y   float64 // m
	Psi float64 // rad
	V   float64 // m/s
}

// Input is everything a Solver sees for one cycle.
type Input struct {
	T     float64 // scenario time, s
	State VehicleState
}

// Result is a raw solver output. Status is forwarded verbatim as
// solve_status. Arrays are only published for success statuses.
type Result struct {
	Status    string
	States    []mpcmsg.StateStep
	Controls  []mpcmsg.ControlStep
	S         float64
	EY        float64
	EPsi      float64
	VRef      float64
	Waypoints []mpcmsg.Waypoint
}

// Solver runs one optimization. Implementations should honor ctx; a solve
// that outlives the deadline is reported as max_iterations either way.
type Solver interface {
	Solve(ctx context.Context, in Input) (Result, error)
}

// Config controls how messages are stamped and checked.
type Config struct {
	FrameID      string
	Convention   mpcmsg.ControlConvention
	Headings     mpcmsg.HeadingRange
	SolveTimeout time.Duration // 0 disables the deadline
}

func DefaultConfig() Config {
	return Config{
		FrameID:      "map",
		Convention:   mpcmsg.ControlsPerInterval,
		Headings:     mpcmsg.HeadingSymmetric,
		SolveTimeout: 100 * time.Millisecond,
	}
}

// Diagnostics counts outcomes since construction.
type Diagnostics struct {
	Produced   uint64
	Optimal    uint64
	Failures   uint64
	Downgraded uint64 // solver claimed success but the result broke an invariant
	Panics     uint64
	Deadlines  uint64
	Skipped    uint64 // cycles not solved because an abandoned solve was still running
	LastSeq    uint32
	LastStatus mpcmsg.Status
}

// Producer is not safe for concurrent use; production is single-threaded.
type Producer struct {
	cfg       Config
	solver    Solver
	validator mpcmsg.Validator
	log       *utils.Logger
	clock     func() time.Time

	seq       uint32
	lastStamp mpcmsg.Stamp
	started   bool
	diag      Diagnostics

	// busy is closed when a solve abandoned at its deadline returns.
	busy chan struct{}
}

// Option customizes a Producer.
type Option func(*Producer)

// WithClock replaces time.Now for stamping and solve timing.
func WithClock(clock func() time.Time) Option {
	return func(p *Producer) { p.clock = clock }
}

// WithLogger sets the logger. The default discards.
func WithLogger(log *utils.Logger) Option {
	return func(p *Producer) { p.log = log }
}

func New(cfg Config, solver Solver, opts ...Option) *Producer {
	p := &Producer{
		cfg:       cfg,
		solver:    solver,
		validator: mpcmsg.NewValidator(cfg.Convention, cfg.Headings),
		clock:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type solveOutcome struct {
	res Result
	err error
}

var (
	errSolverPanic = errors.New("solver panicked")
	errSolverBusy  = errors.New("previous solve still running")
)

// Produce runs one solve and returns the message to publish. It never
// returns nil.
func (p *Producer) Produce(ctx context.Context, in Input) *mpcmsg.Solution {
	start := p.clock()
	res, err := p.solve(ctx, in)
	elapsed := p.clock().Sub(start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	m := &mpcmsg.Solution{SolveTime: elapsed}
	switch {
	case errors.Is(err, errSolverBusy):
		p.diag.Skipped++
		p.log.Warn("solve skipped: %v", err)
		m.SolveStatus = mpcmsg.StatusStringMaxIterations
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		p.diag.Deadlines++
		p.log.Warn("solve exceeded %s deadline after %.3fs", p.cfg.SolveTimeout, elapsed)
		m.SolveStatus = mpcmsg.StatusStringMaxIterations
	case err != nil:
		if errors.Is(err, errSolverPanic) {
			p.diag.Panics++
		}
		p.log.Error("solve failed: %v", err)
		m.SolveStatus = mpcmsg.StatusStringSolverError
	default:
		p.fill(m, res)
	}

	p.stamp(m)

	if m.Usable() {
		if _, verr := p.validator.Validate(m); verr != nil {
			p.diag.Downgraded++
			p.log.Error("seq=%d solver result rejected: %v", m.Header.Seq, verr)
			m.SolveStatus = mpcmsg.StatusStringSolverError
			m.ClearArrays()
		}
	}

	p.diag.Produced++
	p.diag.LastSeq = m.Header.Seq
	p.diag.LastStatus = m.Status()
	if m.Usable() {
		p.diag.Optimal++
	} else {
		p.diag.Failures++
	}
	return m
}

func (p *Producer) solve(ctx context.Context, in Input) (Result, error) {
	if p.solver == nil {
		return Result{}, errors.New("no solver configured")
	}
	if p.busy != nil {
		select {
		case <-p.busy:
			p.busy = nil
		default:
			// Solvers keep state between cycles, so never run two at once.
			return Result{}, errSolverBusy
		}
	}
	solveCtx := ctx
	if p.cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, p.cfg.SolveTimeout)
		defer cancel()
	}

	done := make(chan solveOutcome, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- solveOutcome{err: fmt.Errorf("%w: %v", errSolverPanic, r)}
			}
		}()
		res, err := p.solver.Solve(solveCtx, in)
		done <- solveOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && solveCtx.Err() != nil {
			// Finished, but only after the deadline.
			return Result{}, solveCtx.Err()
		}
		return out.res, out.err
	case <-solveCtx.Done():
		p.busy = finished
		return Result{}, solveCtx.Err()
	}
}

// fill copies a solver result into fresh slices. Failure statuses keep
// the scalars and waypoints but publish no arrays.
func (p *Producer) fill(m *mpcmsg.Solution, res Result) {
	m.SolveStatus = res.Status
	m.S, m.EY, m.EPsi, m.VRef = res.S, res.EY, res.EPsi, res.VRef
	m.SetWaypoints(res.Waypoints)
	if !m.Usable() {
		return
	}
	m.SetStates(res.States)
	m.SetControls(res.Controls)
	if p.cfg.Headings != mpcmsg.HeadingAny {
		for i := range m.Psis {
			m.Psis[i] = p.cfg.Headings.Wrap(m.Psis[i])
			m.Psir[i] = p.cfg.Headings.Wrap(m.Psir[i])
		}
	}
}

// stamp assigns the next sequence number and a stamp no earlier than the
// previous one.
func (p *Producer) stamp(m *mpcmsg.Solution) {
	st := mpcmsg.StampFromTime(p.clock())
	if p.started && st.Before(p.lastStamp) {
		st = p.lastStamp
	}
	if p.started {
		p.seq++
	}
	p.started = true
	p.lastStamp = st
	m.Header = mpcmsg.Header{Seq: p.seq, Stamp: st, FrameID: p.cfg.FrameID}
}

func (p *Producer) GetDiagnostics() Diagnostics {
	return p.diag
}
