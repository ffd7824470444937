package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"mpc-solution-core/bus"
	"mpc-solution-core/closed_loop/follower"
	"mpc-solution-core/closed_loop/producer"
	"mpc-solution-core/mpcmsg"
	"mpc-solution-core/recorder"
	"mpc-solution-core/utils"
)

// Runner drives one closed-loop run: each cycle the producer solves from
// the simulated vehicle state, the message is published on the bus (and
// CAN, when configured), the follower turns it into a command and the
// vehicle model integrates that command over the cycle.
type Runner struct {
	cfg  NodeConfig
	scen Scenario
	log  *utils.Logger

	solver   *producer.TrackingSolver
	prod     *producer.Producer
	bus      *bus.Bus
	follower *follower.Follower
	fsub     *bus.Subscription

	cmap   *utils.CANMap
	writer utils.CANWriter
	reader utils.CANReader
	tx     *utils.SolutionTx
	rec    *recorder.Recorder

	state    producer.VehicleState
	cmd      follower.Command
	decision follower.Decision
	decided  bool
}

func NewRunner(ctx context.Context, cfg NodeConfig, scen Scenario, log *utils.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	pcfg := cfg.ProducerConfig()
	scen.Solver.Controls = pcfg.Convention

	r := &Runner{
		cfg:   cfg,
		scen:  scen,
		log:   log,
		bus:   bus.New(log.Named("bus")),
		state: scen.InitialState.vehicle(),
	}

	r.solver = producer.NewTrackingSolver(scen.Solver, scen.Path)
	var solver producer.Solver = r.solver
	if len(scen.Faults) > 0 {
		solver = &producer.FaultySolver{Inner: r.solver, Faults: scen.Faults}
		log.Info("Fault injection: %d segment(s)", len(scen.Faults))
	}
	r.prod = producer.New(pcfg, solver, producer.WithLogger(log.Named("producer")))

	r.follower = follower.New(cfg.FollowerConfig(), log.Named("follower"))
	r.fsub = r.bus.Subscribe("follower", 4)

	if cfg.Interface != "" {
		cmap, err := utils.LoadCANMap(cfg.CANMap)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("load can map: %w", err)
		}
		r.cmap = cmap

		// Create CAN writer (TX)
		writer, err := utils.NewSocketCANWriter(ctx, cfg.Interface)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.writer = writer
		r.tx = utils.NewSolutionTx(cmap, writer, log.Named("can"))

		// Reader echoes our own summary frames back for monitoring
		reader, err := utils.NewSocketCANReader(ctx, cfg.Interface)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.reader = reader
	}

	if cfg.Record != "" {
		rec, err := recorder.Open(cfg.Record, log.Named("recorder"))
		if err != nil {
			r.Close()
			return nil, err
		}
		r.rec = rec
	}

	return r, nil
}

func (r *Runner) Close() {
	r.bus.Close()
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
	if r.rec != nil {
		if err := r.rec.Close(); err != nil {
			r.log.Error("close recorder: %v", err)
		}
	}
}

func (r *Runner) Run(ctx context.Context) error {
	cycle := r.cfg.Cycle()
	dt := cycle.Seconds()
	steps := int(math.Ceil(r.scen.Timing.DurationS/dt - 1e-9))

	r.log.Info("Starting run: scenario=%s duration=%.2fs cycle=%s steps=%d realtime=%v iface=%q listen=%q record=%q",
		r.scen.Meta.Name, r.scen.Timing.DurationS, cycle, steps, r.scen.Timing.RealTimeMode,
		r.cfg.Interface, r.cfg.Listen, r.cfg.Record)

	runCtx, cancel := context.WithCancel(ctx)
	var (
		wg      sync.WaitGroup
		session string
	)
	defer func() {
		// Closing the bus ends the recorder and stream subscriptions after
		// they have drained what was already queued.
		r.bus.Close()
		cancel()
		wg.Wait()
		if session != "" {
			if err := r.rec.EndSession(context.Background()); err != nil {
				r.log.Error("end session: %v", err)
			}
		}
	}()

	if r.cfg.Listen != "" {
		lis, err := net.Listen("tcp", r.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", r.cfg.Listen, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bus.Serve(runCtx, lis, r.bus, r.log.Named("grpc")); err != nil {
				r.log.Error("solution stream: %v", err)
			}
		}()
	}

	if r.rec != nil {
		id, err := r.rec.StartSession(ctx, r.cfg.FrameID, r.scen.Meta.Name)
		if err != nil {
			return err
		}
		session = id
		sub := r.bus.Subscribe("recorder", 256)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.rec.Drain(context.WithoutCancel(runCtx), sub.C)
		}()
	}

	if r.reader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.receiveLoop(runCtx)
		}()
	}

	var tick <-chan time.Time
	if r.scen.Timing.RealTimeMode {
		ticker := time.NewTicker(cycle)
		defer ticker.Stop()
		tick = ticker.C
	}

	for k := 0; k < steps; k++ {
		if tick != nil {
			select {
			case <-ctx.Done():
			case <-tick:
			}
		}
		if err := ctx.Err(); err != nil {
			r.log.Warn("Context canceled; stopping at cycle %d", k)
			r.report()
			return err
		}

		t := float64(k) * dt
		if err := r.step(ctx, t, dt); err != nil {
			return err
		}
	}

	r.report()
	return nil
}

// step runs one control cycle at scenario time t.
func (r *Runner) step(ctx context.Context, t, dt float64) error {
	m := r.prod.Produce(ctx, producer.Input{T: t, State: r.state})
	r.bus.Publish(m)

	if r.tx != nil {
		if err := r.tx.Send(ctx, m); err != nil {
			r.log.Critical("Transmit failed at t=%.3f: %v", t, err)
			return err
		}
	}

	r.follow(t)
	r.state = advance(r.state, r.cmd, dt, r.scen.Solver.LF, r.scen.Solver.LR)

	if r.log.Enabled(utils.TRACE) {
		// Iterations are only read after a solve that returned in time; an
		// abandoned one may still be running.
		its := -1
		if m.Usable() {
			its = r.solver.LastIterations()
		}
		r.log.Trace("t=%.3f seq=%d status=%s solve=%.4fs its=%d N=%d df=%.4f acc=%.3f x=%.2f y=%.2f psi=%.3f v=%.2f",
			t, m.Header.Seq, m.SolveStatus, m.SolveTime, its, m.Horizon(), r.cmd.Df, r.cmd.Acc,
			r.state.X, r.state.Y, r.state.Psi, r.state.V)
	}
	return nil
}

// follow hands every queued message to the follower and keeps its latest
// command.
func (r *Runner) follow(t float64) {
	for {
		select {
		case m, ok := <-r.fsub.C:
			if !ok {
				return
			}
			out := r.follower.Handle(m)
			if !r.decided || out.Decision != r.decision {
				r.log.Info("t=%.2f follower %s: seq=%d status=%s %s",
					t, out.Decision, m.Header.Seq, out.Status, out.Reason)
				r.decision, r.decided = out.Decision, true
			}
			r.cmd = out.Command
		default:
			return
		}
	}
}

// receiveLoop reads MPC summary frames back from the CAN bus and logs each
// completed cycle.
func (r *Runner) receiveLoop(ctx context.Context) {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	col := utils.NewSummaryCollector(r.cmap)
	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// ReadFrame only fails once the receiver is gone.
			if !errors.Is(err, utils.ErrReaderClosed) {
				r.log.Error("RX stopped: %v", err)
			}
			return
		}
		sum, done, err := col.Feed(frame)
		if err != nil {
			r.log.Warn("RX id=0x%X: %v", uint32(frame.ID), err)
			continue
		}
		if done {
			r.log.Debug("RX summary seq=%d status=%s usable=%v N=%d df0=%.4f acc0=%.3f",
				sum.Seq, sum.Status, sum.Usable, sum.Horizon, sum.Df0, sum.Acc0)
		}
	}
}

func (r *Runner) report() {
	d := r.prod.GetDiagnostics()
	f := r.follower.Stats()
	b := r.bus.Stats()
	r.log.Info("Produced=%d optimal=%d failures=%d downgraded=%d panics=%d deadlines=%d skipped=%d last_seq=%d last_status=%s",
		d.Produced, d.Optimal, d.Failures, d.Downgraded, d.Panics, d.Deadlines, d.Skipped, d.LastSeq, d.LastStatus)
	r.log.Info("Follower applied=%d held=%d stopped=%d rejected=%d stale=%d failures=%d pinned=%s",
		f.Applied, f.Held, f.Stopped, f.Rejected, f.Stale, f.Failures, r.follower.Pinned())
	r.log.Info("Bus published=%d delivered=%d dropped=%d", b.Published, b.Delivered, b.Dropped)
}

// advance integrates a kinematic bicycle over dt under cmd. Speed does not
// go negative.
func advance(st producer.VehicleState, cmd follower.Command, dt, lf, lr float64) producer.VehicleState {
	beta := math.Atan(lr / (lf + lr) * math.Tan(cmd.Df))
	st.X += st.V * math.Cos(st.Psi+beta) * dt
	st.Y += st.V * math.Sin(st.Psi+beta) * dt
	st.Psi = mpcmsg.HeadingSymmetric.Wrap(st.Psi + st.V/lr*math.Sin(beta)*dt)
	st.V = math.Max(0, st.V+cmd.Acc*dt)
	return st
}
