// Package follower is a reference consumer of MPC solution messages. It
// validates each message, branches on solve status, drops stale or
// superseded messages and holds the last valid command when no fresh one
// is available.
package follower

import (
	"fmt"
	"time"

	"mpc-solution-core/mpcmsg"
	"mpc-solution-core/utils"
)

type Decision int

const (
	// DecisionApply: a fresh, valid, successful solution supplied the command.
	DecisionApply Decision = iota
	// DecisionHold: the message was unusable and the last valid command is kept.
	DecisionHold
	// DecisionStop: no valid command is available or the hold limit ran out.
	DecisionStop
)

func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionHold:
		return "hold"
	case DecisionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Command is what the follower hands to actuation.
type Command struct {
	Df  float64 // rad
	Acc float64 // m/s²
	Seq uint32  // header seq of the message the command came from
}

// Outcome reports how one message was handled.
type Outcome struct {
	Decision Decision
	Command  Command
	Status   mpcmsg.Status
	Reason   string
	Err      error // validation or convention error, if any
}

type Config struct {
	Convention mpcmsg.ControlConvention
	Headings   mpcmsg.HeadingRange

	// MaxHoldCycles bounds how many consecutive unusable messages keep the
	// previous command alive. 0 holds forever.
	MaxHoldCycles int
	// StopDecel is the deceleration commanded once holding ends, m/s².
	StopDecel float64
	// MaxAge drops messages whose stamp is older than now - MaxAge. 0
	// disables the age check; ordering is still enforced.
	MaxAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		Convention:    mpcmsg.ControlsAuto,
		Headings:      mpcmsg.HeadingAny,
		MaxHoldCycles: 10,
		StopDecel:     3.0,
	}
}

// Stats counts outcomes.
type Stats struct {
	Applied  uint64
	Held     uint64
	Stopped  uint64
	Rejected uint64 // failed validation
	Stale    uint64
	Failures uint64 // non-success status
}

// Follower is not safe for concurrent use.
type Follower struct {
	cfg       Config
	validator mpcmsg.Validator
	log       *utils.Logger
	clock     func() time.Time

	pinned    mpcmsg.ControlConvention
	last      Command
	haveLast  bool
	held      int
	lastSeq   uint32
	lastStamp mpcmsg.Stamp
	seen      bool

	stats Stats
}

func New(cfg Config, log *utils.Logger) *Follower {
	return &Follower{
		cfg:       cfg,
		validator: mpcmsg.NewValidator(cfg.Convention, cfg.Headings),
		log:       log,
		clock:     time.Now,
		pinned:    cfg.Convention,
	}
}

// SetClock replaces time.Now for the age check.
func (f *Follower) SetClock(clock func() time.Time) {
	f.clock = clock
}

// Pinned returns the control convention in force. Under ControlsAuto it is
// the convention of the first usable message, until then ControlsAuto.
func (f *Follower) Pinned() mpcmsg.ControlConvention {
	return f.pinned
}

func (f *Follower) Stats() Stats {
	return f.stats
}

// Last returns the last valid command.
func (f *Follower) Last() (Command, bool) {
	return f.last, f.haveLast
}

// Handle processes one received message.
func (f *Follower) Handle(m *mpcmsg.Solution) Outcome {
	if m == nil {
		f.stats.Rejected++
		return f.hold(mpcmsg.StatusUnknown, "nil message", nil)
	}
	status := m.Status()

	// A superseded message says nothing new, so it does not use up a
	// hold cycle; the command already in force stays.
	if reason := f.supersededReason(m); reason != "" {
		f.stats.Stale++
		f.log.Debug("seq=%d ignored: %s", m.Header.Seq, reason)
		return f.inForce(status, reason)
	}
	if reason := f.expiredReason(m); reason != "" {
		f.stats.Stale++
		f.log.Debug("seq=%d ignored: %s", m.Header.Seq, reason)
		return f.hold(status, reason, nil)
	}
	f.seen = true
	f.lastSeq = m.Header.Seq
	f.lastStamp = m.Header.Stamp

	res, err := f.validator.Validate(m)
	if err != nil {
		f.stats.Rejected++
		f.log.Warn("seq=%d rejected: %v", m.Header.Seq, err)
		return f.hold(status, "invalid message", err)
	}

	if !res.Usable {
		f.stats.Failures++
		f.log.Info("seq=%d solve_status=%q (%s); arrays ignored", m.Header.Seq, m.SolveStatus, status)
		return f.hold(status, "solve status "+status.String(), nil)
	}

	if res.Horizon > 0 && f.cfg.Convention == mpcmsg.ControlsAuto {
		if f.pinned == mpcmsg.ControlsAuto {
			f.pinned = res.Convention
			f.log.Info("control convention pinned to %s (N=%d, controls=%d)", res.Convention, res.Horizon, res.Controls)
		} else if res.Convention != f.pinned {
			f.stats.Rejected++
			err := fmt.Errorf("%w: producer switched from %s to %s", mpcmsg.ErrControlConvention, f.pinned, res.Convention)
			f.log.Warn("seq=%d rejected: %v", m.Header.Seq, err)
			return f.hold(status, "control convention changed", err)
		}
	}

	u, ok := m.FirstControl()
	if !ok {
		f.stats.Failures++
		return f.hold(status, "no controls", nil)
	}

	f.last = Command{Df: u.Df, Acc: u.Acc, Seq: m.Header.Seq}
	f.haveLast = true
	f.held = 0
	f.stats.Applied++
	f.log.Trace("seq=%d apply df=%.4f acc=%.3f", m.Header.Seq, u.Df, u.Acc)
	return Outcome{Decision: DecisionApply, Command: f.last, Status: status}
}

// supersededReason returns why m is older than or a duplicate of the last
// accepted message, or "".
func (f *Follower) supersededReason(m *mpcmsg.Solution) string {
	h := m.Header
	if !f.seen {
		return ""
	}
	if h.Stamp.Before(f.lastStamp) {
		return fmt.Sprintf("stamp %v older than %v", h.Stamp.Time(), f.lastStamp.Time())
	}
	if !f.lastStamp.Before(h.Stamp) && h.Seq <= f.lastSeq {
		return fmt.Sprintf("seq %d not newer than %d", h.Seq, f.lastSeq)
	}
	return ""
}

// expiredReason returns why m is too old to act on, or "".
func (f *Follower) expiredReason(m *mpcmsg.Solution) string {
	h := m.Header
	if f.cfg.MaxAge > 0 {
		if age := f.clock().Sub(h.Stamp.Time()); age > f.cfg.MaxAge {
			return fmt.Sprintf("age %s exceeds %s", age, f.cfg.MaxAge)
		}
	}
	return ""
}

// hold spends one hold cycle on an unusable message.
func (f *Follower) hold(status mpcmsg.Status, reason string, err error) Outcome {
	f.held++
	out := f.inForce(status, reason)
	out.Err = err
	if out.Decision == DecisionHold {
		f.stats.Held++
		return out
	}
	f.stats.Stopped++
	if f.held == f.cfg.MaxHoldCycles+1 {
		f.log.Error("no valid command for %d cycles; stopping", f.held)
	}
	return out
}

// inForce returns the command currently in force without counting a cycle:
// the last valid command while the hold limit lasts, otherwise a stop.
func (f *Follower) inForce(status mpcmsg.Status, reason string) Outcome {
	if f.haveLast && (f.cfg.MaxHoldCycles <= 0 || f.held <= f.cfg.MaxHoldCycles) {
		return Outcome{Decision: DecisionHold, Command: f.last, Status: status, Reason: reason}
	}
	stop := Command{Acc: -f.cfg.StopDecel}
	if f.haveLast {
		stop.Df = f.last.Df
		stop.Seq = f.last.Seq
	}
	return Outcome{Decision: DecisionStop, Command: stop, Status: status, Reason: reason}
}
