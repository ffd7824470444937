package utils

import (
	"context"
	"fmt"
	"math"

	"go.einride.tech/can"

	"mpc-solution-core/mpcmsg"
)

// Frame names of the MPC summary published on the vehicle bus.
const (
	FrameMPCStatus = "MPC_STATUS"
	FrameMPCCmd    = "MPC_CMD"
	FrameMPCTrack  = "MPC_TRACK"
)

// CANSummary is the part of a Solution that fits on the bus: status, sizes,
// tracking scalars and the first control. Values are quantized to the
// resolution of their signal.
type CANSummary struct {
	Seq       uint8
	Status    mpcmsg.Status
	Usable    bool
	SolveTime float64
	Horizon   int
	Controls  int
	VRef      float64

	// First control; zero when HasCommand is false.
	HasCommand bool
	Df0        float64
	Acc0       float64
	Ay0        float64

	S    float64
	EY   float64
	EPsi float64
}

// EncodeSolutionFrames packs m into MPC_STATUS, MPC_TRACK and, when the
// message carries a usable first control, MPC_CMD. Every frame carries the
// header sequence modulo 256 so a receiver can reassemble one cycle.
func EncodeSolutionFrames(cmap *CANMap, m *mpcmsg.Solution) ([]can.Frame, error) {
	seq := float64(m.Header.Seq % 256)
	usable := 0.0
	if m.Usable() {
		usable = 1
	}

	status, err := cmap.EncodeEinrideFrame(FrameMPCStatus, map[string]float64{
		"mpc_status":     float64(m.Status()),
		"mpc_usable":     usable,
		"mpc_seq":        seq,
		"mpc_solve_time": m.SolveTime,
		"mpc_horizon":    float64(m.Horizon()),
		"mpc_controls":   float64(m.ControlLen()),
		"mpc_v_ref":      m.VRef,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", FrameMPCStatus, err)
	}
	frames := []can.Frame{status}

	if u, ok := m.FirstControl(); ok {
		cmd, err := cmap.EncodeEinrideFrame(FrameMPCCmd, map[string]float64{
			"mpc_df0":  u.Df,
			"mpc_acc0": u.Acc,
			"mpc_ay0":  u.AyMdl,
			"mpc_seq":  seq,
		})
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", FrameMPCCmd, err)
		}
		frames = append(frames, cmd)
	}

	track, err := cmap.EncodeEinrideFrame(FrameMPCTrack, map[string]float64{
		"mpc_s":     m.S,
		"mpc_e_y":   m.EY,
		"mpc_e_psi": m.EPsi,
		"mpc_seq":   seq,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", FrameMPCTrack, err)
	}
	return append(frames, track), nil
}

// SummaryCollector reassembles CANSummary values from received frames.
// A summary is complete once MPC_STATUS and MPC_TRACK of the same sequence
// have arrived, plus MPC_CMD when the status frame says the solution is
// usable and has controls. Not safe for concurrent use.
type SummaryCollector struct {
	cmap *CANMap

	cur     CANSummary
	haveSt  bool
	haveCmd bool
	haveTr  bool
}

func NewSummaryCollector(cmap *CANMap) *SummaryCollector {
	return &SummaryCollector{cmap: cmap}
}

// Feed consumes one frame. It returns the completed summary and true when f
// finishes a cycle. Frames of unknown IDs are ignored; a frame with a new
// sequence discards the partial cycle.
func (c *SummaryCollector) Feed(f can.Frame) (CANSummary, bool, error) {
	fd, err := c.cmap.FrameByID(f.ID)
	if err != nil {
		return CANSummary{}, false, nil
	}
	name := fd.Name

	vals, err := c.cmap.DecodeEinrideFrame(f)
	if err != nil {
		return CANSummary{}, false, err
	}
	seq := uint8(vals["mpc_seq"])
	if c.started() && seq != c.cur.Seq {
		c.reset()
	}
	c.cur.Seq = seq

	switch name {
	case FrameMPCStatus:
		c.cur.Status = mpcmsg.Status(int(vals["mpc_status"]))
		c.cur.Usable = vals["mpc_usable"] != 0
		c.cur.SolveTime = vals["mpc_solve_time"]
		c.cur.Horizon = int(vals["mpc_horizon"])
		c.cur.Controls = int(vals["mpc_controls"])
		c.cur.VRef = vals["mpc_v_ref"]
		c.haveSt = true
	case FrameMPCCmd:
		c.cur.HasCommand = true
		c.cur.Df0 = vals["mpc_df0"]
		c.cur.Acc0 = vals["mpc_acc0"]
		c.cur.Ay0 = vals["mpc_ay0"]
		c.haveCmd = true
	case FrameMPCTrack:
		c.cur.S = vals["mpc_s"]
		c.cur.EY = vals["mpc_e_y"]
		c.cur.EPsi = vals["mpc_e_psi"]
		c.haveTr = true
	default:
		return CANSummary{}, false, nil
	}

	if !c.haveSt || !c.haveTr {
		return CANSummary{}, false, nil
	}
	if c.cur.Usable && c.cur.Controls > 0 && !c.haveCmd {
		return CANSummary{}, false, nil
	}
	out := c.cur
	c.reset()
	return out, true, nil
}

func (c *SummaryCollector) started() bool {
	return c.haveSt || c.haveCmd || c.haveTr
}

func (c *SummaryCollector) reset() {
	c.cur = CANSummary{}
	c.haveSt, c.haveCmd, c.haveTr = false, false, false
}

// SummaryOf returns the summary a receiver would reassemble for m before
// quantization.
func SummaryOf(m *mpcmsg.Solution) CANSummary {
	s := CANSummary{
		Seq:       uint8(m.Header.Seq % 256),
		Status:    m.Status(),
		Usable:    m.Usable(),
		SolveTime: m.SolveTime,
		Horizon:   m.Horizon(),
		Controls:  m.ControlLen(),
		VRef:      m.VRef,
		S:         m.S,
		EY:        m.EY,
		EPsi:      m.EPsi,
	}
	if u, ok := m.FirstControl(); ok {
		s.HasCommand = true
		s.Df0, s.Acc0, s.Ay0 = u.Df, u.Acc, u.AyMdl
	}
	return s
}

// WithinResolution reports whether got matches want up to the quantization
// of the CAN map, including saturation at the signal limits.
func (m *CANMap) WithinResolution(frameName, signal string, want, got float64) bool {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return false
	}
	s, err := fd.Signal(signal)
	if err != nil {
		return false
	}
	want = clamp(want, s.Min, s.Max)
	return math.Abs(want-got) <= s.Resolution()/2+1e-9
}

// SolutionTx publishes the CAN summary of each solution.
type SolutionTx struct {
	cmap   *CANMap
	writer CANWriter
	log    *Logger
}

func NewSolutionTx(cmap *CANMap, w CANWriter, log *Logger) *SolutionTx {
	return &SolutionTx{cmap: cmap, writer: w, log: log}
}

// Send encodes m and writes its frames in order. It stops at the first
// write error.
func (t *SolutionTx) Send(ctx context.Context, m *mpcmsg.Solution) error {
	frames, err := EncodeSolutionFrames(t.cmap, m)
	if err != nil {
		return err
	}
	if t.log.Enabled(DEBUG) {
		s := SummaryOf(m)
		t.log.Debug("TX summary seq=%d status=%s usable=%v N=%d controls=%d df0=%.4f acc0=%.3f",
			s.Seq, s.Status, s.Usable, s.Horizon, s.Controls, s.Df0, s.Acc0)
	}
	for _, f := range frames {
		if err := t.writer.WriteFrame(ctx, f); err != nil {
			return fmt.Errorf("write frame 0x%X: %w", f.ID, err)
		}
		t.log.Trace("TX 0x%X seq=%d % X", f.ID, m.Header.Seq, f.Data[:f.Length])
	}
	return nil
}
