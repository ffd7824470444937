package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"mpc-solution-core/mpcmsg"
	"mpc-solution-core/recorder"
)

// listSessions prints one line per recorded session.
func listSessions(ctx context.Context, rec *recorder.Recorder, w io.Writer) error {
	sessions, err := rec.Sessions(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		ended := "recording"
		if !s.EndedAt.IsZero() {
			ended = s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s  %s  frame=%s  messages=%d  %s  %s\n",
			s.ID, s.StartedAt.Format("2006-01-02T15:04:05"), s.FrameID, s.Messages, ended, s.Notes)
	}
	return nil
}

// replaySession writes a session as JSON lines. With summary set it writes
// one Summarize line per message and a status breakdown instead.
func replaySession(ctx context.Context, rec *recorder.Recorder, session string, w io.Writer, summary bool) error {
	n := 0
	err := rec.Replay(ctx, session, func(m *mpcmsg.Solution) error {
		n++
		if summary {
			s := mpcmsg.Summarize(m)
			_, err := fmt.Fprintf(w, "seq=%d status=%s N=%d solve=%.4fs max|df|=%.4f mean_v=%.2f dev=%.3f\n",
				s.Seq, s.Status, s.Horizon, s.SolveTime, s.MaxAbsDf, s.MeanSpeed, s.MaxDev)
			return err
		}
		b, err := mpcmsg.EncodeJSON(m)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s has no messages", session)
	}
	if summary {
		counts, err := rec.StatusCounts(ctx, session)
		if err != nil {
			return err
		}
		for _, st := range []mpcmsg.Status{mpcmsg.StatusOptimal, mpcmsg.StatusInfeasible,
			mpcmsg.StatusMaxIterations, mpcmsg.StatusSolverError, mpcmsg.StatusUnknown} {
			if c := counts[st]; c > 0 {
				fmt.Fprintf(w, "%s: %d\n", st, c)
			}
		}
	}
	return nil
}
