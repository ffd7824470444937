// Package recorder stores published MPC solutions in SQLite and replays
// them in publication order.
package recorder

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mpc-solution-core/mpcmsg"
	"mpc-solution-core/utils"
)

//go:embed schema.sql
var schemaSQL string

// ErrNoSession is returned by Record before StartSession.
var ErrNoSession = errors.New("recorder: no active session")

type Recorder struct {
	db      *sql.DB
	log     *utils.Logger
	session string
	now     func() time.Time
}

// Session describes one recording run.
type Session struct {
	ID        string
	FrameID   string
	Notes     string
	StartedAt time.Time
	EndedAt   time.Time // zero while recording
	Messages  int
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, log *utils.Logger) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info("recorder database ready at %s", path)
	return &Recorder{db: db, log: log, now: time.Now}, nil
}

// StartSession begins a new recording and makes it current.
func (r *Recorder) StartSession(ctx context.Context, frameID, notes string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, frame_id, notes, started_ns) VALUES (?, ?, ?, ?)`,
		id, frameID, notes, r.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	r.session = id
	r.log.Info("recording session %s (frame %s)", id, frameID)
	return id, nil
}

// EndSession stamps the current session's end time.
func (r *Recorder) EndSession(ctx context.Context) error {
	if r.session == "" {
		return ErrNoSession
	}
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET ended_ns = ? WHERE id = ?`, r.now().UnixNano(), r.session)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	r.session = ""
	return nil
}

// Record appends m to the current session.
func (r *Recorder) Record(ctx context.Context, m *mpcmsg.Solution) error {
	if r.session == "" {
		return ErrNoSession
	}
	if m == nil {
		return errors.New("recorder: nil message")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO solutions (session_id, seq, stamp_secs, stamp_nsecs, solve_status, status_kind,
			solve_time, horizon, controls, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.session, m.Header.Seq, m.Header.Stamp.Secs, m.Header.Stamp.Nsecs,
		m.SolveStatus, m.Status().String(), m.SolveTime, m.Horizon(), m.ControlLen(),
		mpcmsg.MarshalWire(m))
	if err != nil {
		return fmt.Errorf("record seq=%d: %w", m.Header.Seq, err)
	}
	return nil
}

// Drain records every message from ch until ch closes or ctx ends. Write
// errors are logged and do not stop the loop.
func (r *Recorder) Drain(ctx context.Context, ch <-chan *mpcmsg.Solution) {
	var n, failed int
	defer func() { r.log.Info("recorder stopped: recorded=%d failed=%d", n, failed) }()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Record(ctx, m); err != nil {
				failed++
				r.log.Error("%v", err)
				continue
			}
			n++
		}
	}
}

// Replay calls fn for each message of session in recording order. It stops
// at the first error returned by fn.
func (r *Recorder) Replay(ctx context.Context, session string, fn func(*mpcmsg.Solution) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payload FROM solutions WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return fmt.Errorf("replay %s: %w", session, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("replay scan: %w", err)
		}
		m, err := mpcmsg.UnmarshalWire(payload)
		if err != nil {
			return fmt.Errorf("replay row %d: %w", id, err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of messages recorded in session.
func (r *Recorder) Count(ctx context.Context, session string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM solutions WHERE session_id = ?`, session).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// StatusCounts groups a session's messages by classified status.
func (r *Recorder) StatusCounts(ctx context.Context, session string) (map[mpcmsg.Status]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status_kind, COUNT(*) FROM solutions WHERE session_id = ? GROUP BY status_kind`, session)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	out := make(map[mpcmsg.Status]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[mpcmsg.ParseStatus(kind)] += n
	}
	return out, rows.Err()
}

// Sessions lists recordings, newest first.
func (r *Recorder) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.frame_id, s.notes, s.started_ns, s.ended_ns,
			(SELECT COUNT(*) FROM solutions WHERE session_id = s.id)
		FROM sessions s
		ORDER BY s.started_ns DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.FrameID, &s.Notes, &started, &ended, &s.Messages); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			s.EndedAt = time.Unix(0, ended.Int64)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Recorder) Close() error {
	return r.db.Close()
}
