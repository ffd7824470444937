package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// CANReader defines the interface for reading CAN frames.
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

// NewSocketCANWriter dials iface ("can0", "vcan0", ...).
func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// ErrReaderClosed is returned by ReadFrame after Close.
var ErrReaderClosed = errors.New("can reader closed")

// frameSource is the receive side of socketcan.Receiver.
type frameSource interface {
	Receive() bool
	Frame() can.Frame
	Err() error
}

// SocketCANReader receives frames from a socketcan interface. Once the
// receiver fails or Close is called, every ReadFrame returns the same
// terminal error after the queued frames are drained.
type SocketCANReader struct {
	conn   io.Closer
	src    frameSource
	frames chan can.Frame
	done   chan struct{} // closed by Close
	dead   chan struct{} // closed by loop after err is set
	err    error
	once   sync.Once
}

// NewSocketCANReader dials iface and starts a receive goroutine that runs
// until Close.
func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	return newSocketCANReader(conn, socketcan.NewReceiver(conn), 64), nil
}

func newSocketCANReader(conn io.Closer, src frameSource, buffer int) *SocketCANReader {
	r := &SocketCANReader{
		conn:   conn,
		src:    src,
		frames: make(chan can.Frame, buffer),
		done:   make(chan struct{}),
		dead:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *SocketCANReader) loop() {
	defer close(r.dead)
	for r.src.Receive() {
		select {
		case r.frames <- r.src.Frame():
		case <-r.done:
			r.err = ErrReaderClosed
			return
		}
	}
	select {
	case <-r.done:
		r.err = ErrReaderClosed
		return
	default:
	}
	r.err = r.src.Err()
	if r.err == nil {
		r.err = errors.New("socketcan receiver closed")
	}
}

// ReadFrame blocks until a frame arrives, the receiver fails or ctx ends.
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-r.frames:
		return f, nil
	case <-r.dead:
		select {
		case f := <-r.frames:
			return f, nil
		default:
			return can.Frame{}, r.err
		}
	}
}

// Close stops the receive goroutine and closes the socket. Safe to call
// twice.
func (r *SocketCANReader) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		if r.conn != nil {
			err = r.conn.Close()
		}
	})
	return err
}
