// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// FrameHeaderSize is the size of the big-endian length prefix of each frame.
const FrameHeaderSize = 4

// NewConnectionFunc returns a new [*ConnectionFunc] with an empty chain and
// no headroom.
//
// The cfg argument contains the common configuration.
//
// The settings argument bounds the payload size and is shared.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnectionFunc(cfg *Config, settings *Settings, logger SLogger) *ConnectionFunc {
	runtimex.Assert(settings != nil && settings.Validate() == nil)
	return &ConnectionFunc{
		Chain:         Chain{},
		ErrClassifier: cfg.ErrClassifier,
		Headroom:      0,
		Logger:        logger,
		Settings:      settings,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectionFunc wraps an established stream into a framed [*Connection].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ConnectionFunc struct {
	// Chain is applied to every frame payload.
	//
	// Set by [NewConnectionFunc] to an empty chain.
	Chain Chain

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectionFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Headroom is accepted on top of [Settings.Size] in both directions.
	//
	// A [*Link] using the connection as its [Mover] sends payloads that
	// already carry [Link.Chain]: set Headroom to that chain's [Chain.Overhead].
	//
	// Set by [NewConnectionFunc] to zero.
	Headroom int

	// Logger is the [SLogger] to use.
	//
	// Set by [NewConnectionFunc] to the user-provided logger.
	Logger SLogger

	// Settings bounds the payload size.
	//
	// Set by [NewConnectionFunc] to the user-provided settings.
	Settings *Settings

	// TimeNow is the function to get the current time.
	//
	// Set by [NewConnectionFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, *Connection] = &ConnectionFunc{}

// Call takes ownership of conn and returns the framed [*Connection].
func (op *ConnectionFunc) Call(ctx context.Context, conn net.Conn) (*Connection, error) {
	return &Connection{
		chain:    op.Chain,
		conn:     conn,
		headroom: op.Headroom,
		laddr:    safeconn.LocalAddr(conn),
		op:       op,
		protocol: safeconn.Network(conn),
		raddr:    safeconn.RemoteAddr(conn),
	}, nil
}

// Connection exchanges length-prefixed frames over a stream.
//
// Each frame is a 4-byte big-endian payload length followed by the payload
// after [Chain.Outgoing]. Sends are serialized among themselves, and so are
// receives. A send and a receive may run concurrently.
//
// A Connection owns its stream: [*Connection.Close] closes it exactly once.
type Connection struct {
	chain     Chain
	closed    atomic.Bool
	closeonce sync.Once
	conn      net.Conn
	headroom  int
	laddr     string
	op        *ConnectionFunc
	protocol  string
	raddr     string
	recvmu    sync.Mutex
	sendmu    sync.Mutex
}

var (
	_ Lifecycle = &Connection{}
	_ Mover     = &Connection{}
)

// Conn returns the underlying stream.
func (c *Connection) Conn() net.Conn {
	return c.conn
}

// Start implements [Lifecycle]. A connection is ready once built.
func (c *Connection) Start(ctx context.Context) error {
	return nil
}

// Stop implements [Lifecycle] by closing the stream.
func (c *Connection) Stop(ctx context.Context) error {
	return c.Close()
}

// Mode returns [ModeReady] until the connection is closed and [ModeClose] after.
func (c *Connection) Mode() Mode {
	if c.closed.Load() {
		return ModeClose
	}
	return ModeReady
}

// Close closes the stream.
//
// Subsequent calls return [net.ErrClosed].
func (c *Connection) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		c.op.Logger.Info(
			"connectionClose",
			slog.Any("err", err),
			slog.String("errClass", c.op.ErrClassifier.Classify(err)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.Time("t", c.op.TimeNow()),
		)
	})
	return
}

// Send protects data and writes it as a single frame.
//
// Returns len(data) on success.
func (c *Connection) Send(ctx context.Context, data []byte) (int, error) {
	const op = "connection.send"
	if len(data) > c.op.Settings.Size+c.headroom {
		return 0, NewError(KindTransport, op, ErrTooLarge)
	}
	processed, err := c.chain.Outgoing(data)
	if err != nil {
		return 0, err
	}
	if uint64(len(processed)) > math.MaxUint32 {
		return 0, NewError(KindTransport, op, ErrFrameTooLarge)
	}
	frame := make([]byte, FrameHeaderSize+len(processed))
	binary.BigEndian.PutUint32(frame, uint32(len(processed)))
	copy(frame[FrameHeaderSize:], processed)

	c.sendmu.Lock()
	defer c.sendmu.Unlock()
	if err := c.usable(ctx, op); err != nil {
		return 0, err
	}

	t0 := c.op.TimeNow()
	c.logStart("frameWriteStart", t0, len(frame))
	done := watchDeadline(ctx, c.conn.SetWriteDeadline)
	count, err := c.conn.Write(frame)
	done()
	c.logDone("frameWriteDone", t0, count, err)

	if err != nil {
		err = c.ioError(ctx, op, err)
		if count > 0 {
			// A partial frame is on the wire: the peer can no longer resync.
			c.Close()
		}
		return 0, err
	}
	return len(data), nil
}

// Receive reads one frame, exposes it and copies it into buf.
//
// Data that does not fit into buf is discarded. Returns the copied length.
func (c *Connection) Receive(ctx context.Context, buf []byte) (int, error) {
	const op = "connection.receive"
	c.recvmu.Lock()
	defer c.recvmu.Unlock()
	if err := c.usable(ctx, op); err != nil {
		return 0, err
	}

	t0 := c.op.TimeNow()
	c.logStart("frameReadStart", t0, len(buf))
	done := watchDeadline(ctx, c.conn.SetReadDeadline)
	payload, moved, err := c.readFrame(ctx, op)
	done()
	c.logDone("frameReadDone", t0, len(payload), err)

	if err != nil {
		if moved {
			// Part of the frame was consumed: the stream is out of step.
			c.Close()
		}
		return 0, err
	}
	processed, err := c.chain.Incoming(payload)
	if err != nil {
		return 0, err
	}
	return copy(buf, processed), nil
}

// MaxFrameSize returns the largest accepted frame payload.
func (c *Connection) MaxFrameSize() int {
	return c.op.Settings.Size + c.headroom + c.chain.Overhead()
}

// readFrame reads one frame and reports whether any of its bytes were consumed.
func (c *Connection) readFrame(ctx context.Context, op string) ([]byte, bool, error) {
	var header [FrameHeaderSize]byte
	if count, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, count > 0, c.ioError(ctx, op, err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if uint64(length) > uint64(c.MaxFrameSize()) {
		return nil, true, NewError(KindTransport, op, ErrFrameTooLarge)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, true, c.ioError(ctx, op, err)
	}
	return payload, false, nil
}

func (c *Connection) usable(ctx context.Context, op string) error {
	if c.closed.Load() {
		return NewError(KindState, op, net.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return NewError(KindTransport, op, err)
	}
	return nil
}

// ioError attributes a stream failure to the context when it is done.
//
// Stream deadlines only come from the context, so a deadline error means the
// context expired even if ctx.Err has not caught up yet.
func (c *Connection) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewError(KindTransport, op, ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return NewError(KindTransport, op, context.DeadlineExceeded)
	}
	return NewError(KindSystem, op, err)
}

func (c *Connection) logStart(event string, t0 time.Time, ioBufferSize int) {
	c.op.Logger.Debug(
		event,
		slog.Int("ioBufferSize", ioBufferSize),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t", t0),
	)
}

func (c *Connection) logDone(event string, t0 time.Time, ioBytesCount int, err error) {
	c.op.Logger.Debug(
		event,
		slog.Int("ioBytesCount", ioBytesCount),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	)
}
