//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package seclink

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewObserveConnFunc returns a new [*ObserveConnFunc] without wire accounting.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewObserveConnFunc(cfg *Config, logger SLogger) *ObserveConnFunc {
	return &ObserveConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		State:         nil,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc wraps a stream to log and account its raw I/O.
//
// Reads, writes and deadline changes are logged at Debug level and closing is
// logged at Info level. When State is set, the raw bytes read and written,
// framing and stage overhead included, are added to its [Measure].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ObserveConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewObserveConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewObserveConnFunc] to the user-provided logger.
	Logger SLogger

	// State optionally accumulates wire-level telemetry.
	//
	// Set by [NewObserveConnFunc] to nil.
	State *State

	// TimeNow is the function to get the current time.
	//
	// Set by [NewObserveConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &ObserveConnFunc{}

// Call wraps conn. It never fails.
func (op *ObserveConnFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	observed := &observedConn{
		Conn: conn,
		op:   op,
		endpoint: []any{
			slog.String("localAddr", safeconn.LocalAddr(conn)),
			slog.String("protocol", safeconn.Network(conn)),
			slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		},
	}
	return observed, nil
}

// observedConn observes a [net.Conn].
//
// Embedding provides LocalAddr and RemoteAddr.
type observedConn struct {
	net.Conn
	closeonce sync.Once
	endpoint  []any
	op        *ObserveConnFunc
}

func (c *observedConn) log(level func(string, ...any), event string, attrs ...any) {
	level(event, append(attrs, c.endpoint...)...)
}

func (c *observedConn) account(count int, err error, record func(*State, int)) {
	if c.op.State == nil {
		return
	}
	if count > 0 {
		record(c.op.State, count)
	}
	if err != nil {
		c.op.State.RecordError()
	}
}

// Close implements [net.Conn].
//
// Subsequent calls return [net.ErrClosed].
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		t0 := c.op.TimeNow()
		c.log(c.op.Logger.Info, "closeStart", slog.Time("t", t0))
		err = c.Conn.Close()
		c.log(
			c.op.Logger.Info, "closeDone",
			slog.Any("err", err),
			slog.String("errClass", c.op.ErrClassifier.Classify(err)),
			slog.Time("t0", t0),
			slog.Time("t", c.op.TimeNow()),
		)
	})
	return
}

// Read implements [net.Conn].
func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.log(c.op.Logger.Debug, "readStart", slog.Int("ioBufferSize", len(buf)), slog.Time("t", t0))
	count, err := c.Conn.Read(buf)
	c.log(
		c.op.Logger.Debug, "readDone",
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	)
	c.account(count, err, (*State).RecordReceive)
	return count, err
}

// Write implements [net.Conn].
func (c *observedConn) Write(data []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.log(c.op.Logger.Debug, "writeStart", slog.Int("ioBufferSize", len(data)), slog.Time("t", t0))
	count, err := c.Conn.Write(data)
	c.log(
		c.op.Logger.Debug, "writeDone",
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	)
	c.account(count, err, (*State).RecordSend)
	return count, err
}

// SetDeadline implements [net.Conn].
func (c *observedConn) SetDeadline(t time.Time) error {
	c.logDeadline("setDeadline", t)
	return c.Conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (c *observedConn) SetReadDeadline(t time.Time) error {
	c.logDeadline("setReadDeadline", t)
	return c.Conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (c *observedConn) SetWriteDeadline(t time.Time) error {
	c.logDeadline("setWriteDeadline", t)
	return c.Conn.SetWriteDeadline(t)
}

func (c *observedConn) logDeadline(event string, t time.Time) {
	c.log(c.op.Logger.Debug, event, slog.Time("deadline", t), slog.Time("t", c.op.TimeNow()))
}
