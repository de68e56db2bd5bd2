// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"log/slog"
	"time"

	"github.com/bassosimone/runtimex"
)

// Mover carries already-protected messages.
//
// Both [*Connection] and [*Borrow] implement this interface.
type Mover interface {
	Send(ctx context.Context, data []byte) (int, error)
	Receive(ctx context.Context, buf []byte) (int, error)
}

// NewLink returns a new [*Link] in [ModeInit] with an empty chain.
//
// The cfg argument contains the common configuration.
//
// The settings argument is shared and must not be mutated.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewLink(cfg *Config, settings *Settings, logger SLogger) *Link {
	runtimex.Assert(settings != nil && settings.Validate() == nil)
	state := NewState()
	state.TimeNow = cfg.TimeNow
	return &Link{
		Chain:         Chain{},
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Mover:         nil,
		Settings:      settings,
		TimeNow:       cfg.TimeNow,
		state:         state,
	}
}

// Link applies a [Chain] to payloads and tracks their telemetry.
//
// Without a [Mover] the link only transforms and accounts: Send returns the
// protected length and Receive accounts len(buf). With a Mover the protected
// bytes travel through it.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to Send or Receive.
type Link struct {
	// Chain is the stage chain to apply.
	//
	// Set by [NewLink] to an empty chain.
	Chain Chain

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewLink] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewLink] to the user-provided logger.
	Logger SLogger

	// Mover optionally carries protected bytes.
	//
	// Set by [NewLink] to nil.
	Mover Mover

	// Settings contains the size limit.
	//
	// Set by [NewLink] to the user-provided settings.
	Settings *Settings

	// TimeNow is the function to get the current time.
	//
	// Set by [NewLink] from [Config.TimeNow].
	TimeNow func() time.Time

	state *State
}

var _ Lifecycle = &Link{}

// Start moves the link to [ModeReady].
func (l *Link) Start(ctx context.Context) error {
	l.state.SetMode(ModeReady)
	l.Logger.Info("linkStart", slog.String("name", l.Settings.Name), slog.Time("t", l.TimeNow()))
	return nil
}

// Stop moves the link to [ModeClose].
func (l *Link) Stop(ctx context.Context) error {
	l.state.SetMode(ModeClose)
	l.Logger.Info("linkStop", slog.String("name", l.Settings.Name), slog.Time("t", l.TimeNow()))
	return nil
}

// Mode returns the current [Mode].
func (l *Link) Mode() Mode {
	return l.state.Mode()
}

// State returns the shared [*State] handle.
func (l *Link) State() *State {
	return l.state
}

// Measure returns a telemetry snapshot.
func (l *Link) Measure() Measure {
	return l.state.Measure()
}

// Send protects data and hands it to the [Mover], if any.
//
// Returns the number of protected bytes.
func (l *Link) Send(ctx context.Context, data []byte) (int, error) {
	if err := l.gate("link.send", len(data)); err != nil {
		return 0, err
	}
	t0 := l.TimeNow()
	processed, err := l.Chain.Outgoing(data)
	if err == nil && l.Mover != nil {
		_, err = l.Mover.Send(ctx, processed)
	}
	l.logDone("linkSendDone", t0, len(data), len(processed), err)
	if err != nil {
		l.state.RecordError()
		return 0, err
	}
	l.state.RecordSend(len(processed))
	return len(processed), nil
}

// Receive fills buf with the next exposed message from the [Mover].
//
// Without a Mover, Receive only accounts len(buf).
func (l *Link) Receive(ctx context.Context, buf []byte) (int, error) {
	if err := l.gate("link.receive", len(buf)); err != nil {
		return 0, err
	}
	if l.Mover == nil {
		l.state.RecordReceive(len(buf))
		return len(buf), nil
	}
	t0 := l.TimeNow()
	count, err := l.receiveFromMover(ctx, buf)
	l.logDone("linkReceiveDone", t0, len(buf), count, err)
	if err != nil {
		l.state.RecordError()
		return 0, err
	}
	l.state.RecordReceive(count)
	return count, nil
}

func (l *Link) receiveFromMover(ctx context.Context, buf []byte) (int, error) {
	wire := make([]byte, l.Settings.Size+l.Chain.Overhead())
	count, err := l.Mover.Receive(ctx, wire)
	if err != nil {
		return 0, err
	}
	processed, err := l.Chain.Incoming(wire[:count])
	if err != nil {
		return 0, err
	}
	return copy(buf, processed), nil
}

// gate checks the mode and the size limit without touching the counters.
func (l *Link) gate(op string, size int) error {
	if l.state.Mode() != ModeReady {
		return NewError(KindState, op, ErrNotReady)
	}
	if size > l.Settings.Size {
		return NewError(KindTransport, op, ErrTooLarge)
	}
	return nil
}

func (l *Link) logDone(event string, t0 time.Time, ioBufferSize, ioBytesCount int, err error) {
	l.Logger.Debug(
		event,
		slog.Any("err", err),
		slog.String("errClass", l.ErrClassifier.Classify(err)),
		slog.Int("ioBufferSize", ioBufferSize),
		slog.Int("ioBytesCount", ioBytesCount),
		slog.String("name", l.Settings.Name),
		slog.Time("t0", t0),
		slog.Time("t", l.TimeNow()),
	)
}
