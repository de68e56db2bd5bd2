//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package seclink

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// By making [*ConnectFunc] depend on an abstract implementation we
// allow for unit testing and for using alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// errInvalidEndpoint indicates a zero or otherwise invalid [netip.AddrPort].
var errInvalidEndpoint = errors.New("invalid endpoint")

// NewConnectFunc returns a new [*ConnectFunc].
//
// The cfg argument contains the common configuration.
//
// The network argument is the stream network to dial (e.g., "tcp", "tcp4").
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnectFunc(cfg *Config, network string, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Network:       network,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc dials the stream underlying a [*Connection].
//
// Returns either a valid [net.Conn] or a transport [*Error], never both.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewConnectFunc] to the user-provided logger.
	Logger SLogger

	// Network is the stream network to dial.
	//
	// Set by [NewConnectFunc] to the user-provided value.
	Network string

	// TimeNow is the function to get the current time.
	//
	// Set by [NewConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, net.Conn] = &ConnectFunc{}

// Call dials the given endpoint.
func (op *ConnectFunc) Call(ctx context.Context, endpoint netip.AddrPort) (net.Conn, error) {
	if !endpoint.IsValid() {
		return nil, NewError(KindTransport, "connect", errInvalidEndpoint)
	}
	address := endpoint.String()
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.log("connectStart", address, t0, deadline, nil, nil)
	conn, err := op.Dialer.DialContext(ctx, op.Network, address)
	op.log("connectDone", address, t0, deadline, conn, err)
	if err != nil {
		return nil, NewError(KindTransport, "connect", err)
	}
	return conn, nil
}

func (op *ConnectFunc) log(event, address string, t0, deadline time.Time, conn net.Conn, err error) {
	attrs := []any{
		slog.Time("deadline", deadline),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", address),
	}
	if event == "connectDone" {
		attrs = append(attrs,
			slog.Any("err", err),
			slog.String("errClass", op.ErrClassifier.Classify(err)),
			slog.String("localAddr", safeconn.LocalAddr(conn)),
			slog.Time("t0", t0),
			slog.Time("t", op.TimeNow()),
		)
	} else {
		attrs = append(attrs, slog.Time("t", t0))
	}
	op.Logger.Info(event, attrs...)
}
