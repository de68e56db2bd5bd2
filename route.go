// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"crypto/tls"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
)

// Entry is a routing table entry.
type Entry struct {
	// Addr is the peer endpoint in "ip:port" form.
	Addr string

	// Weight is an operator-assigned preference. Higher is preferred.
	Weight uint32
}

// NewRoute returns a new [*Route] in [ModeInit] with an empty table.
//
// The cfg argument contains the common configuration.
//
// The settings argument is shared with every connection the route builds.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewRoute(cfg *Config, settings *Settings, logger SLogger) *Route {
	runtimex.Assert(settings != nil && settings.Validate() == nil)
	state := NewState()
	state.TimeNow = cfg.TimeNow
	return &Route{
		Chain:         Chain{},
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Headroom:      0,
		Logger:        logger,
		Network:       "tcp",
		Settings:      settings,
		TLSConfig:     nil,
		TimeNow:       cfg.TimeNow,
		state:         state,
		table:         map[string]Entry{},
	}
}

// Route maps peer names to endpoints and dials framed connections.
//
// The [Measure] of a route counts raw wire bytes of every connection it
// built, framing and stage overhead included.
//
// The exported fields are safe to modify after construction but before first use.
type Route struct {
	// Chain is installed on every connection built by [*Route.Connect].
	//
	// Set by [NewRoute] to an empty chain.
	Chain Chain

	// Dialer is the [Dialer] to use.
	//
	// Set by [NewRoute] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewRoute] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Headroom is copied to [ConnectionFunc.Headroom] for every connection.
	//
	// Set by [NewRoute] to zero.
	Headroom int

	// Logger is the [SLogger] to use.
	//
	// Set by [NewRoute] to the user-provided logger.
	Logger SLogger

	// Network is the stream network to dial.
	//
	// Set by [NewRoute] to "tcp".
	Network string

	// Settings bounds the payload size of built connections.
	//
	// Set by [NewRoute] to the user-provided settings.
	Settings *Settings

	// TLSConfig enables a TLS handshake before framing when not nil.
	//
	// Set by [NewRoute] to nil.
	TLSConfig *tls.Config

	// TimeNow is the function to get the current time.
	//
	// Set by [NewRoute] from [Config.TimeNow].
	TimeNow func() time.Time

	mu    sync.RWMutex
	state *State
	table map[string]Entry
}

var _ Lifecycle = &Route{}

// Start moves the route to [ModeReady].
func (r *Route) Start(ctx context.Context) error {
	r.state.SetMode(ModeReady)
	return nil
}

// Stop moves the route to [ModeClose]. Connections already built are not affected.
func (r *Route) Stop(ctx context.Context) error {
	r.state.SetMode(ModeClose)
	return nil
}

// Mode returns the current [Mode].
func (r *Route) Mode() Mode {
	return r.state.Mode()
}

// State returns the route [*State].
func (r *Route) State() *State {
	return r.state
}

// Add inserts or replaces the entry for name.
//
// The address must parse as a [netip.AddrPort].
func (r *Route) Add(name string, entry Entry) error {
	if _, err := netip.ParseAddrPort(entry.Addr); err != nil {
		return NewError(KindTransport, "route.add", err)
	}
	r.mu.Lock()
	r.table[name] = entry
	r.mu.Unlock()
	return nil
}

// Remove deletes the entry for name.
func (r *Route) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.table[name]; !found {
		return NewError(KindTransport, "route.remove", ErrRouteNotFound)
	}
	delete(r.table, name)
	return nil
}

// Get returns the entry for name.
func (r *Route) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, found := r.table[name]
	if !found {
		return Entry{}, NewError(KindTransport, "route.get", ErrRouteNotFound)
	}
	return entry, nil
}

// List returns the known names in lexical order.
func (r *Route) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.table))
}

// Connect dials the peer registered under name and returns a framed connection.
//
// The route must be in [ModeReady].
func (r *Route) Connect(ctx context.Context, name string) (*Connection, error) {
	if r.state.Mode() != ModeReady {
		return nil, NewError(KindState, "route.connect", ErrNotReady)
	}
	entry, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	endpoint := runtimex.PanicOnError1(netip.ParseAddrPort(entry.Addr))

	t0 := r.TimeNow()
	conn, err := r.pipeline().Call(ctx, endpoint)
	r.Logger.Info(
		"routeConnectDone",
		slog.Any("err", err),
		slog.String("errClass", r.ErrClassifier.Classify(err)),
		slog.String("peer", name),
		slog.String("remoteAddr", entry.Addr),
		slog.Time("t0", t0),
		slog.Time("t", r.TimeNow()),
	)
	if err != nil {
		r.state.RecordError()
		return nil, err
	}
	return conn, nil
}

func (r *Route) pipeline() Func[netip.AddrPort, *Connection] {
	cfg := &Config{
		Dialer:        r.Dialer,
		ErrClassifier: r.ErrClassifier,
		TimeNow:       r.TimeNow,
	}
	connect := NewConnectFunc(cfg, r.Network, r.Logger)
	observe := NewObserveConnFunc(cfg, r.Logger)
	observe.State = r.state
	frame := NewConnectionFunc(cfg, r.Settings, r.Logger)
	frame.Chain = r.Chain
	frame.Headroom = r.Headroom

	if r.TLSConfig == nil {
		return Compose3(connect, observe, frame)
	}
	handshake := NewTLSHandshakeFunc(cfg, r.TLSConfig, r.Logger)
	return Compose4(connect, observe, handshake, frame)
}
