// SPDX-License-Identifier: GPL-3.0-or-later

// Package seclink provides a secure, poolable point-to-point transport.
//
// # Core Abstractions
//
// A [*Link] carries opaque byte payloads. Each outgoing payload flows through
// an ordered [Chain] of protection stages before reaching the wire, and each
// incoming payload unwinds the same stages in reverse order:
//
//	type Stage interface {
//		Protect(data []byte) ([]byte, error)
//		Expose(data []byte) ([]byte, error)
//	}
//
// The package ships three stages:
//   - [*SignStage]: HMAC-SHA256 authentication tag prepended to the payload
//   - [*SealStage]: ChaCha20-Poly1305 encryption with a fresh random nonce
//   - [*CheckStage]: ordered content validation rules
//
// A [*Connection] owns one stream and its own [Chain], and frames each message
// with a 4-byte big-endian length prefix:
//
//	uint32 length || payload
//
// A [*Pool] owns a bounded set of connections and lends them out through
// [*Borrow] handles. A Borrow holds one connection and one capacity permit
// and gives both back exactly once, either through [*Borrow.Release] or
// through a finalizer when the Borrow becomes unreachable.
//
// # Lifecycle
//
// Links, connections, pools and routes implement [Lifecycle]. A [*State] holds
// the current [Mode] and the cumulative [Measure] counters behind a read/write
// lock. Modes are overwritten unconditionally: there is no transition table.
//
// # Establishing Connections
//
// Connections are built by composing [Func] primitives, e.g.:
//
//	dial := seclink.Compose3(
//		seclink.NewConnectFunc(cfg, "tcp", logger),
//		seclink.NewObserveConnFunc(cfg, logger),
//		seclink.NewConnectionFunc(cfg, settings, logger),
//	)
//	conn, err := dial.Call(ctx, netip.MustParseAddrPort("127.0.0.1:9000"))
//
// [*Route] wraps this pipeline behind a static name-to-address table.
//
// # Errors
//
// Every failure is an [*Error] carrying a [Kind] (transport, guard, state,
// system or store). Use [errors.Is] with a Kind to decide whether a failure is
// a logic error (e.g., [ErrNotReady]) or environmental (e.g., [ErrTimeout]).
// No component retries automatically. [*Pool.Stop] is the one lenient path:
// per-connection stop failures are logged rather than returned.
//
// # Observability
//
// All primitives log through [SLogger] (compatible with [log/slog]). Logging
// is disabled by default. Lifecycle and pool events are emitted at
// [slog.LevelInfo], per-message I/O events at [slog.LevelDebug] and swallowed
// failures at [slog.LevelWarn]. [*Collector] exports link and pool counters
// to Prometheus.
//
// # Non-goals
//
// Peer discovery, NAT traversal, stream multiplexing and wire compression are
// not implemented.
package seclink
