// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
)

// Borrow is exclusive access to a pooled [*Connection].
//
// Call [*Borrow.Release] when done. A Borrow that becomes unreachable without
// being released is released by the garbage collector, which also logs a
// borrowLeaked warning.
type Borrow struct {
	cleanup runtime.Cleanup
	slots   *borrowSlots
}

var _ Mover = &Borrow{}

// borrowSlots holds what a [*Borrow] must give back exactly once.
//
// It lives apart from the Borrow so the cleanup can run after the Borrow
// becomes unreachable.
type borrowSlots struct {
	conn   *Connection
	id     string
	mu     sync.Mutex
	permit bool
	pool   *Pool
}

func newBorrow(pool *Pool, conn *Connection) *Borrow {
	slots := &borrowSlots{
		conn:   conn,
		id:     NewSpanID(),
		permit: true,
		pool:   pool,
	}
	b := &Borrow{slots: slots}
	b.cleanup = runtime.AddCleanup(b, func(s *borrowSlots) {
		if s.connection() == nil {
			return
		}
		s.pool.Logger.Warn(
			"borrowLeaked",
			slog.String("borrowID", s.id),
			slog.String("name", s.pool.Settings.Name),
			slog.Time("t", s.pool.TimeNow()),
		)
		s.release()
	}, slots)
	return b
}

// release gives back the permit and then the connection. It reports whether
// this call did the work.
func (s *borrowSlots) release() bool {
	s.mu.Lock()
	conn, permit := s.conn, s.permit
	s.conn, s.permit = nil, false
	s.mu.Unlock()

	if permit {
		s.pool.permits.Release(1)
	}
	if conn == nil {
		return false
	}
	s.pool.giveBack(s.id, conn)
	return true
}

func (s *borrowSlots) connection() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// ID returns the borrow identifier used in log events.
func (b *Borrow) ID() string {
	return b.slots.id
}

// Connection returns the borrowed connection or nil after release.
func (b *Borrow) Connection() *Connection {
	return b.slots.connection()
}

// Valid reports whether the borrow still holds its connection.
func (b *Borrow) Valid() bool {
	return b.slots.connection() != nil
}

// Send implements [Mover] using the borrowed connection.
func (b *Borrow) Send(ctx context.Context, data []byte) (int, error) {
	conn := b.slots.connection()
	if conn == nil {
		return 0, NewError(KindState, "borrow.send", ErrReleased)
	}
	count, err := conn.Send(ctx, data)
	// The cleanup must not give conn back while it is in use.
	runtime.KeepAlive(b)
	return count, err
}

// Receive implements [Mover] using the borrowed connection.
func (b *Borrow) Receive(ctx context.Context, buf []byte) (int, error) {
	conn := b.slots.connection()
	if conn == nil {
		return 0, NewError(KindState, "borrow.receive", ErrReleased)
	}
	count, err := conn.Receive(ctx, buf)
	runtime.KeepAlive(b)
	return count, err
}

// Release returns the connection to the pool.
//
// Only the first call has an effect.
func (b *Borrow) Release() {
	b.cleanup.Stop()
	b.slots.release()
}
