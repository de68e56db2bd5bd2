// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
	"golang.org/x/sync/semaphore"
)

// maxDrain bounds the returned connections moved back to idle by one Get.
const maxDrain = 10

// NewPool returns a new [*Pool] in [ModeInit].
//
// The cfg argument contains the common configuration.
//
// The capacity argument bounds both the connections the pool owns and the
// borrows outstanding at any time. It must be positive.
//
// The settings argument provides the name and the Wait time box.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewPool(cfg *Config, capacity int, settings *Settings, logger SLogger) *Pool {
	runtimex.Assert(capacity > 0)
	runtimex.Assert(settings != nil && settings.Validate() == nil)
	state := NewState()
	state.TimeNow = cfg.TimeNow
	return &Pool{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Settings:      settings,
		TimeNow:       cfg.TimeNow,
		capacity:      capacity,
		permits:       semaphore.NewWeighted(int64(capacity)),
		returns:       make(chan *Connection, capacity),
		state:         state,
	}
}

// Pool lends [*Connection] values to at most capacity concurrent borrowers.
//
// A borrower obtains a [*Borrow] from [*Pool.Get] and must call
// [*Borrow.Release] when done. Released connections travel back through a
// bounded channel and become idle again on a later Get. Idle connections are
// reused most recently returned first.
//
// The exported fields are safe to modify after construction but before first use.
type Pool struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewPool] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewPool] to the user-provided logger.
	Logger SLogger

	// Settings provides the pool name and the Wait time box.
	//
	// Set by [NewPool] to the user-provided settings.
	Settings *Settings

	// TimeNow is the function to get the current time.
	//
	// Set by [NewPool] from [Config.TimeNow].
	TimeNow func() time.Time

	capacity  int
	idle      []*Connection
	lent      int
	mu        sync.Mutex
	permits   *semaphore.Weighted
	requests  atomic.Int64
	returns   chan *Connection
	size      int
	state     *State
	successes atomic.Int64
}

var _ Lifecycle = &Pool{}

// PoolStats is a snapshot of the pool occupancy and counters.
type PoolStats struct {
	// Capacity is the configured capacity.
	Capacity int

	// Size is the number of connections owned by the pool.
	Size int

	// Idle is the number of connections waiting to be borrowed.
	Idle int

	// Lent is the number of connections currently borrowed.
	Lent int

	// Requests is the number of Get calls.
	Requests int64

	// Successes is the number of Get calls that returned a borrow.
	Successes int64
}

// Start moves the pool to [ModeReady].
func (p *Pool) Start(ctx context.Context) error {
	p.state.SetMode(ModeReady)
	p.Logger.Info(
		"poolStart",
		slog.Int("capacity", p.capacity),
		slog.String("name", p.Settings.Name),
		slog.Time("t", p.TimeNow()),
	)
	return nil
}

// Mode returns the current [Mode].
func (p *Pool) Mode() Mode {
	return p.state.Mode()
}

// State returns the pool [*State].
func (p *Pool) State() *State {
	return p.state
}

// Capacity returns the configured capacity.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Stats returns a snapshot of the pool occupancy and counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:  p.capacity,
		Size:      p.size,
		Idle:      len(p.idle) + len(p.returns),
		Lent:      p.lent,
		Requests:  p.requests.Load(),
		Successes: p.successes.Load(),
	}
}

// Add hands ownership of conn to the pool.
//
// Fails with [ErrPoolClosed] after [*Pool.Stop] and with [ErrPoolFull] when
// the pool already owns capacity connections.
func (p *Pool) Add(conn *Connection) error {
	const op = "pool.add"
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Mode() == ModeClose {
		return NewError(KindState, op, ErrPoolClosed)
	}
	if p.size >= p.capacity {
		return NewError(KindTransport, op, ErrPoolFull)
	}
	p.idle = append(p.idle, conn)
	p.size++
	return nil
}

// Get borrows a connection.
//
// Get waits at most [Settings.Wait] for a permit and then at most
// [Settings.Wait] for a connection to come back. It fails with [ErrNotReady]
// unless the pool is in [ModeReady], with [ErrTimeout] when no permit frees
// up in time and with [ErrNoConnection] when no connection is idle.
func (p *Pool) Get(ctx context.Context) (*Borrow, error) {
	const op = "pool.get"
	p.requests.Add(1)
	if p.state.Mode() != ModeReady {
		return nil, NewError(KindState, op, ErrNotReady)
	}

	t0 := p.TimeNow()
	deadline, _ := ctx.Deadline()
	p.logGetStart(t0, deadline)
	borrow, err := p.get(ctx, op)
	p.logGetDone(t0, deadline, borrow, err)

	if err != nil {
		return nil, err
	}
	p.successes.Add(1)
	return borrow, nil
}

func (p *Pool) get(ctx context.Context, op string) (*Borrow, error) {
	p.drainReturns(maxDrain)
	if err := p.acquire(ctx, op); err != nil {
		return nil, err
	}
	conn := p.pop()
	if conn == nil {
		conn = p.awaitReturn(ctx)
	}
	if conn == nil {
		p.permits.Release(1)
		return nil, NewError(KindTransport, op, ErrNoConnection)
	}
	return newBorrow(p, conn), nil
}

func (p *Pool) acquire(ctx context.Context, op string) error {
	wctx, cancel := context.WithTimeout(ctx, p.Settings.Wait)
	defer cancel()
	if err := p.permits.Acquire(wctx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NewError(KindTransport, op, ctxErr)
		}
		return NewError(KindTransport, op, ErrTimeout)
	}
	return nil
}

// drainReturns moves up to limit returned connections back to idle.
func (p *Pool) drainReturns(limit int) {
	for range limit {
		select {
		case conn := <-p.returns:
			p.pushIdle(conn)
		default:
			return
		}
	}
}

func (p *Pool) pushIdle(conn *Connection) {
	p.mu.Lock()
	if p.state.Mode() == ModeClose {
		p.size--
		p.mu.Unlock()
		p.discard(conn, "poolClosed")
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// pop takes the most recently idled live connection and marks it lent.
func (p *Pool) pop() *Connection {
	var dead []*Connection
	defer func() {
		for _, conn := range dead {
			p.discard(conn, "connectionClosed")
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		conn := p.idle[last]
		p.idle[last] = nil
		p.idle = p.idle[:last]
		if conn.Mode() == ModeClose {
			p.size--
			dead = append(dead, conn)
			continue
		}
		p.lent++
		return conn
	}
	return nil
}

// awaitReturn waits at most [Settings.Wait] for a returned connection.
func (p *Pool) awaitReturn(ctx context.Context) *Connection {
	timer := time.NewTimer(p.Settings.Wait)
	defer timer.Stop()
	select {
	case conn := <-p.returns:
		p.mu.Lock()
		p.lent++
		p.mu.Unlock()
		return conn
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// giveBack returns a borrowed connection to the pool.
func (p *Pool) giveBack(borrowID string, conn *Connection) {
	p.mu.Lock()
	p.lent--
	if p.state.Mode() == ModeClose {
		p.size--
		p.mu.Unlock()
		p.discard(conn, "poolClosed")
		return
	}
	select {
	case p.returns <- conn:
		p.mu.Unlock()
		p.Logger.Debug(
			"poolReturn",
			slog.String("borrowID", borrowID),
			slog.String("name", p.Settings.Name),
			slog.Time("t", p.TimeNow()),
		)
	default:
		p.size--
		p.mu.Unlock()
		p.discard(conn, "returnsFull")
	}
}

// discard closes a connection the pool no longer owns.
func (p *Pool) discard(conn *Connection, reason string) {
	err := conn.Close()
	p.Logger.Debug(
		"poolDiscard",
		slog.Any("err", err),
		slog.String("errClass", p.ErrClassifier.Classify(err)),
		slog.String("name", p.Settings.Name),
		slog.String("reason", reason),
		slog.Time("t", p.TimeNow()),
	)
}

// Stop moves the pool to [ModeClose] and stops the connections it holds.
//
// Connections are stopped concurrently and Stop waits at most [Settings.Wait]
// or until ctx is done. Borrowed connections are closed when released.
// Failures are logged and Stop always returns nil.
func (p *Pool) Stop(ctx context.Context) error {
	// The mode flips under mu so that no Add or give back lands after the drain.
	p.mu.Lock()
	p.state.SetMode(ModeClose)
	conns := p.idle
	p.idle = nil
	for drained := false; !drained; {
		select {
		case conn := <-p.returns:
			conns = append(conns, conn)
		default:
			drained = true
		}
	}
	p.size -= len(conns)
	p.mu.Unlock()

	t0 := p.TimeNow()
	p.Logger.Info(
		"poolStopStart",
		slog.Int("count", len(conns)),
		slog.String("name", p.Settings.Name),
		slog.Time("t", t0),
	)

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Go(func() {
			if err := conn.Stop(ctx); err != nil {
				p.Logger.Warn(
					"connectionStopFailed",
					slog.Any("err", err),
					slog.String("errClass", p.ErrClassifier.Classify(err)),
					slog.String("name", p.Settings.Name),
					slog.String("remoteAddr", conn.raddr),
					slog.Time("t", p.TimeNow()),
				)
			}
		})
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.Settings.Wait)
	defer timer.Stop()
	var waitErr error
	select {
	case <-done:
	case <-timer.C:
		waitErr = ErrTimeout
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		p.Logger.Warn(
			"poolStopIncomplete",
			slog.Any("err", waitErr),
			slog.String("name", p.Settings.Name),
			slog.Time("t", p.TimeNow()),
		)
	}

	p.Logger.Info(
		"poolStopDone",
		slog.String("name", p.Settings.Name),
		slog.Time("t0", t0),
		slog.Time("t", p.TimeNow()),
	)
	return nil
}

func (p *Pool) logGetStart(t0, deadline time.Time) {
	p.Logger.Info(
		"poolGetStart",
		slog.Time("deadline", deadline),
		slog.String("name", p.Settings.Name),
		slog.Time("t", t0),
	)
}

func (p *Pool) logGetDone(t0, deadline time.Time, borrow *Borrow, err error) {
	var borrowID string
	if borrow != nil {
		borrowID = borrow.ID()
	}
	p.Logger.Info(
		"poolGetDone",
		slog.String("borrowID", borrowID),
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", p.ErrClassifier.Classify(err)),
		slog.String("name", p.Settings.Name),
		slog.Time("t0", t0),
		slog.Time("t", p.TimeNow()),
	)
}
