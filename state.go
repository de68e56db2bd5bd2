// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"sync"
	"time"
)

// Mode is the lifecycle stage of a link, connection, pool or route.
type Mode int

const (
	ModeInit Mode = iota
	ModeReady
	ModeActive
	ModePause
	ModeClose
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeInit:
		return "init"
	case ModeReady:
		return "ready"
	case ModeActive:
		return "active"
	case ModePause:
		return "pause"
	case ModeClose:
		return "close"
	default:
		return "unknown"
	}
}

// Lifecycle is implemented by every component carrying a [Mode].
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Mode() Mode
}

// Measure is a snapshot of transfer telemetry.
type Measure struct {
	// Send is the cumulative number of bytes sent.
	Send uint64

	// Receive is the cumulative number of bytes received.
	Receive uint64

	// Error is the cumulative number of recorded errors.
	Error uint64

	// Start is the time of the first recorded send or receive.
	//
	// Zero until the first activity.
	Start time.Time
}

// State holds a [Mode] and a [Measure] behind a read/write lock.
//
// Share a *State among owners that report into the same counters. All
// methods are safe for concurrent use.
type State struct {
	// TimeNow stamps [Measure.Start].
	//
	// Set by [NewState] to [time.Now]. Do not mutate after first use.
	TimeNow func() time.Time

	mu      sync.RWMutex
	mode    Mode
	measure Measure
}

// NewState returns a [*State] in [ModeInit] with zero counters.
func NewState() *State {
	return &State{TimeNow: time.Now, mode: ModeInit}
}

// Mode returns the current mode.
func (s *State) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode overwrites the current mode. Any mode may follow any mode.
func (s *State) SetMode(mode Mode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Measure returns a snapshot of the counters.
func (s *State) Measure() Measure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.measure
}

// RecordSend adds n to the sent bytes counter.
func (s *State) RecordSend(n int) {
	s.mu.Lock()
	s.measure.Send += uint64(max(n, 0))
	s.stampLocked()
	s.mu.Unlock()
}

// RecordReceive adds n to the received bytes counter.
func (s *State) RecordReceive(n int) {
	s.mu.Lock()
	s.measure.Receive += uint64(max(n, 0))
	s.stampLocked()
	s.mu.Unlock()
}

// RecordError increments the error counter.
func (s *State) RecordError() {
	s.mu.Lock()
	s.measure.Error++
	s.mu.Unlock()
}

func (s *State) stampLocked() {
	if s.measure.Start.IsZero() {
		s.measure.Start = s.TimeNow()
	}
}
