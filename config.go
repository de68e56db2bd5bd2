// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"errors"
	"net"
	"time"
)

// Config holds common configuration for seclink operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:        &net.Dialer{},
		ErrClassifier: DefaultErrClassifier,
		TimeNow:       time.Now,
	}
}

// Default values used by [NewSettings].
const (
	DefaultName = "link"
	DefaultSize = 65536
	DefaultWait = 100 * time.Millisecond
)

// Settings is the immutable configuration shared by links, connections and pools.
//
// Create once and share the pointer. Do not mutate after first use.
type Settings struct {
	// Name is a diagnostic name included in log events.
	Name string

	// Size is the maximum payload size in bytes, checked on send and receive.
	Size int

	// Wait time-boxes every pool wait: permit acquisition, the wait for a
	// returning connection and the wait for connections to stop.
	Wait time.Duration
}

// NewSettings returns [*Settings] with the default name, size and wait.
func NewSettings() *Settings {
	return &Settings{
		Name: DefaultName,
		Size: DefaultSize,
		Wait: DefaultWait,
	}
}

// Validate returns an error if the settings are unusable.
func (s *Settings) Validate() error {
	if s.Size <= 0 {
		return errors.New("settings: size must be positive")
	}
	if s.Wait < 0 {
		return errors.New("settings: wait must not be negative")
	}
	return nil
}
