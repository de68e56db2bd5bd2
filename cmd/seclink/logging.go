// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// nopCloser is the closer returned when logging to a stream we do not own.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds the [*slog.Logger] described by c.
//
// Records go to a rotated file when c.File is set and to stderr otherwise.
// The returned closer releases the file.
func newLogger(c LogConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer = stderr
		closer io.Closer = nopCloser{}
	)
	if c.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    max(c.MaxSizeMB, 1),
			MaxBackups: max(c.MaxBackups, 1),
		}
		out, closer = rotator, rotator
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch c.Format {
	case "json":
		handler = slog.NewJSONHandler(out, options)
	default:
		handler = slog.NewTextHandler(out, options)
	}
	return slog.New(handler), closer, nil
}
