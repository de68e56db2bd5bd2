// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
	"github.com/stretchr/testify/require"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), &records
}

// countMessages returns how many records carry the given message.
func countMessages(records []slog.Record, message string) (count int) {
	for _, rec := range records {
		if rec.Message == message {
			count++
		}
	}
	return
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] that wraps the given
// [TLSConn]. The engine's ClientFunc returns the conn, NameFunc returns
// "mock", and ParrotFunc returns "".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// newClosableConn returns a [*netstub.FuncConn] whose Close returns closeErr
// and whose deadline setters succeed.
func newClosableConn(closeErr error) *netstub.FuncConn {
	conn := newMinimalConn()
	conn.CloseFunc = func() error { return closeErr }
	conn.SetDeadlineFunc = func(t time.Time) error { return nil }
	conn.SetReadDeadFunc = func(t time.Time) error { return nil }
	conn.SetWriteDeaFunc = func(t time.Time) error { return nil }
	return conn
}

// newPipeConnections returns two framed connections joined by [net.Pipe]
// and sharing the given settings and chain.
func newPipeConnections(t *testing.T, settings *Settings, chain Chain) (*Connection, *Connection) {
	left, right := net.Pipe()
	fn := NewConnectionFunc(NewConfig(), settings, DefaultSLogger())
	fn.Chain = chain
	c1, err := fn.Call(context.Background(), left)
	require.NoError(t, err)
	c2, err := fn.Call(context.Background(), right)
	require.NoError(t, err)
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return c1, c2
}

// newTestConnection wraps conn into a [*Connection] with default settings.
func newTestConnection(conn net.Conn) *Connection {
	fn := NewConnectionFunc(NewConfig(), NewSettings(), DefaultSLogger())
	c, _ := fn.Call(context.Background(), conn)
	return c
}
