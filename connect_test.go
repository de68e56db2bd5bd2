// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewConnectFunc populates all fields from Config and the provided logger.
func TestNewConnectFunc(t *testing.T) {
	cfg := NewConfig()
	fn := NewConnectFunc(cfg, "tcp4", DefaultSLogger())

	require.NotNil(t, fn)
	assert.Equal(t, "tcp4", fn.Network)
	assert.NotNil(t, fn.Dialer)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
	assert.NotNil(t, fn.ErrClassifier)
}

// Call dials the endpoint and classifies dial failures as transport errors.
func TestConnectFunc(t *testing.T) {
	dialErr := errors.New("connection refused")

	tests := []struct {
		// name describes what this test case verifies.
		name string

		// endpoint is the endpoint to dial.
		endpoint netip.AddrPort

		// dialErr is the error returned by the dialer.
		dialErr error

		// wantDial indicates whether the dialer must be invoked.
		wantDial bool

		// wantErr is the underlying error we expect, if any.
		wantErr error
	}{
		{
			name:     "successful connect",
			endpoint: netip.MustParseAddrPort("10.0.0.1:9000"),
			wantDial: true,
		},

		{
			name:     "dial failure",
			endpoint: netip.MustParseAddrPort("10.0.0.1:9000"),
			dialErr:  dialErr,
			wantDial: true,
			wantErr:  dialErr,
		},

		{
			name:     "invalid endpoint",
			endpoint: netip.AddrPort{},
			wantDial: false,
			wantErr:  errInvalidEndpoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialed := false
			cfg := NewConfig()
			cfg.Dialer = &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					dialed = true
					assert.Equal(t, "tcp", network)
					assert.Equal(t, tt.endpoint.String(), address)
					if tt.dialErr != nil {
						return nil, tt.dialErr
					}
					conn := newMinimalConn()
					conn.CloseFunc = func() error { return nil }
					return conn, nil
				},
			}

			fn := NewConnectFunc(cfg, "tcp", DefaultSLogger())
			conn, err := fn.Call(context.Background(), tt.endpoint)

			assert.Equal(t, tt.wantDial, dialed)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.Nil(t, conn)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, KindTransport)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, conn)
			conn.Close()
		})
	}
}

// Call propagates the caller's context deadline to the dialer.
func TestConnectFuncCallerContextDeadline(t *testing.T) {
	cfg := NewConfig()
	dialCalled := false
	expectedTimeout := 5 * time.Second
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialCalled = true
			deadline, ok := ctx.Deadline()
			assert.True(t, ok, "context should have deadline from caller")
			assert.True(t, time.Until(deadline) <= expectedTimeout)
			return nil, ctx.Err()
		},
	}

	fn := NewConnectFunc(cfg, "tcp", DefaultSLogger())
	ctx, cancel := context.WithTimeout(context.Background(), expectedTimeout)
	defer cancel()

	_, _ = fn.Call(ctx, netip.MustParseAddrPort("10.0.0.1:9000"))
	assert.True(t, dialCalled)
}

// Call emits connectStart/connectDone log events.
func TestConnectFuncLogging(t *testing.T) {
	logger, records := newCapturingLogger()

	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			conn := newMinimalConn()
			conn.CloseFunc = func() error { return nil }
			return conn, nil
		},
	}

	fn := NewConnectFunc(cfg, "tcp", logger)
	conn, err := fn.Call(context.Background(), netip.MustParseAddrPort("10.0.0.1:9000"))
	require.NoError(t, err)
	conn.Close()

	require.Len(t, *records, 2)
	assert.Equal(t, "connectStart", (*records)[0].Message)
	assert.Equal(t, "connectDone", (*records)[1].Message)
}
