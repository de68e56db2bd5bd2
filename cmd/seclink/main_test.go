// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bassosimone/seclink"
	"github.com/bassosimone/seclink/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startServer runs an echo server on a loopback port until the test ends.
func startServer(t *testing.T, cfg *Config, spool afero.Fs) (*server, string) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newServer(cfg, newDiscardLogger())
	if spool != nil {
		srv.spool = store.NewFile(spool, "/spool")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return srv, listener.Addr().String()
}

// testConfig returns a config with every stage enabled.
func testConfig() *Config {
	cfg := defaultConfig()
	cfg.SignKey = "sign"
	cfg.SealKey = "seal"
	cfg.MaxLength = 64
	return cfg
}

// The sender receives every message back through pooled connections.
func TestSendEcho(t *testing.T) {
	cfg := testConfig()
	spool := afero.NewMemMapFs()
	_, addr := startServer(t, cfg, spool)
	cfg.Routes = map[string]string{"peer": addr}

	var out bytes.Buffer
	metricsFile := filepath.Join(t.TempDir(), "metrics.prom")
	s := &sender{config: cfg, logger: newDiscardLogger(), metricsFile: metricsFile, out: &out}
	require.NoError(t, s.run(context.Background(), "peer", []string{"alpha", "beta", "gamma"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, lines[:3])
	assert.Equal(t, "sent=14 received=14 errors=0 requests=3 successes=3", lines[3])

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `seclink_pool_successes_total{pool="peer"} 3`)
	assert.Contains(t, string(metrics), `seclink_link_sent_bytes_total{link="send"} 14`)

	assert.Eventually(t, func() bool {
		var count int
		afero.Walk(spool, "/spool", func(path string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				count++
			}
			return nil
		})
		return count == 3
	}, time.Second, 10*time.Millisecond)
}

// Mismatched keys make the exchange fail.
func TestSendKeyMismatch(t *testing.T) {
	serverCfg := testConfig()
	_, addr := startServer(t, serverCfg, nil)

	cfg := testConfig()
	cfg.SignKey = "other"
	cfg.Wait = 50 * time.Millisecond
	cfg.Routes = map[string]string{"peer": addr}
	s := &sender{config: cfg, logger: newDiscardLogger(), out: &bytes.Buffer{}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, s.run(ctx, "peer", []string{"hello"}))
}

// An unknown peer fails before dialing.
func TestSendUnknownPeer(t *testing.T) {
	s := &sender{config: testConfig(), logger: newDiscardLogger(), out: &bytes.Buffer{}}
	assert.Error(t, s.run(context.Background(), "nobody", []string{"hello"}))
}

// Each served peer is exported while connected.
func TestServeCollector(t *testing.T) {
	cfg := defaultConfig()
	srv, addr := startServer(t, cfg, nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return testutil.CollectAndCount(srv.collector) == 4
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool {
		return testutil.CollectAndCount(srv.collector) == 0
	}, time.Second, 10*time.Millisecond)
}

// The server keeps the last frame of a peer and moves it to the recent cache
// once the peer leaves.
func TestServeLastFrame(t *testing.T) {
	cfg := testConfig()
	srv, addr := startServer(t, cfg, nil)

	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	peer := raw.LocalAddr().String()
	frame := seclink.NewConnectionFunc(seclink.NewConfig(), cfg.settings(), newDiscardLogger())
	frame.Chain = cfg.chain()
	conn, err := frame.Call(context.Background(), raw)
	require.NoError(t, err)

	for _, msg := range []string{"first", "second"} {
		_, err = conn.Send(context.Background(), []byte(msg))
		require.NoError(t, err)
		buf := make([]byte, 16)
		count, err := conn.Receive(context.Background(), buf)
		require.NoError(t, err)
		assert.Equal(t, msg, string(buf[:count]))
	}
	data, ok := srv.lastFrame(peer)
	require.True(t, ok)
	assert.Equal(t, "second", string(data))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return srv.last.Len() == 0 && srv.recent.Len() == 1
	}, time.Second, 10*time.Millisecond)
	data, ok = srv.lastFrame(peer)
	require.True(t, ok)
	assert.Equal(t, "second", string(data))
}

// The version command prints the version.
func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), fmt.Sprintf("seclink v%s", version))
}

// Global flags override the configuration.
func TestRootFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--log-level", "loud", "version"})
	assert.Error(t, root.Execute())
}
