// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/seclink"
	"github.com/bassosimone/seclink/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Echo every received frame back to its sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				opts.config.Listen = listen
			}
			return runServe(cmd.Context(), opts.config, opts.logger)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (overrides the config)")
	return cmd
}

// runServe listens on cfg.Listen and serves until ctx is done.
func runServe(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.Listen)
	if err != nil {
		return err
	}
	srv := newServer(cfg, logger)

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(srv.collector)
		metrics := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metricsServeFailed", slog.Any("err", err))
			}
		}()
		defer metrics.Close()
	}

	return srv.serve(ctx, listener)
}

// recentTTL bounds how long the last frame of a departed peer is kept.
const recentTTL = 5 * time.Minute

// server echoes every frame back to its sender.
//
// The last frame of each connected peer lives in last. When the peer leaves
// it moves to recent, which forgets it after recentTTL.
type server struct {
	cfg       *seclink.Config
	chain     seclink.Chain
	collector *seclink.Collector
	last      *store.Data
	logger    *slog.Logger
	recent    *store.Cache
	seq       atomic.Uint64
	settings  *seclink.Settings
	spool     *store.File
}

func newServer(cfg *Config, logger *slog.Logger) *server {
	srv := &server{
		cfg:       seclink.NewConfig(),
		chain:     cfg.chain(),
		collector: seclink.NewCollector("seclink"),
		last:      store.NewData(),
		logger:    logger,
		recent:    store.NewCache(recentTTL),
		settings:  cfg.settings(),
	}
	if cfg.Spool != "" {
		srv.spool = store.NewFile(afero.NewOsFs(), cfg.Spool)
	}
	return srv
}

// serve accepts connections until ctx is done, then waits for every handler.
func (s *server) serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Info("serveStart", slog.String("localAddr", listener.Addr().String()))
	for {
		raw, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("serveDone")
				return nil
			}
			return err
		}
		if count := s.recent.Cleanup(); count > 0 {
			s.logger.Debug("recentExpired", slog.Int("count", count))
		}
		wg.Go(func() { s.handle(ctx, raw) })
	}
}

func (s *server) handle(ctx context.Context, raw net.Conn) {
	frame := seclink.NewConnectionFunc(s.cfg, s.settings, s.logger)
	frame.Chain = s.chain
	conn, err := seclink.Compose2(seclink.NewObserveConnFunc(s.cfg, s.logger), frame).Call(ctx, raw)
	if err != nil {
		raw.Close()
		return
	}
	defer conn.Close()

	peer := raw.RemoteAddr().String()
	link := seclink.NewLink(s.cfg, s.settings, s.logger)
	link.Mover = conn
	link.Start(ctx)
	s.collector.AddLink(peer, link.State())
	defer s.collector.RemoveLink(peer)
	defer link.Stop(context.Background())
	defer s.forget(peer)

	buf := make([]byte, s.settings.Size)
	for {
		count, err := link.Receive(ctx, buf)
		if err != nil {
			s.logger.Info("peerDone", slog.String("remoteAddr", peer), slog.Any("err", err))
			return
		}
		s.last.Set(peer, buf[:count])
		s.store(peer, buf[:count])
		if _, err := link.Send(ctx, buf[:count]); err != nil {
			s.logger.Info("peerDone", slog.String("remoteAddr", peer), slog.Any("err", err))
			return
		}
	}
}

// forget moves the last frame of a departed peer into the recent cache.
func (s *server) forget(peer string) {
	if data, ok := s.last.Get(peer); ok {
		s.recent.Set(peer, data)
	}
	s.last.Remove(peer)
}

// lastFrame returns the last frame received from peer, connected or recent.
func (s *server) lastFrame(peer string) ([]byte, bool) {
	if data, ok := s.last.Get(peer); ok {
		return data, true
	}
	return s.recent.Get(peer)
}

var spoolReplacer = strings.NewReplacer(":", "_", "[", "", "]", "")

// store spools a received frame when a spool directory is configured.
func (s *server) store(peer string, data []byte) {
	if s.spool == nil {
		return
	}
	name := fmt.Sprintf("%s/%08d.bin", spoolReplacer.Replace(peer), s.seq.Add(1))
	if err := s.spool.Write(name, data); err != nil {
		s.logger.Warn("spoolWriteFailed", slog.String("name", name), slog.Any("err", err))
	}
}
