// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bassosimone/seclink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newSendCommand(opts *rootOptions) *cobra.Command {
	var metricsFile string
	cmd := &cobra.Command{
		Use:   "send PEER MESSAGE...",
		Short: "Send messages to a peer over pooled connections and print the replies",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender := &sender{
				config:      opts.config,
				logger:      opts.logger,
				metricsFile: metricsFile,
				out:         cmd.OutOrStdout(),
			}
			return sender.run(cmd.Context(), args[0], args[1:])
		},
	}
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")
	return cmd
}

// sender fills a pool with connections to one peer and exchanges messages
// over borrowed connections.
type sender struct {
	config      *Config
	logger      *slog.Logger
	metricsFile string
	out         io.Writer
}

func (s *sender) run(ctx context.Context, peer string, messages []string) error {
	cfg := seclink.NewConfig()
	settings := s.config.settings()
	route, err := s.config.route(cfg, settings, s.logger)
	if err != nil {
		return err
	}
	route.Start(ctx)
	defer route.Stop(context.Background())

	pool := seclink.NewPool(cfg, s.config.Capacity, settings, s.logger)
	defer pool.Stop(context.Background())
	for range s.config.Capacity {
		conn, err := route.Connect(ctx, peer)
		if err != nil {
			return err
		}
		if err := pool.Add(conn); err != nil {
			conn.Close()
			return err
		}
	}
	pool.Start(ctx)

	total := seclink.NewState()
	total.SetMode(seclink.ModeReady)
	replies := make([][]byte, len(messages))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Capacity)
	for idx, message := range messages {
		group.Go(func() error {
			reply, err := s.exchange(gctx, cfg, settings, pool, total, []byte(message))
			replies[idx] = reply
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, reply := range replies {
		fmt.Fprintf(s.out, "%s\n", reply)
	}
	m, stats := total.Measure(), pool.Stats()
	fmt.Fprintf(s.out, "sent=%d received=%d errors=%d requests=%d successes=%d\n",
		m.Send, m.Receive, m.Error, stats.Requests, stats.Successes)

	if s.metricsFile != "" {
		collector := seclink.NewCollector("seclink")
		collector.AddLink("send", total)
		collector.AddLink("route", route.State())
		collector.AddPool(peer, pool)
		registry := prometheus.NewRegistry()
		registry.MustRegister(collector)
		if err := prometheus.WriteToTextfile(s.metricsFile, registry); err != nil {
			return err
		}
	}
	return nil
}

// exchange sends message over a borrowed connection and returns the reply.
func (s *sender) exchange(ctx context.Context, cfg *seclink.Config, settings *seclink.Settings,
	pool *seclink.Pool, total *seclink.State, message []byte) ([]byte, error) {
	borrow, err := pool.Get(ctx)
	if err != nil {
		total.RecordError()
		return nil, err
	}
	defer borrow.Release()

	link := seclink.NewLink(cfg, settings, s.logger)
	link.Mover = borrow
	link.Start(ctx)
	defer link.Stop(ctx)

	if _, err := link.Send(ctx, message); err != nil {
		total.RecordError()
		return nil, err
	}
	buf := make([]byte, settings.Size)
	count, err := link.Receive(ctx, buf)
	if err != nil {
		total.RecordError()
		return nil, err
	}
	m := link.Measure()
	total.RecordSend(int(m.Send))
	total.RecordReceive(int(m.Receive))
	return buf[:count], nil
}
