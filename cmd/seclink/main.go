// SPDX-License-Identifier: GPL-3.0-or-later

// Command seclink runs an echo server and a pooled sender over secure links.
//
// Example:
//
//	seclink serve --config seclink.yaml
//	seclink send --config seclink.yaml peer hello world
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootOptions holds the global flags and what they produce.
type rootOptions struct {
	configPath string
	logFile    string
	logLevel   string

	closer io.Closer
	config *Config
	logger *slog.Logger
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File = o.logFile
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	o.config, o.logger, o.closer = cfg, logger, closer
	return nil
}

func (o *rootOptions) teardown() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "seclink",
		Short: "seclink - secure pooled point-to-point links",
		Long: `seclink exchanges length-prefixed frames protected by a configurable
chain of check, sign and seal stages. The serve command echoes every frame
back to its sender. The send command borrows connections from a pool and
prints the replies.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.teardown()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFile, "log-file", "", "Write logs to this rotated file instead of stderr")

	root.AddCommand(newVersionCommand())
	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newSendCommand(opts))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
