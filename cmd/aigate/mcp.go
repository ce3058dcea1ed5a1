package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/aigate/pkg/ledger"
	"github.com/pario-ai/aigate/pkg/logging"
	"github.com/pario-ai/aigate/pkg/mcp"
	"github.com/pario-ai/aigate/pkg/tracker"
)

func newMCPCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve gateway reports to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs go to stderr or the log dir.
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			l, err := ledger.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init ledger: %w", err)
			}
			defer func() { _ = l.Close() }()

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init tracker: %w", err)
			}
			defer func() { _ = tr.Close() }()

			var stats mcp.CacheStatter
			if cfg.Cache.Enabled {
				c, err := openCache(cfg)
				if err != nil {
					return err
				}
				defer func() { _ = c.Close() }()
				stats = c
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return mcp.New(tr, l, stats, version, logger).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
