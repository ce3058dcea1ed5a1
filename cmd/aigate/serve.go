package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/aigate/pkg/admission"
	"github.com/pario-ai/aigate/pkg/cache"
	"github.com/pario-ai/aigate/pkg/identity"
	"github.com/pario-ai/aigate/pkg/ledger"
	"github.com/pario-ai/aigate/pkg/logging"
	"github.com/pario-ai/aigate/pkg/router"
	"github.com/pario-ai/aigate/pkg/server"
	"github.com/pario-ai/aigate/pkg/tracker"
)

func newServeCmd(load configLoader) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

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

			r, err := router.FromConfig(cfg, logger)
			if err != nil {
				return fmt.Errorf("init router: %w", err)
			}
			if len(r.Routes()) == 0 {
				logger.Warn("no_providers_enabled", "configured", len(cfg.Providers))
			}
			for _, route := range r.Routes() {
				logger.Info("provider_enabled", "provider", route.Provider.Name, "type", route.Provider.Type, "priority", route.Provider.Priority)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps := admission.Deps{Ledger: l, Costs: l, Router: r, Usage: tr, Logger: logger}
			var c *cache.Cache
			if cfg.Cache.Enabled {
				c, err = openCache(cfg)
				if err != nil {
					return err
				}
				defer func() { _ = c.Close() }()
				deps.Cache = c
				go cache.NewSweeper(c, cfg.Cache.SweepInterval, logger).Run(ctx)
			}

			ctrl := admission.New(deps, admission.Options{
				DefaultCost:   cfg.Costs.Default,
				FeatureCosts:  cfg.Costs.Features,
				SingleFlight:  cfg.Gateway.SingleFlight,
				ExcerptLength: cfg.Gateway.ExcerptLength,
			})

			if cfg.Identity.JWTSecret == "" {
				logger.Warn("identity_disabled", "reason", "identity.jwt_secret is empty; /v1 routes will reject every request")
			}
			srv := server.New(server.Deps{
				Admission:  ctrl,
				Accounts:   l,
				Cache:      c,
				Usage:      tr,
				Identity:   identity.NewManager(cfg.Identity.JWTSecret, cfg.Identity.Issuer),
				AdminToken: cfg.Gateway.AdminToken,
				Logger:     logger,
			})

			logger.Info("aigate_starting", "version", version, "listen", cfg.Listen, "cache", cfg.Cache.Enabled, "cache_backend", cfg.Cache.Backend)
			return srv.ListenAndServe(ctx, cfg.Listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
