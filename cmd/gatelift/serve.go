package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatelift/gatelift/pkg/config"
	"github.com/gatelift/gatelift/pkg/history"
	"github.com/gatelift/gatelift/pkg/logger"
	"github.com/gatelift/gatelift/pkg/metrics"
	"github.com/gatelift/gatelift/pkg/proxy"
	"github.com/gatelift/gatelift/pkg/tokencache"
	storepkg "github.com/gatelift/gatelift/pkg/tokencache/sqlite"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the challenge-clearing proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log := logger.New(logger.LevelFromString(cfg.LogLevel))

			var store tokencache.Store
			if cfg.Cache.Persist {
				s, err := storepkg.New(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("init token store: %w", err)
				}
				defer func() { _ = s.Close() }()
				store = s
			}

			cache := tokencache.New(cfg.Cache.TTL, store)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if store != nil {
				if err := cache.Warm(ctx); err != nil {
					log.Warn("token cache warm failed", "err", err)
				} else {
					log.Info("token cache warmed", "entries", cache.Size())
				}
			}

			hist, err := history.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init solve history: %w", err)
			}
			defer func() { _ = hist.Close() }()

			srv := proxy.New(cfg, cache, hist, metrics.New(), log)

			log.Info("starting gatelift proxy", "addr", cfg.Addr(), "config", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gatelift.yaml", "path to config file")
	return cmd
}
