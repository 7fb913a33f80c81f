package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cachepkg "github.com/hublinks/hublinks/pkg/cache/sqlite"
	"github.com/hublinks/hublinks/pkg/links"
	"github.com/hublinks/hublinks/pkg/metrics"
	"github.com/hublinks/hublinks/pkg/pages"
	"github.com/hublinks/hublinks/pkg/proxy"
	"github.com/hublinks/hublinks/pkg/render"
	"github.com/hublinks/hublinks/pkg/scheduler"
	"github.com/hublinks/hublinks/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the link-injecting reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			store, err := pages.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init page store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if cfg.Pages.Manifest != "" {
				n, err := store.Import(ctx, cfg.Pages.Manifest)
				if err != nil {
					return fmt.Errorf("import manifest: %w", err)
				}
				logger.Info("imported page manifest", zap.String("path", cfg.Pages.Manifest), zap.Int("pages", n))
				if cfg.Pages.Watch {
					go func() {
						if err := pages.Watch(ctx, cfg.Pages.Manifest, store, logger); err != nil {
							logger.Error("manifest watcher stopped", zap.Error(err))
						}
					}()
				}
			}

			var cache *cachepkg.Cache
			if cfg.Cache.Enabled {
				cache, err = cachepkg.New(cfg.DBPath, cfg.Links.TTL)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer func() { _ = cache.Close() }()

				sched, err := scheduler.New(logger)
				if err != nil {
					return fmt.Errorf("init scheduler: %w", err)
				}
				if _, err := sched.SchedulePurge(cfg.Cache.PurgeInterval, cache); err != nil {
					return err
				}
				sched.Start()
				defer func() { _ = sched.Stop() }()
			}

			var rec *metrics.Recorder
			if cfg.Metrics.Enabled {
				rec = metrics.New(nil)
			}

			pipeline := render.New()
			if cfg.Links.Enabled {
				inj := newInjector(cfg, store, cache, rec)
				if err := pipeline.Register("internal-links", links.Priority, inj); err != nil {
					return err
				}
			}

			srv, err := proxy.New(cfg, store, pipeline, rec, logger)
			if err != nil {
				return err
			}

			logger.Info("starting hublinks", zap.String("config", configPath), zap.Strings("filters", pipeline.Filters()))
			return srv.ListenAndServe(ctx)
		},
	}
}
