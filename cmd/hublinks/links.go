package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	cachepkg "github.com/hublinks/hublinks/pkg/cache/sqlite"
	"github.com/hublinks/hublinks/pkg/config"
	"github.com/hublinks/hublinks/pkg/links"
	"github.com/hublinks/hublinks/pkg/metrics"
	"github.com/hublinks/hublinks/pkg/models"
	"github.com/hublinks/hublinks/pkg/pages"
)

// newInjector wires the link injector from config. cache and rec may be nil.
func newInjector(cfg *config.Config, store *pages.Store, cache *cachepkg.Cache, rec *metrics.Recorder) *links.Injector {
	opts := []links.Option{links.WithLogger(logger), links.WithMetrics(rec)}
	if cache != nil {
		opts = append(opts, links.WithCache(cache))
	}
	return links.New(store, pages.Linker{BaseURL: cfg.Site.BaseURL}, links.Options{
		Limit:     cfg.Links.Limit,
		TTL:       cfg.Links.TTL,
		KeyPrefix: cfg.Links.KeyPrefix,
		ClassName: cfg.Links.ClassName,
		Comment:   cfg.Links.Comment,
	}, opts...)
}

func newLinksCmd() *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "links <page-id>",
		Short: "Print the link fragment for a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid page id %q: %w", args[0], err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := pages.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var cache *cachepkg.Cache
			if cfg.Cache.Enabled && !noCache {
				cache, err = cachepkg.New(cfg.DBPath, cfg.Links.TTL)
				if err != nil {
					return err
				}
				defer func() { _ = cache.Close() }()
			}

			ctx := context.Background()
			rc := models.RenderContext{SinglePage: true}
			if page, err := store.Lookup(ctx, id); err == nil {
				rc.Page = &page
			}

			res := newInjector(cfg, store, cache, nil).Resolve(ctx, rc)
			out := cmd.OutOrStdout()
			if res.Skipped() {
				fmt.Fprintf(out, "skip: %s\n", res.Skip)
				return nil
			}
			fmt.Fprintln(out, res.Fragment)
			if res.CacheHit {
				fmt.Fprintln(cmd.ErrOrStderr(), "(served from cache)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "resolve without reading or writing the cache")
	return cmd
}
