package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	cachepkg "github.com/hublinks/hublinks/pkg/cache/sqlite"
	hubmcp "github.com/hublinks/hublinks/pkg/mcp"
	"github.com/hublinks/hublinks/pkg/pages"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve hublinks tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := pages.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var srv *hubmcp.Server
			if cfg.Cache.Enabled {
				cache, err := cachepkg.New(cfg.DBPath, cfg.Links.TTL)
				if err != nil {
					return err
				}
				defer func() { _ = cache.Close() }()
				srv = hubmcp.New(store, newInjector(cfg, store, cache, nil), cache, version, logger)
			} else {
				srv = hubmcp.New(store, newInjector(cfg, store, nil, nil), nil, version, logger)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}
