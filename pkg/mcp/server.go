// Package mcp exposes the page hierarchy, link fragments and the fragment
// cache as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/hublinks/hublinks/pkg/models"
)

// PageReader is the read side of the page store.
type PageReader interface {
	Lookup(ctx context.Context, id int64) (models.Page, error)
	List(ctx context.Context) ([]models.Page, error)
}

// LinkResolver produces link fragments for a render context.
type LinkResolver interface {
	Resolve(ctx context.Context, rc models.RenderContext) models.InjectResult
}

// CacheAdmin provides cache statistics and maintenance without coupling to a
// concrete cache implementation.
type CacheAdmin interface {
	Stats() (models.CacheStats, error)
	Clear(expiredOnly bool) (int64, error)
}

// Server serves hublinks tools over an MCP transport.
type Server struct {
	pages   PageReader
	links   LinkResolver
	cache   CacheAdmin
	version string
	logger  *zap.Logger
}

// New creates a Server. cache may be nil when caching is disabled.
func New(pages PageReader, links LinkResolver, cache CacheAdmin, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pages:   pages,
		links:   links,
		cache:   cache,
		version: version,
		logger:  logger,
	}
}

// Run serves tools on transport until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	err := s.newServer().Run(ctx, transport)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) newServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "hublinks", Version: s.version}, nil)
	s.registerTools(server)
	return server
}
