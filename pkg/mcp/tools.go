package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/hublinks/hublinks/pkg/models"
	"github.com/hublinks/hublinks/pkg/pages"
)

var errCacheDisabled = errors.New("fragment cache is disabled")

// ListPagesInput is the input for hublinks_pages.
type ListPagesInput struct{}

// ListPagesResult lists every stored page.
type ListPagesResult struct {
	Pages []models.Page `json:"pages" jsonschema:"stored pages ordered by id"`
}

// PageLinksInput is the input for hublinks_page_links.
type PageLinksInput struct {
	PageID int64 `json:"page_id" jsonschema:"id of the page to render links for"`
}

// PageLinksResult is the link fragment a page would receive.
type PageLinksResult struct {
	PageID   int64  `json:"page_id"`
	Fragment string `json:"fragment,omitempty" jsonschema:"HTML appended to the page content"`
	Skip     string `json:"skip,omitempty" jsonschema:"why no fragment was produced"`
	CacheHit bool   `json:"cache_hit" jsonschema:"whether the fragment came from the cache"`
}

// CacheStatsInput is the input for hublinks_cache_stats.
type CacheStatsInput struct{}

// CacheStatsResult reports fragment cache occupancy.
type CacheStatsResult struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
}

// CacheClearInput is the input for hublinks_cache_clear.
type CacheClearInput struct {
	ExpiredOnly bool `json:"expired_only,omitempty" jsonschema:"only remove entries past their TTL"`
}

// CacheClearResult reports how many entries were removed.
type CacheClearResult struct {
	Cleared int64 `json:"cleared"`
}

func (s *Server) registerTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hublinks_pages",
		Description: "List all pages in the hierarchy with their parent, status and path.",
	}, s.handlePages)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hublinks_page_links",
		Description: "Show the parent and sibling link fragment for a page, or why it gets none.",
	}, s.handlePageLinks)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hublinks_cache_stats",
		Description: "Show fragment cache entry counts.",
	}, s.handleCacheStats)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hublinks_cache_clear",
		Description: "Remove cached fragments so the next render rebuilds them.",
	}, s.handleCacheClear)
}

func (s *Server) handlePages(ctx context.Context, _ *mcp.CallToolRequest, _ ListPagesInput) (*mcp.CallToolResult, ListPagesResult, error) {
	list, err := s.pages.List(ctx)
	if err != nil {
		return nil, ListPagesResult{}, fmt.Errorf("list pages: %w", err)
	}
	if list == nil {
		list = []models.Page{}
	}
	return nil, ListPagesResult{Pages: list}, nil
}

func (s *Server) handlePageLinks(ctx context.Context, _ *mcp.CallToolRequest, in PageLinksInput) (*mcp.CallToolResult, PageLinksResult, error) {
	rc := models.RenderContext{SinglePage: true}
	page, err := s.pages.Lookup(ctx, in.PageID)
	switch {
	case err == nil:
		rc.Page = &page
	case !errors.Is(err, pages.ErrNotFound):
		return nil, PageLinksResult{}, fmt.Errorf("lookup page %d: %w", in.PageID, err)
	}

	res := s.links.Resolve(ctx, rc)
	s.logger.Debug("mcp page links", zap.Int64("page_id", in.PageID), zap.String("outcome", res.Outcome()))
	return nil, PageLinksResult{
		PageID:   in.PageID,
		Fragment: res.Fragment,
		Skip:     string(res.Skip),
		CacheHit: res.CacheHit,
	}, nil
}

func (s *Server) handleCacheStats(_ context.Context, _ *mcp.CallToolRequest, _ CacheStatsInput) (*mcp.CallToolResult, CacheStatsResult, error) {
	if s.cache == nil {
		return nil, CacheStatsResult{}, errCacheDisabled
	}
	stats, err := s.cache.Stats()
	if err != nil {
		return nil, CacheStatsResult{}, fmt.Errorf("cache stats: %w", err)
	}
	return nil, CacheStatsResult{Entries: stats.Entries, Expired: stats.Expired}, nil
}

func (s *Server) handleCacheClear(_ context.Context, _ *mcp.CallToolRequest, in CacheClearInput) (*mcp.CallToolResult, CacheClearResult, error) {
	if s.cache == nil {
		return nil, CacheClearResult{}, errCacheDisabled
	}
	n, err := s.cache.Clear(in.ExpiredOnly)
	if err != nil {
		return nil, CacheClearResult{}, fmt.Errorf("clear cache: %w", err)
	}
	s.logger.Info("cache cleared via mcp", zap.Int64("entries", n), zap.Bool("expired_only", in.ExpiredOnly))
	return nil, CacheClearResult{Cleared: n}, nil
}
