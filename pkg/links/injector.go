// Package links appends crawlable parent and sibling navigation to rendered
// page content.
//
// The Injector resolves a page's hub (its parent, or the page itself when it
// is top-level), lists the hub's published children, renders them as an
// unordered list inside a container div and caches the fragment per page.
// Every failure degrades to "nothing to add": callers get a SkipReason, never
// an error, and the content passes through unchanged.
package links

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hublinks/hublinks/pkg/metrics"
	"github.com/hublinks/hublinks/pkg/models"
	"github.com/hublinks/hublinks/pkg/pages"
)

// PageSource is the read side of the host page store.
type PageSource interface {
	// Lookup returns the page with the given id, or an error wrapping
	// pages.ErrNotFound.
	Lookup(ctx context.Context, id int64) (models.Page, error)
	// Children returns published children in (menu order, title) order.
	Children(ctx context.Context, parentID int64, q models.ChildQuery) ([]models.Page, error)
}

// Permalinker resolves a page's public URL.
type Permalinker interface {
	Permalink(p models.Page) string
}

// FragmentCache stores rendered fragments with a TTL.
type FragmentCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options tunes the injector. Zero fields take the defaults below.
type Options struct {
	Limit     int
	TTL       time.Duration
	KeyPrefix string
	ClassName string
	Comment   bool
}

// Priority places the injector after primary content filters in a render pipeline.
const Priority = 20

const (
	DefaultLimit     = 50
	DefaultTTL       = 12 * time.Hour
	DefaultKeyPrefix = "internal_links:"
	DefaultClassName = "seo-internal-links"
)

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.ClassName == "" {
		o.ClassName = DefaultClassName
	}
	return o
}

// Injector builds and caches link fragments. It holds no per-request state
// and is safe for concurrent use.
type Injector struct {
	pages   PageSource
	links   Permalinker
	cache   FragmentCache
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
	group   singleflight.Group
}

// Option configures optional Injector collaborators.
type Option func(*Injector)

// WithCache sets the fragment cache. Without one every call resolves.
func WithCache(c FragmentCache) Option {
	return func(i *Injector) { i.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Injector) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(i *Injector) { i.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(i *Injector) {
		if t != nil {
			i.tracer = t
		}
	}
}

// New creates an Injector over the given page source and permalink builder.
func New(src PageSource, linker Permalinker, opts Options, options ...Option) *Injector {
	i := &Injector{
		pages:  src,
		links:  linker,
		opts:   opts.withDefaults(),
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/hublinks/hublinks/pkg/links"),
	}
	for _, o := range options {
		o(i)
	}
	return i
}

// CacheKey returns the cache key for a page id.
func (i *Injector) CacheKey(pageID int64) string {
	return i.opts.KeyPrefix + strconv.FormatInt(pageID, 10)
}

// Inject returns content with the link fragment appended, or content
// unchanged when the render gets no links.
func (i *Injector) Inject(ctx context.Context, content string, rc models.RenderContext) string {
	res := i.Resolve(ctx, rc)
	if res.Skipped() {
		return content
	}
	return content + res.Fragment
}

// Apply makes the Injector usable as a render filter.
func (i *Injector) Apply(ctx context.Context, content string, rc models.RenderContext) string {
	return i.Inject(ctx, content, rc)
}

// Resolve produces the fragment for rc, from cache when possible.
func (i *Injector) Resolve(ctx context.Context, rc models.RenderContext) models.InjectResult {
	res := i.resolve(ctx, rc)
	i.metrics.IncInject(res.Outcome())
	return res
}

func (i *Injector) resolve(ctx context.Context, rc models.RenderContext) models.InjectResult {
	if !rc.SinglePage || rc.Admin {
		return models.InjectResult{Skip: models.SkipNotSinglePage}
	}
	if rc.Page == nil {
		return models.InjectResult{Skip: models.SkipNoPage}
	}
	page := *rc.Page
	key := i.CacheKey(page.ID)

	if i.cache != nil {
		if cached, ok := i.cache.Get(ctx, key); ok {
			return models.InjectResult{Fragment: string(cached), CacheHit: true}
		}
	}

	// The result is shared with every caller waiting on key, so it must not
	// depend on the first caller's cancellation.
	v, _, _ := i.group.Do(key, func() (any, error) {
		return i.build(context.WithoutCancel(ctx), page, key), nil
	})
	return v.(models.InjectResult)
}

// build resolves the hierarchy for page, renders the fragment and caches it.
func (i *Injector) build(ctx context.Context, page models.Page, key string) models.InjectResult {
	ctx, span := i.tracer.Start(ctx, "links.Resolve", trace.WithAttributes(
		attribute.Int64("page.id", page.ID),
	))
	defer span.End()

	start := time.Now()
	defer func() { i.metrics.ObserveResolve(time.Since(start)) }()

	log := i.logger.With(zap.Int64("page_id", page.ID))

	parentID := page.ID
	if page.ParentID != 0 {
		parentID = page.ParentID
	}

	parent, err := i.pages.Lookup(ctx, parentID)
	if errors.Is(err, pages.ErrNotFound) {
		log.Debug("parent page missing", zap.Int64("parent_id", parentID))
		return skip(span, models.SkipParentMissing)
	}
	if err != nil {
		log.Warn("parent lookup failed", zap.Int64("parent_id", parentID), zap.Error(err))
		span.RecordError(err)
		return skip(span, models.SkipLookupFailed)
	}

	siblings, err := i.pages.Children(ctx, parentID, models.ChildQuery{
		Status: models.StatusPublish,
		Limit:  i.opts.Limit,
	})
	if err != nil {
		log.Warn("sibling lookup failed", zap.Int64("parent_id", parentID), zap.Error(err))
		span.RecordError(err)
		return skip(span, models.SkipLookupFailed)
	}
	if len(siblings) == 0 {
		log.Debug("no published siblings", zap.Int64("parent_id", parentID))
		return skip(span, models.SkipNoSiblings)
	}

	items := make([]Item, 0, len(siblings)+1)
	if page.ID != parentID {
		items = append(items, Item{Title: parent.Title, URL: i.links.Permalink(parent)})
	}
	for _, s := range siblings {
		if s.ID == page.ID {
			continue
		}
		items = append(items, Item{Title: s.Title, URL: i.links.Permalink(s)})
	}

	fragment, err := Render(i.opts.ClassName, i.opts.Comment, items)
	if err != nil {
		log.Error("render fragment", zap.Error(err))
		span.RecordError(err)
		return skip(span, models.SkipLookupFailed)
	}

	if i.cache != nil {
		if err := i.cache.Set(ctx, key, []byte(fragment), i.opts.TTL); err != nil {
			log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("links.count", len(items)))
	log.Debug("built link fragment", zap.Int("links", len(items)))
	return models.InjectResult{Fragment: fragment}
}

func skip(span trace.Span, reason models.SkipReason) models.InjectResult {
	span.SetAttributes(attribute.String("links.skip", string(reason)))
	return models.InjectResult{Skip: reason}
}
