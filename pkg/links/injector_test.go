package links

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hublinks/hublinks/pkg/metrics"
	"github.com/hublinks/hublinks/pkg/models"
	"github.com/hublinks/hublinks/pkg/pages"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePages is an in-memory PageSource that counts lookups.
type fakePages struct {
	mu         sync.Mutex
	pages      map[int64]models.Page
	lookupErr  error
	childErr   error
	lookups    atomic.Int64
	childCalls atomic.Int64
	lastQuery  models.ChildQuery
}

func newFakePages(ps ...models.Page) *fakePages {
	f := &fakePages{pages: make(map[int64]models.Page)}
	for _, p := range ps {
		if p.Status == "" {
			p.Status = models.StatusPublish
		}
		f.pages[p.ID] = p
	}
	return f
}

func (f *fakePages) Lookup(ctx context.Context, id int64) (models.Page, error) {
	f.lookups.Add(1)
	if err := ctx.Err(); err != nil {
		return models.Page{}, err
	}
	if f.lookupErr != nil {
		return models.Page{}, f.lookupErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return models.Page{}, fmt.Errorf("lookup %d: %w", id, pages.ErrNotFound)
	}
	return p, nil
}

func (f *fakePages) Children(ctx context.Context, parentID int64, q models.ChildQuery) ([]models.Page, error) {
	f.childCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.childErr != nil {
		return nil, f.childErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	var out []models.Page
	for _, p := range f.pages {
		if p.ParentID == parentID && (q.Status == "" || p.Status == q.Status) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.Page) int {
		return cmp.Or(cmp.Compare(a.MenuOrder, b.MenuOrder), strings.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakePages) add(p models.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Status == "" {
		p.Status = models.StatusPublish
	}
	f.pages[p.ID] = p
}

// memCache is an in-memory FragmentCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	setErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.ttls[key] = ttl
	return nil
}

var linker = pages.Linker{BaseURL: "https://example.com"}

func hubPages() *fakePages {
	return newFakePages(
		models.Page{ID: 1, Title: "Hub", Path: "/hub/"},
		models.Page{ID: 2, ParentID: 1, Title: "Guide", Path: "/hub/guide/"},
		models.Page{ID: 3, ParentID: 1, Title: "FAQ", Path: "/hub/faq/"},
	)
}

func pageRC(p models.Page) models.RenderContext {
	return models.RenderContext{SinglePage: true, Page: &p}
}

func TestInjectChildPage(t *testing.T) {
	src := hubPages()
	inj := New(src, linker, Options{}, WithCache(newMemCache()))

	page, _ := src.Lookup(context.Background(), 2)
	out := inj.Inject(context.Background(), "<p>body</p>", pageRC(page))

	want := `<p>body</p>` +
		`<div class="seo-internal-links"><ul>` +
		`<li><a href="https://example.com/hub/">Hub</a></li>` +
		`<li><a href="https://example.com/hub/faq/">FAQ</a></li>` +
		`</ul></div>`
	assert.Equal(t, want, out)
}

func TestInjectTopLevelHub(t *testing.T) {
	src := hubPages()
	inj := New(src, linker, Options{})

	page, _ := src.Lookup(context.Background(), 1)
	res := inj.Resolve(context.Background(), pageRC(page))
	require.False(t, res.Skipped())

	assert.NotContains(t, res.Fragment, `>Hub<`, "hub should not link to itself")
	assert.Equal(t, 2, strings.Count(res.Fragment, "<li>"))
	assert.Less(t, strings.Index(res.Fragment, "FAQ"), strings.Index(res.Fragment, "Guide"))
}

func TestInjectTopLevelWithoutChildren(t *testing.T) {
	src := newFakePages(models.Page{ID: 9, Title: "Lonely", Path: "/lonely/"})
	cache := newMemCache()
	inj := New(src, linker, Options{}, WithCache(cache))

	page, _ := src.Lookup(context.Background(), 9)
	res := inj.Resolve(context.Background(), pageRC(page))
	assert.Equal(t, models.SkipNoSiblings, res.Skip)
	assert.Equal(t, "content", inj.Inject(context.Background(), "content", pageRC(page)))
	assert.Empty(t, cache.entries, "empty results must not be cached")
}

func TestNoSiblingsIsRetried(t *testing.T) {
	src := newFakePages(models.Page{ID: 1, Title: "Hub", Path: "/hub/"})
	cache := newMemCache()
	inj := New(src, linker, Options{}, WithCache(cache))
	hub, _ := src.Lookup(context.Background(), 1)

	assert.Equal(t, models.SkipNoSiblings, inj.Resolve(context.Background(), pageRC(hub)).Skip)

	src.add(models.Page{ID: 2, ParentID: 1, Title: "New", Path: "/hub/new/"})
	res := inj.Resolve(context.Background(), pageRC(hub))
	require.False(t, res.Skipped())
	assert.Contains(t, res.Fragment, ">New<")
}

func TestSkipWrongContext(t *testing.T) {
	src := hubPages()
	inj := New(src, linker, Options{})
	page, _ := src.Lookup(context.Background(), 2)
	src.lookups.Store(0)

	tests := []struct {
		name string
		rc   models.RenderContext
		want models.SkipReason
	}{
		{"archive view", models.RenderContext{Page: &page}, models.SkipNotSinglePage},
		{"admin view", models.RenderContext{SinglePage: true, Admin: true, Page: &page}, models.SkipNotSinglePage},
		{"no page", models.RenderContext{SinglePage: true}, models.SkipNoPage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := inj.Resolve(context.Background(), tt.rc)
			assert.Equal(t, tt.want, res.Skip)
			assert.Equal(t, "c", inj.Inject(context.Background(), "c", tt.rc))
		})
	}
	assert.Zero(t, src.lookups.Load(), "early exits must not touch the store")
}

func TestParentMissingNotCached(t *testing.T) {
	src := newFakePages(models.Page{ID: 5, ParentID: 4, Title: "Orphan", Path: "/orphan/"})
	cache := newMemCache()
	inj := New(src, linker, Options{}, WithCache(cache))
	page, _ := src.Lookup(context.Background(), 5)
	src.lookups.Store(0)

	for range 2 {
		res := inj.Resolve(context.Background(), pageRC(page))
		assert.Equal(t, models.SkipParentMissing, res.Skip)
	}
	assert.Equal(t, int64(2), src.lookups.Load(), "failed resolution must be retried")
	assert.Zero(t, src.childCalls.Load())
	assert.Empty(t, cache.entries)
}

func TestLookupErrors(t *testing.T) {
	src := hubPages()
	page, _ := src.Lookup(context.Background(), 2)
	inj := New(src, linker, Options{})

	src.lookupErr = errors.New("database is locked")
	assert.Equal(t, models.SkipLookupFailed, inj.Resolve(context.Background(), pageRC(page)).Skip)

	src.lookupErr = nil
	src.childErr = errors.New("database is locked")
	assert.Equal(t, models.SkipLookupFailed, inj.Resolve(context.Background(), pageRC(page)).Skip)
}

func TestCacheHitSkipsLookups(t *testing.T) {
	src := hubPages()
	cache := newMemCache()
	inj := New(src, linker, Options{}, WithCache(cache))
	page, _ := src.Lookup(context.Background(), 2)
	src.lookups.Store(0)

	first := inj.Resolve(context.Background(), pageRC(page))
	require.False(t, first.Skipped())
	assert.False(t, first.CacheHit)
	assert.Equal(t, int64(1), src.lookups.Load())
	assert.Equal(t, int64(1), src.childCalls.Load())

	second := inj.Resolve(context.Background(), pageRC(page))
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Fragment, second.Fragment)
	assert.Equal(t, int64(1), src.lookups.Load(), "cache hit must not query the store")
	assert.Equal(t, int64(1), src.childCalls.Load())

	assert.Equal(t, DefaultTTL, cache.ttls["internal_links:2"])
	assert.Equal(t, first.Fragment, string(cache.entries["internal_links:2"]))
}

func TestCustomOptions(t *testing.T) {
	src := hubPages()
	cache := newMemCache()
	inj := New(src, linker, Options{
		TTL:       time.Hour,
		KeyPrefix: "links_",
		ClassName: "hub-nav",
		Comment:   true,
	}, WithCache(cache))
	page, _ := src.Lookup(context.Background(), 3)

	res := inj.Resolve(context.Background(), pageRC(page))
	require.False(t, res.Skipped())
	assert.True(t, strings.HasPrefix(res.Fragment, "<!-- hublinks"))
	assert.Contains(t, res.Fragment, `<div class="hub-nav">`)
	assert.Equal(t, time.Hour, cache.ttls["links_3"])
	assert.Equal(t, "links_3", inj.CacheKey(3))
}

func TestSiblingLimit(t *testing.T) {
	ps := []models.Page{{ID: 1, Title: "Hub", Path: "/hub/"}}
	for i := 2; i <= 201; i++ {
		ps = append(ps, models.Page{ID: int64(i), ParentID: 1, Title: fmt.Sprintf("Page %03d", i), Path: fmt.Sprintf("/hub/p%d/", i)})
	}
	src := newFakePages(ps...)
	inj := New(src, linker, Options{})

	hub, _ := src.Lookup(context.Background(), 1)
	res := inj.Resolve(context.Background(), pageRC(hub))
	require.False(t, res.Skipped())
	assert.Equal(t, 50, strings.Count(res.Fragment, "<li>"))
	assert.Equal(t, models.ChildQuery{Status: models.StatusPublish, Limit: 50}, src.lastQuery)

	child, _ := src.Lookup(context.Background(), 10)
	res = inj.Resolve(context.Background(), pageRC(child))
	// Parent link plus at most 49 remaining siblings once the page itself is excluded.
	assert.LessOrEqual(t, strings.Count(res.Fragment, "<li>"), 51)
}

func TestDraftSiblingsExcluded(t *testing.T) {
	src := hubPages()
	src.add(models.Page{ID: 4, ParentID: 1, Title: "Secret", Status: models.StatusDraft, Path: "/hub/secret/"})
	inj := New(src, linker, Options{})
	page, _ := src.Lookup(context.Background(), 2)

	res := inj.Resolve(context.Background(), pageRC(page))
	assert.NotContains(t, res.Fragment, "Secret")
}

func TestEscaping(t *testing.T) {
	src := newFakePages(
		models.Page{ID: 1, Title: "Hub", Path: "/hub/"},
		models.Page{ID: 2, ParentID: 1, Title: "Me", Path: "/hub/me/"},
		models.Page{ID: 3, ParentID: 1, Title: "<script>alert(1)</script>", Path: "/hub/x/"},
	)
	inj := New(src, linker, Options{})
	page, _ := src.Lookup(context.Background(), 2)

	res := inj.Resolve(context.Background(), pageRC(page))
	require.False(t, res.Skipped())
	assert.NotContains(t, res.Fragment, "<script>")
	assert.Contains(t, res.Fragment, "&lt;script&gt;alert(1)&lt;/script&gt;")
}

type rawLinker map[int64]string

func (r rawLinker) Permalink(p models.Page) string { return r[p.ID] }

func TestUnsafeURLNeutralised(t *testing.T) {
	src := hubPages()
	inj := New(src, rawLinker{1: "javascript:alert(1)", 3: `/faq/"onmouseover="x`}, Options{})
	page, _ := src.Lookup(context.Background(), 2)

	res := inj.Resolve(context.Background(), pageRC(page))
	assert.NotContains(t, res.Fragment, "javascript:")
	assert.NotContains(t, res.Fragment, `"onmouseover`)
}

func TestCacheWriteFailureStillInjects(t *testing.T) {
	src := hubPages()
	cache := newMemCache()
	cache.setErr = errors.New("disk full")
	inj := New(src, linker, Options{}, WithCache(cache))
	page, _ := src.Lookup(context.Background(), 2)

	out := inj.Inject(context.Background(), "x", pageRC(page))
	assert.True(t, strings.HasPrefix(out, "x<div"))
}

func TestConcurrentColdCache(t *testing.T) {
	src := hubPages()
	inj := New(src, linker, Options{}, WithCache(newMemCache()))
	page, _ := src.Lookup(context.Background(), 2)

	const n = 16
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = inj.Inject(context.Background(), "", pageRC(page))
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.NotEmpty(t, results[0])
}

func TestResolveIgnoresCallerCancellation(t *testing.T) {
	src := hubPages()
	cache := newMemCache()
	inj := New(src, linker, Options{}, WithCache(cache))
	page, _ := src.Lookup(context.Background(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := inj.Resolve(ctx, pageRC(page))
	require.False(t, res.Skipped(), "skip reason: %s", res.Skip)
	assert.Contains(t, res.Fragment, ">FAQ<")

	_, ok := cache.Get(context.Background(), inj.CacheKey(2))
	assert.True(t, ok, "fragment should be cached for later callers")
}

func TestMetricsOutcomes(t *testing.T) {
	reg := prom.NewRegistry()
	rec := metrics.New(reg)
	src := hubPages()
	inj := New(src, linker, Options{}, WithCache(newMemCache()), WithMetrics(rec))
	page, _ := src.Lookup(context.Background(), 2)

	inj.Resolve(context.Background(), pageRC(page))
	inj.Resolve(context.Background(), pageRC(page))
	inj.Resolve(context.Background(), models.RenderContext{})

	expected := `
# HELP hublinks_inject_total Link injections by outcome (hit, miss or skip reason)
# TYPE hublinks_inject_total counter
hublinks_inject_total{outcome="hit"} 1
hublinks_inject_total{outcome="miss"} 1
hublinks_inject_total{outcome="not_single_page"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "hublinks_inject_total"))
}
