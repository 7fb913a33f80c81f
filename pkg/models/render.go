package models

// RenderContext describes the request a page render belongs to.
type RenderContext struct {
	// SinglePage is true for a front-end view of exactly one page.
	SinglePage bool
	// Admin is true for back-office requests.
	Admin bool
	// Page is the page being rendered, nil when none could be resolved.
	Page *Page
}

// SkipReason explains why no link fragment was produced.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipNotSinglePage SkipReason = "not_single_page"
	SkipNoPage        SkipReason = "no_page"
	SkipParentMissing SkipReason = "parent_missing"
	SkipNoSiblings    SkipReason = "no_siblings"
	SkipLookupFailed  SkipReason = "lookup_failed"
)

// InjectResult is the outcome of resolving links for one render.
type InjectResult struct {
	Fragment string
	Skip     SkipReason
	CacheHit bool
}

// Skipped reports whether the render gets no fragment.
func (r InjectResult) Skipped() bool {
	return r.Skip != SkipNone
}

// Outcome is a short label for logs and metrics: hit, miss or the skip reason.
func (r InjectResult) Outcome() string {
	switch {
	case r.Skipped():
		return string(r.Skip)
	case r.CacheHit:
		return "hit"
	default:
		return "miss"
	}
}
