package models

// PageStatus is the publish state of a page.
type PageStatus string

const (
	StatusPublish PageStatus = "publish"
	StatusDraft   PageStatus = "draft"
	StatusPrivate PageStatus = "private"
)

// Page is a hierarchical content document. ParentID is 0 for top-level pages.
type Page struct {
	ID        int64      `json:"id" yaml:"id"`
	ParentID  int64      `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Title     string     `json:"title" yaml:"title"`
	Status    PageStatus `json:"status" yaml:"status"`
	MenuOrder int        `json:"menu_order,omitempty" yaml:"menu_order,omitempty"`
	Path      string     `json:"path" yaml:"path"`
}

// IsTopLevel reports whether the page has no parent.
func (p Page) IsTopLevel() bool {
	return p.ParentID == 0
}

// ChildQuery filters and bounds a child page listing.
// Results are always ordered by menu order, then title.
type ChildQuery struct {
	Status PageStatus
	Limit  int
}
