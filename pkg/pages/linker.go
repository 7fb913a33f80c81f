package pages

import (
	"net/url"
	"strings"

	"github.com/hublinks/hublinks/pkg/models"
)

// Linker builds absolute permalinks from a site base URL.
type Linker struct {
	BaseURL string
}

// Permalink returns the public URL of p.
func (l Linker) Permalink(p models.Page) string {
	path := NormalizePath(p.Path)
	base, err := url.Parse(l.BaseURL)
	if err != nil || base.Host == "" {
		return path
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + path
	base.RawQuery = ""
	base.Fragment = ""
	return base.String()
}
