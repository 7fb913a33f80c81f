package links

import (
	"html/template"
	"strings"
)

// Item is one link in the fragment.
type Item struct {
	Title string
	URL   string
}

// comment marks the fragment in page source. html/template strips comments
// from template text, so it is prepended after execution.
const comment = "<!-- hublinks: crawlable internal links -->\n"

var fragmentTmpl = template.Must(template.New("fragment").Parse(
	`<div class="{{.Class}}"><ul>{{range .Items}}<li><a href="{{.URL}}">{{.Title}}</a></li>{{end}}</ul></div>`,
))

// Render writes items as a list inside a div carrying class. Titles and
// URLs are escaped for their HTML context; unsafe URL schemes are neutralised.
func Render(class string, withComment bool, items []Item) (string, error) {
	var b strings.Builder
	if withComment {
		b.WriteString(comment)
	}
	err := fragmentTmpl.Execute(&b, struct {
		Class string
		Items []Item
	}{class, items})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
