package proxy

import (
	"bytes"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// container is the byte range of an element's inner HTML within a document.
type container struct {
	tag        string
	innerStart int
	innerEnd   int
}

type tagMatcher func(name string, attrs map[string]string) bool

func classMatcher(class string) tagMatcher {
	return func(_ string, attrs map[string]string) bool {
		return class != "" && slices.Contains(strings.Fields(attrs["class"]), class)
	}
}

func tagNameMatcher(tag string) tagMatcher {
	return func(name string, _ map[string]string) bool {
		return name == tag
	}
}

// findContainer locates the element holding page content: the first element
// carrying class, else <main>, else <body>.
func findContainer(doc []byte, class string) (container, bool) {
	for _, m := range []tagMatcher{classMatcher(class), tagNameMatcher("main"), tagNameMatcher("body")} {
		if c, ok := locate(doc, m); ok {
			return c, true
		}
	}
	return container{}, false
}

// locate tokenizes doc and returns the inner range of the first element
// accepted by match. Elements without a matching end tag are not returned.
func locate(doc []byte, match tagMatcher) (container, bool) {
	z := html.NewTokenizer(bytes.NewReader(doc))
	offset := 0
	var c container
	depth := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return container{}, false
		}
		tokStart := offset
		offset += len(z.Raw())

		switch tt {
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if depth > 0 {
				if tag == c.tag {
					depth++
				}
				continue
			}
			if match(tag, readAttrs(z, hasAttr)) {
				c = container{tag: tag, innerStart: offset}
				depth = 1
			}
		case html.EndTagToken:
			if depth == 0 {
				continue
			}
			name, _ := z.TagName()
			if string(name) != c.tag {
				continue
			}
			depth--
			if depth == 0 {
				c.innerEnd = tokStart
				return c, true
			}
		}
	}
}

func readAttrs(z *html.Tokenizer, hasAttr bool) map[string]string {
	attrs := make(map[string]string)
	for hasAttr {
		var k, v []byte
		k, v, hasAttr = z.TagAttr()
		attrs[string(k)] = string(v)
	}
	return attrs
}

// splice replaces the inner HTML of c in doc with content.
func splice(doc []byte, c container, content string) []byte {
	out := make([]byte, 0, len(doc)-(c.innerEnd-c.innerStart)+len(content))
	out = append(out, doc[:c.innerStart]...)
	out = append(out, content...)
	out = append(out, doc[c.innerEnd:]...)
	return out
}
