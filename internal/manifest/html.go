package manifest

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/vvanghelue/surfpack/internal/shared/paths"
)

// Files is the lookup side of a virtual file map
type Files interface {
	Has(path string) bool
	Get(path string) (string, bool)
}

// ScriptEntry returns the src of the first <script src> that names a known
// path, verbatim or with its leading "./" or "/" removed.
func ScriptEntry(content string, fm Files) (string, bool) {
	doc, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return "", false
	}
	for _, n := range htmlquery.Find(doc, "//script[@src]") {
		src := htmlquery.SelectAttr(n, "src")
		if src == "" {
			continue
		}
		if fm.Has(src) {
			return src, true
		}
		if p := paths.Normalize(src); fm.Has(p) {
			return p, true
		}
	}
	return "", false
}

// Styles collects the style payloads an HTML manifest declares outside the
// module graph: inline <style> bodies in document order, then the contents of
// same-origin relative <link rel="stylesheet"> targets that exist in fm.
func Styles(content string, fm Files) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}

	var out []string
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		if body := s.Text(); strings.TrimSpace(body) != "" {
			out = append(out, body)
		}
	})

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		if !isStylesheet(s.AttrOr("rel", "")) {
			return
		}
		href, _ := s.Attr("href")
		target, ok := localHref(href)
		if !ok {
			return
		}
		p, ok := paths.ResolveExisting(target, fm)
		if !ok {
			return
		}
		if css, ok := fm.Get(p); ok {
			out = append(out, css)
		}
	})
	return out
}

func isStylesheet(rel string) bool {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "stylesheet" {
			return true
		}
	}
	return false
}

// localHref reports whether href is a relative same-origin reference and
// returns it as a project path. Root-absolute, protocol-relative and schemed
// hrefs are rejected.
func localHref(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	p := paths.Join("", u.Path)
	return p, p != ""
}

// HeadElements returns the element children of the manifest's <head>
func HeadElements(content string) []*html.Node {
	return sectionElements(content, "head")
}

// BodyElements returns the element children of the manifest's <body>
func BodyElements(content string) []*html.Node {
	return sectionElements(content, "body")
}

func sectionElements(content, section string) []*html.Node {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil
	}
	container := htmlquery.FindOne(doc, "//"+section)
	if container == nil {
		return nil
	}
	var out []*html.Node
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}
