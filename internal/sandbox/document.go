package sandbox

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Managed element roles. Managed elements are owned by the sandbox and are
// never touched by manifest reconciliation.
const (
	ManagedAttr   = "data-surfpack"
	RoleStyle     = "style"
	RoleImportMap = "importmap"
	RoleOverlay   = "overlay"
)

// RootID is the id of the mount point user code renders into
const RootID = "root"

const baseHTML = `<!DOCTYPE html><html><head><meta charset="utf-8"></head><body><div id="root"></div></body></html>`

// Document is the emulated DOM of a window. The tree is guarded by a mutex
// so hosts can snapshot it while the loop runs; JS proxies are owned by the
// event loop.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	head      *html.Node
	body      *html.Node
	importMap ImportTable

	vm      *goja.Runtime
	proxies map[*html.Node]*goja.Object
	nodes   map[*goja.Object]*html.Node
}

// NewDocument creates a document with an empty head and a #root mount point
func NewDocument() *Document {
	root, err := html.Parse(strings.NewReader(baseHTML))
	if err != nil {
		panic(err)
	}
	d := &Document{
		root:    root,
		proxies: make(map[*html.Node]*goja.Object),
		nodes:   make(map[*goja.Object]*html.Node),
	}
	sel := goquery.NewDocumentFromNode(root)
	d.head = sel.Find("head").Get(0)
	d.body = sel.Find("body").Get(0)
	return d
}

// HTML renders the whole document
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	_ = html.Render(&b, d.root)
	return b.String()
}

// Text returns the text content of the first element matching selector
func (d *Document) Text(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.NewDocumentFromNode(d.root).Find(selector).First().Text()
}

// Count returns the number of elements matching selector
func (d *Document) Count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.NewDocumentFromNode(d.root).Find(selector).Length()
}

// OuterHTML renders the first element matching selector
func (d *Document) OuterHTML(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := goquery.NewDocumentFromNode(d.root).Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	out, err := goquery.OuterHtml(sel)
	if err != nil {
		return ""
	}
	return out
}

// ============================================================================
// Installer Operations
// ============================================================================

// ReplaceStyles removes previously injected styles and appends one <style>
// per non-blank payload, in order
func (d *Document) ReplaceStyles(css []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeManaged(d.head, RoleStyle)
	for _, text := range css {
		if strings.TrimSpace(text) == "" {
			continue
		}
		n := newElement(atom.Style, ManagedAttr, RoleStyle, "type", "text/css")
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		d.head.AppendChild(n)
	}
}

// ReconcileManifest makes the unmanaged children of head and body match the
// manifest's elements. Elements already present (same tag, attributes and
// text) are kept; missing ones are appended; the rest are removed.
func (d *Document) ReconcileManifest(head, body []*html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reconcile(d.head, head)
	d.reconcile(d.body, body)
}

func (d *Document) reconcile(container *html.Node, desired []*html.Node) {
	for _, want := range desired {
		if findEqual(want, unmanagedChildren(container)) == nil {
			container.AppendChild(cloneNode(want))
		}
	}
	for _, have := range unmanagedChildren(container) {
		if findEqual(have, desired) == nil {
			container.RemoveChild(have)
		}
	}
}

// SetImportMap replaces the import map element when table differs from the
// installed one and reports whether it did
func (d *Document) SetImportMap(table ImportTable) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.importMap != nil && d.importMap.Equal(table) {
		return false, nil
	}
	doc, err := table.JSON()
	if err != nil {
		return false, err
	}
	d.removeManaged(d.head, RoleImportMap)
	n := newElement(atom.Script, ManagedAttr, RoleImportMap, "type", "importmap")
	n.AppendChild(&html.Node{Type: html.TextNode, Data: doc})
	d.head.AppendChild(n)
	d.importMap = table.clone()
	return true, nil
}

// ImportMap returns the installed import table
func (d *Document) ImportMap() ImportTable {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.importMap == nil {
		return nil
	}
	return d.importMap.clone()
}

// SetOverlay replaces any overlay with n, appended to the body
func (d *Document) SetOverlay(n *html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeManaged(d.body, RoleOverlay)
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	setAttr(n, ManagedAttr, RoleOverlay)
	d.body.AppendChild(n)
}

// ClearOverlay removes the overlay and reports whether one was present
func (d *Document) ClearOverlay() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeManaged(d.body, RoleOverlay) > 0
}

// Overlay renders the current overlay, or "" when none is shown
func (d *Document) Overlay() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := d.body.FirstChild; c != nil; c = c.NextSibling {
		if role, _ := getAttr(c, ManagedAttr); role == RoleOverlay {
			var b strings.Builder
			_ = html.Render(&b, c)
			return b.String()
		}
	}
	return ""
}

// ResetRoot swaps the mount point for an empty copy so the previous
// application's tree is discarded. A missing mount point is recreated.
func (d *Document) ResetRoot() {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := findByID(d.body, RootID)
	if old == nil {
		d.body.AppendChild(newElement(atom.Div, "id", RootID))
		return
	}
	fresh := &html.Node{
		Type:      old.Type,
		DataAtom:  old.DataAtom,
		Data:      old.Data,
		Namespace: old.Namespace,
		Attr:      append([]html.Attribute(nil), old.Attr...),
	}
	old.Parent.InsertBefore(fresh, old)
	old.Parent.RemoveChild(old)
}

func (d *Document) removeManaged(container *html.Node, role string) int {
	removed := 0
	for c := container.FirstChild; c != nil; {
		next := c.NextSibling
		if r, ok := getAttr(c, ManagedAttr); ok && r == role {
			container.RemoveChild(c)
			removed++
		}
		c = next
	}
	return removed
}

// ============================================================================
// Node Helpers
// ============================================================================

func newElement(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func getAttr(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func isManaged(n *html.Node) bool {
	_, ok := getAttr(n, ManagedAttr)
	return ok
}

func unmanagedChildren(container *html.Node) []*html.Node {
	var out []*html.Node
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && !isManaged(c) {
			out = append(out, c)
		}
	}
	return out
}

// elementsEqual compares tag, attribute set and text content
func elementsEqual(a, b *html.Node) bool {
	if a.Data != b.Data || len(a.Attr) != len(b.Attr) {
		return false
	}
	for _, attr := range a.Attr {
		v, ok := getAttr(b, attr.Key)
		if !ok || v != attr.Val {
			return false
		}
	}
	return textContent(a) == textContent(b)
}

func findEqual(n *html.Node, candidates []*html.Node) *html.Node {
	for _, c := range candidates {
		if elementsEqual(n, c) {
			return c
		}
	}
	return nil
}

func cloneNode(n *html.Node) *html.Node {
	out := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out.AppendChild(cloneNode(c))
	}
	return out
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			} else {
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

func findByID(n *html.Node, id string) *html.Node {
	if v, ok := getAttr(n, "id"); ok && v == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func renderChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}
