package sandbox

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// reflected maps element properties to the attributes they mirror
var reflected = map[string]string{
	"id":        "id",
	"className": "class",
	"src":       "src",
	"href":      "href",
	"type":      "type",
	"rel":       "rel",
	"title":     "title",
	"name":      "name",
	"value":     "value",
}

// bind creates the JS document object. Must be called once, before the
// loop starts.
func (d *Document) bind(vm *goja.Runtime) *goja.Object {
	d.vm = vm
	obj := vm.NewObject()

	_ = obj.Set("getElementById", func(id string) goja.Value {
		d.mu.Lock()
		n := findByID(d.root, id)
		d.mu.Unlock()
		return d.wrap(n)
	})
	_ = obj.Set("querySelector", func(selector string) goja.Value {
		return d.wrap(d.queryOne(d.root, selector))
	})
	_ = obj.Set("querySelectorAll", func(selector string) goja.Value {
		return d.wrapAll(d.queryAll(d.root, selector))
	})
	_ = obj.Set("createElement", func(tag string) goja.Value {
		tag = strings.ToLower(tag)
		return d.wrap(&html.Node{Type: html.ElementNode, DataAtom: atom.Lookup([]byte(tag)), Data: tag})
	})
	_ = obj.Set("createTextNode", func(text string) goja.Value {
		return d.wrap(&html.Node{Type: html.TextNode, Data: text})
	})
	_ = obj.Set("addEventListener", func() {})
	_ = obj.Set("removeEventListener", func() {})

	getter := func(name string, get func() *html.Node) {
		_ = obj.DefineAccessorProperty(name, vm.ToValue(func() goja.Value {
			return d.wrap(get())
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	getter("head", func() *html.Node { return d.head })
	getter("body", func() *html.Node { return d.body })
	getter("documentElement", func() *html.Node { return d.head.Parent })

	return obj
}

func (d *Document) queryOne(n *html.Node, selector string) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.NewDocumentFromNode(n).Find(selector).Get(0)
}

func (d *Document) queryAll(n *html.Node, selector string) []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*html.Node(nil), goquery.NewDocumentFromNode(n).Find(selector).Nodes...)
}

// wrap returns the cached proxy for n. Proxy creation never touches the
// tree, so accessors may call it while holding d.mu.
func (d *Document) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := d.proxies[n]; ok {
		return obj
	}
	obj := d.nodeProxy(n)
	d.proxies[n] = obj
	d.nodes[obj] = n
	return obj
}

func (d *Document) wrapAll(nodes []*html.Node) goja.Value {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = d.wrap(n)
	}
	return d.vm.NewArray(out...)
}

// unwrap maps a proxy back to its node
func (d *Document) unwrap(v goja.Value) *html.Node {
	obj, ok := v.(*goja.Object)
	if !ok {
		panic(d.vm.NewTypeError("parameter is not of type 'Node'"))
	}
	n, ok := d.nodes[obj]
	if !ok {
		panic(d.vm.NewTypeError("parameter is not of type 'Node'"))
	}
	return n
}

func (d *Document) nodeProxy(n *html.Node) *goja.Object {
	vm := d.vm
	obj := vm.NewObject()

	accessor := func(name string, get func() any, set func(goja.Value)) {
		var setter goja.Value
		if set != nil {
			setter = vm.ToValue(set)
		}
		_ = obj.DefineAccessorProperty(name, vm.ToValue(func() any {
			d.mu.Lock()
			defer d.mu.Unlock()
			return get()
		}), setter, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	accessor("textContent", func() any { return textContent(n) }, func(v goja.Value) {
		d.mu.Lock()
		defer d.mu.Unlock()
		removeChildren(n)
		if s := v.String(); s != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
		}
	})
	accessor("parentNode", func() any { return d.wrap(n.Parent) }, nil)
	accessor("parentElement", func() any {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return d.wrap(n.Parent)
	}, nil)
	accessor("firstChild", func() any { return d.wrap(n.FirstChild) }, nil)
	accessor("nextSibling", func() any { return d.wrap(n.NextSibling) }, nil)
	_ = obj.Set("ownerDocument", vm.Get("document"))

	if n.Type == html.TextNode {
		_ = obj.Set("nodeType", 3)
		_ = obj.Set("nodeName", "#text")
		accessor("data", func() any { return n.Data }, func(v goja.Value) {
			d.mu.Lock()
			n.Data = v.String()
			d.mu.Unlock()
		})
		_ = obj.Set("remove", func() { d.detach(n) })
		return obj
	}

	tag := strings.ToUpper(n.Data)
	_ = obj.Set("nodeType", 1)
	_ = obj.Set("tagName", tag)
	_ = obj.Set("nodeName", tag)
	_ = obj.Set("style", vm.NewObject())

	for prop, attr := range reflected {
		attr := attr
		accessor(prop, func() any {
			v, _ := getAttr(n, attr)
			return v
		}, func(v goja.Value) {
			d.mu.Lock()
			setAttr(n, attr, v.String())
			d.mu.Unlock()
		})
	}

	accessor("innerHTML", func() any { return renderChildren(n) }, func(v goja.Value) {
		nodes, err := html.ParseFragment(strings.NewReader(v.String()), n)
		if err != nil {
			panic(vm.NewTypeError("%s", err.Error()))
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		removeChildren(n)
		for _, c := range nodes {
			n.AppendChild(c)
		}
	})
	accessor("outerHTML", func() any {
		var b strings.Builder
		_ = html.Render(&b, n)
		return b.String()
	}, nil)
	accessor("children", func() any {
		var out []any
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, d.wrap(c))
			}
		}
		return vm.NewArray(out...)
	}, nil)

	_ = obj.Set("getAttribute", func(name string) goja.Value {
		d.mu.Lock()
		defer d.mu.Unlock()
		if v, ok := getAttr(n, strings.ToLower(name)); ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = obj.Set("setAttribute", func(name, value string) {
		d.mu.Lock()
		defer d.mu.Unlock()
		setAttr(n, strings.ToLower(name), value)
	})
	_ = obj.Set("removeAttribute", func(name string) {
		d.mu.Lock()
		defer d.mu.Unlock()
		removeAttr(n, strings.ToLower(name))
	})
	_ = obj.Set("hasAttribute", func(name string) bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		_, ok := getAttr(n, strings.ToLower(name))
		return ok
	})

	_ = obj.Set("appendChild", func(child goja.Value) goja.Value {
		c := d.unwrap(child)
		d.mu.Lock()
		defer d.mu.Unlock()
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		n.AppendChild(c)
		return child
	})
	_ = obj.Set("insertBefore", func(child, ref goja.Value) goja.Value {
		c := d.unwrap(child)
		var before *html.Node
		if !goja.IsNull(ref) && !goja.IsUndefined(ref) {
			before = d.unwrap(ref)
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if before != nil && before.Parent != n {
			panic(vm.NewTypeError("reference node is not a child of this node"))
		}
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		n.InsertBefore(c, before)
		return child
	})
	_ = obj.Set("removeChild", func(child goja.Value) goja.Value {
		c := d.unwrap(child)
		d.mu.Lock()
		defer d.mu.Unlock()
		if c.Parent != n {
			panic(vm.NewTypeError("the node to be removed is not a child of this node"))
		}
		n.RemoveChild(c)
		return child
	})
	_ = obj.Set("remove", func() { d.detach(n) })
	_ = obj.Set("contains", func(other goja.Value) bool {
		if goja.IsNull(other) || goja.IsUndefined(other) {
			return false
		}
		o := d.unwrap(other)
		d.mu.Lock()
		defer d.mu.Unlock()
		for p := o; p != nil; p = p.Parent {
			if p == n {
				return true
			}
		}
		return false
	})
	_ = obj.Set("querySelector", func(selector string) goja.Value {
		return d.wrap(d.queryOne(n, selector))
	})
	_ = obj.Set("querySelectorAll", func(selector string) goja.Value {
		return d.wrapAll(d.queryAll(n, selector))
	})
	_ = obj.Set("addEventListener", func() {})
	_ = obj.Set("removeEventListener", func() {})

	return obj
}

func (d *Document) detach(n *html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
