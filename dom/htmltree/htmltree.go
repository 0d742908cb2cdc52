// Package htmltree implements dom.Node over golang.org/x/net/html trees.
// It backs fixer tests and offline replays of captured pages: listeners
// are kept per document and Click bubbles from the target to the root.
package htmltree

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/dom/internal/selector"
)

// ErrForeignNode is returned when a node from another implementation or
// document is passed in.
var ErrForeignNode = errors.New("htmltree: foreign node")

// ErrDetached is returned by ReplaceWith on a node without parent.
var ErrDetached = errors.New("htmltree: node is detached")

// Document owns a parsed tree and the listeners attached to its nodes.
type Document struct {
	root *html.Node

	mu        sync.Mutex
	listeners map[*html.Node][]func(dom.Event)
	compiled  map[string]*selector.Selector
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmltree: parse: %w", err)
	}
	return newDocument(root), nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFragment parses s as children of a <body> and returns the
// document plus its first element, handy for building a single node.
func ParseFragment(s string) (*Document, *Node, error) {
	doc, err := ParseString("<html><body>" + s + "</body></html>")
	if err != nil {
		return nil, nil, err
	}
	body := doc.Body()
	for c := body.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return doc, doc.wrap(c), nil
		}
	}
	return nil, nil, fmt.Errorf("htmltree: fragment has no element")
}

func newDocument(root *html.Node) *Document {
	return &Document{
		root:      root,
		listeners: make(map[*html.Node][]func(dom.Event)),
		compiled:  make(map[string]*selector.Selector),
	}
}

func (d *Document) wrap(n *html.Node) *Node {
	if n == nil {
		return nil
	}
	return &Node{doc: d, n: n}
}

func (d *Document) compile(src string) (*selector.Selector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.compiled[src]; ok {
		return s, nil
	}
	s, err := selector.Compile(src)
	if err != nil {
		return nil, err
	}
	d.compiled[src] = s
	return s, nil
}

// Query returns the first element in the document matching selector.
func (d *Document) Query(sel string) (dom.Node, error) {
	s, err := d.compile(sel)
	if err != nil {
		return nil, err
	}
	if found := s.First(d.root); found != nil {
		return d.wrap(found), nil
	}
	return nil, nil
}

// QueryAll returns every element in the document matching selector.
func (d *Document) QueryAll(sel string) ([]*Node, error) {
	s, err := d.compile(sel)
	if err != nil {
		return nil, err
	}
	var out []*Node
	for _, n := range s.All(d.root) {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// Body returns the <body> element.
func (d *Document) Body() *Node {
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if b := find(c); b != nil {
				return b
			}
		}
		return nil
	}
	return d.wrap(find(d.root))
}

// Render serializes the document.
func (d *Document) Render() string {
	var buf bytes.Buffer
	_ = html.Render(&buf, d.root)
	return buf.String()
}

// Click dispatches a click on target and bubbles it through its
// ancestors. Listeners run synchronously. It returns the number of
// listeners invoked.
func (d *Document) Click(target dom.Node) (int, error) {
	t, ok := target.(*Node)
	if !ok || t.doc != d {
		return 0, ErrForeignNode
	}
	ev := dom.Event{Type: "click", Target: t}
	calls := 0
	for n := t.n; n != nil; n = n.Parent {
		d.mu.Lock()
		fns := slices.Clone(d.listeners[n])
		d.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
			calls++
		}
	}
	return calls, nil
}

// ListenerCount returns the click listeners attached directly to n.
func (d *Document) ListenerCount(n dom.Node) int {
	t, ok := n.(*Node)
	if !ok {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[t.n])
}

// Node is a dom.Node over an *html.Node.
type Node struct {
	doc *Document
	n   *html.Node
}

var _ dom.Node = (*Node)(nil)

// HTML returns the node's outer HTML.
func (n *Node) HTML() string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n.n)
	return buf.String()
}

// Tag returns the element name.
func (n *Node) Tag() string { return n.n.Data }

// Same reports whether two handles point at the same element.
func (n *Node) Same(o dom.Node) bool {
	t, ok := o.(*Node)
	return ok && t.n == n.n
}

func (n *Node) Query(sel string) (dom.Node, error) {
	s, err := n.doc.compile(sel)
	if err != nil {
		return nil, err
	}
	if found := s.First(n.n); found != nil {
		return n.doc.wrap(found), nil
	}
	return nil, nil
}

func (n *Node) Matches(sel string) (bool, error) {
	s, err := n.doc.compile(sel)
	if err != nil {
		return false, err
	}
	return s.Match(n.n), nil
}

func (n *Node) Parent() (dom.Node, error) {
	p := n.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil, nil
	}
	return n.doc.wrap(p), nil
}

func (n *Node) Clone() (dom.Node, error) {
	return n.doc.wrap(deepCopy(n.n)), nil
}

func (n *Node) ReplaceWith(o dom.Node) error {
	repl, ok := o.(*Node)
	if !ok || repl.doc != n.doc {
		return ErrForeignNode
	}
	p := n.n.Parent
	if p == nil {
		return ErrDetached
	}
	if repl.n.Parent != nil {
		repl.n.Parent.RemoveChild(repl.n)
	}
	p.InsertBefore(repl.n, n.n)
	p.RemoveChild(n.n)
	return nil
}

func (n *Node) Attr(name string) (string, bool, error) {
	for _, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

// SetAttr sets or adds an attribute.
func (n *Node) SetAttr(name, value string) {
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.n.Attr[i].Val = value
			return
		}
	}
	n.n.Attr = append(n.n.Attr, html.Attribute{Key: name, Val: value})
}

// Classes returns the class list in attribute order.
func (n *Node) Classes() []string {
	v, _, _ := n.Attr("class")
	return strings.Fields(v)
}

func (n *Node) HasClass(name string) (bool, error) {
	for _, c := range n.Classes() {
		if c == name {
			return true, nil
		}
	}
	return false, nil
}

func (n *Node) AddClass(names ...string) error {
	classes := n.Classes()
	for _, name := range names {
		if !contains(classes, name) {
			classes = append(classes, name)
		}
	}
	n.SetAttr("class", strings.Join(classes, " "))
	return nil
}

func (n *Node) RemoveClass(names ...string) error {
	classes := n.Classes()
	kept := classes[:0]
	for _, c := range classes {
		if !contains(names, c) {
			kept = append(kept, c)
		}
	}
	n.SetAttr("class", strings.Join(kept, " "))
	return nil
}

// Style returns the value of one inline style property.
func (n *Node) Style(property string) string {
	v, _, _ := n.Attr("style")
	for _, decl := range parseStyle(v) {
		if decl[0] == property {
			return decl[1]
		}
	}
	return ""
}

func (n *Node) SetStyle(property, value string) error {
	v, _, _ := n.Attr("style")
	decls := parseStyle(v)
	set := false
	for i := range decls {
		if decls[i][0] == property {
			decls[i][1] = value
			set = true
		}
	}
	if !set {
		decls = append(decls, [2]string{property, value})
	}
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d[0]+": "+d[1])
	}
	n.SetAttr("style", strings.Join(parts, "; ")+";")
	return nil
}

func (n *Node) OnClick(fn func(dom.Event)) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.doc.listeners[n.n] = append(n.doc.listeners[n.n], fn)
	return nil
}

func parseStyle(s string) [][2]string {
	var out [][2]string
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		out = append(out, [2]string{strings.TrimSpace(k), strings.TrimSpace(v)})
	}
	return out
}

func deepCopy(src *html.Node) *html.Node {
	dst := &html.Node{
		Type:      src.Type,
		DataAtom:  src.DataAtom,
		Data:      src.Data,
		Namespace: src.Namespace,
		Attr:      append([]html.Attribute(nil), src.Attr...),
	}
	for c := src.FirstChild; c != nil; c = c.NextSibling {
		dst.AppendChild(deepCopy(c))
	}
	return dst
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
