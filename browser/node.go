package browser

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/smallmercies/dom"
)

// Node is a dom.Node over a live element of the feed's page.
type Node struct {
	feed *Feed
	el   *rod.Element
}

var _ dom.Node = (*Node)(nil)

// Element returns the underlying rod element.
func (n *Node) Element() *rod.Element { return n.el }

func (n *Node) Query(selector string) (dom.Node, error) {
	els, err := n.el.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return n.feed.wrap(els.First()), nil
}

func (n *Node) Matches(selector string) (bool, error) {
	return n.el.Matches(selector)
}

func (n *Node) Parent() (dom.Node, error) {
	return n.related(`() => this.parentElement`)
}

func (n *Node) Clone() (dom.Node, error) {
	return n.related(`() => this.cloneNode(true)`)
}

// related evaluates js on the element and wraps the element it returns.
func (n *Node) related(js string) (dom.Node, error) {
	obj, err := n.el.Evaluate(rod.Eval(js).ByObject())
	if err != nil {
		return nil, fmt.Errorf("browser: eval: %w", err)
	}
	if obj.ObjectID == "" || obj.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return nil, nil
	}
	el, err := n.feed.page.ElementFromObject(obj)
	if err != nil {
		return nil, fmt.Errorf("browser: element from object: %w", err)
	}
	return n.feed.wrap(el), nil
}

func (n *Node) ReplaceWith(o dom.Node) error {
	other, ok := o.(*Node)
	if !ok {
		return fmt.Errorf("browser: replace with foreign node %T", o)
	}
	_, err := n.el.Evaluate(rod.Eval(`(n) => this.replaceWith(n)`, other.el.Object))
	return err
}

func (n *Node) Attr(name string) (string, bool, error) {
	v, err := n.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (n *Node) AddClass(names ...string) error {
	_, err := n.el.Eval(`(...c) => this.classList.add(...c)`, toArgs(names)...)
	return err
}

func (n *Node) RemoveClass(names ...string) error {
	_, err := n.el.Eval(`(...c) => this.classList.remove(...c)`, toArgs(names)...)
	return err
}

func (n *Node) HasClass(name string) (bool, error) {
	res, err := n.el.Eval(`(c) => this.classList.contains(c)`, name)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (n *Node) SetStyle(property, value string) error {
	_, err := n.el.Eval(`(p, v) => this.style.setProperty(p, v)`, property, value)
	return err
}

// OnClick registers fn with the feed and installs a page listener that
// reports clicks back through the binding.
func (n *Node) OnClick(fn func(dom.Event)) error {
	id := n.feed.addListener(fn)
	_, err := n.el.Eval(`(id) => window.__sm_feed.listen(this, id)`, id)
	if err != nil {
		n.feed.removeListener(id)
		return fmt.Errorf("browser: attach click listener: %w", err)
	}
	return nil
}

// Document is the page-wide dom.Document of a feed.
type Document struct{ feed *Feed }

func (d Document) Query(selector string) (dom.Node, error) {
	els, err := d.feed.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return d.feed.wrap(els.First()), nil
}

func toArgs(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
