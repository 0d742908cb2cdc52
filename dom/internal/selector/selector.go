// Package selector compiles the CSS selector subset fixers use and matches
// it against golang.org/x/net/html trees.
//
// Supported: type selectors, *, .class, #id, [attr], [attr=v], [attr~=v],
// [attr^=v], [attr$=v], [attr*=v] (quoted or bare values), the descendant
// (space) and child (>) combinators, and comma-separated groups.
package selector

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

type attrOp byte

const (
	opExists   attrOp = 0
	opEquals   attrOp = '='
	opIncludes attrOp = '~'
	opPrefix   attrOp = '^'
	opSuffix   attrOp = '$'
	opContains attrOp = '*'
)

type attrCond struct {
	name  string
	op    attrOp
	value string
}

// compound is one element test, e.g. button.buttonlet[type='x'].
type compound struct {
	tag     string // "" or "*" matches any element
	id      string
	classes []string
	attrs   []attrCond
}

type combinator byte

const (
	descendant combinator = ' '
	child      combinator = '>'
)

// complexSel is a chain of compounds; combs[i] joins parts[i] and parts[i+1].
type complexSel struct {
	parts []compound
	combs []combinator
}

// Selector is a compiled selector group.
type Selector struct {
	src    string
	groups []complexSel
}

// String returns the source text.
func (s *Selector) String() string { return s.src }

// Compile parses src.
func Compile(src string) (*Selector, error) {
	p := &parser{src: src}
	sel := &Selector{src: src}
	for {
		g, err := p.complex()
		if err != nil {
			return nil, err
		}
		sel.groups = append(sel.groups, g)
		p.skipSpace()
		if p.eof() {
			return sel, nil
		}
		if p.peek() != ',' {
			return nil, fmt.Errorf("selector: unexpected %q at %d in %q", p.peek(), p.pos, src)
		}
		p.pos++
	}
}

// MustCompile is Compile for package-level selectors.
func MustCompile(src string) *Selector {
	s, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Match reports whether n matches the selector.
func (s *Selector) Match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, g := range s.groups {
		if g.match(n) {
			return true
		}
	}
	return false
}

// First returns the first descendant of root (root excluded, document
// order) that matches, or nil.
func (s *Selector) First(root *html.Node) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if s.Match(c) {
			return c
		}
		if found := s.First(c); found != nil {
			return found
		}
	}
	return nil
}

// All returns every matching descendant of root in document order.
func (s *Selector) All(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s.Match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func (g complexSel) match(n *html.Node) bool {
	return g.matchAt(len(g.parts)-1, n)
}

// matchAt matches parts[i] against n and the rest of the chain leftwards.
func (g complexSel) matchAt(i int, n *html.Node) bool {
	if !g.parts[i].match(n) {
		return false
	}
	if i == 0 {
		return true
	}
	switch g.combs[i-1] {
	case child:
		p := n.Parent
		return p != nil && p.Type == html.ElementNode && g.matchAt(i-1, p)
	default:
		for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
			if g.matchAt(i-1, p) {
				return true
			}
		}
		return false
	}
}

func (c compound) match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && !strings.EqualFold(n.Data, c.tag) {
		return false
	}
	if c.id != "" {
		if v, ok := attr(n, "id"); !ok || v != c.id {
			return false
		}
	}
	if len(c.classes) > 0 {
		v, _ := attr(n, "class")
		fields := strings.Fields(v)
		for _, want := range c.classes {
			if !contains(fields, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		if !a.match(n) {
			return false
		}
	}
	return true
}

func (a attrCond) match(n *html.Node) bool {
	v, ok := attr(n, a.name)
	if !ok {
		return false
	}
	switch a.op {
	case opExists:
		return true
	case opEquals:
		return v == a.value
	case opIncludes:
		return contains(strings.Fields(v), a.value)
	case opPrefix:
		return a.value != "" && strings.HasPrefix(v, a.value)
	case opSuffix:
		return a.value != "" && strings.HasSuffix(v, a.value)
	case opContains:
		return a.value != "" && strings.Contains(v, a.value)
	}
	return false
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
