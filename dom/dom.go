// Package dom defines the node contract fixers program against and the
// dispatcher that delivers mutation events to them.
//
// Two implementations exist: browser (live nodes in a rod-driven tab) and
// dom/htmltree (detached x/net/html trees for tests and offline checks).
// Handles are only valid during the synchronous extent of the callback
// that received them.
package dom

// Node is a handle on an element.
type Node interface {
	// Query returns the first descendant matching selector, or nil.
	Query(selector string) (Node, error)
	// Matches reports whether the node itself matches selector.
	Matches(selector string) (bool, error)
	// Parent returns the parent element, or nil for a detached or root node.
	Parent() (Node, error)
	// Clone returns a detached deep copy. Event listeners are not copied.
	Clone() (Node, error)
	// ReplaceWith swaps the node for n in its parent.
	ReplaceWith(n Node) error

	Attr(name string) (string, bool, error)
	AddClass(names ...string) error
	RemoveClass(names ...string) error
	HasClass(name string) (bool, error)
	SetStyle(property, value string) error

	// OnClick attaches fn as a click listener on the node.
	OnClick(fn func(Event)) error
}

// Event is a DOM event delivered to a listener. Target is the element
// the event originated on, which may be a descendant of the node the
// listener was attached to.
type Event struct {
	Type   string
	Target Node
}

// Document resolves selectors against the whole page.
type Document interface {
	Query(selector string) (Node, error)
}

// Find returns n when it matches selector, else its first matching
// descendant, else nil.
func Find(n Node, selector string) (Node, error) {
	if n == nil {
		return nil, nil
	}
	ok, err := n.Matches(selector)
	if err != nil {
		return nil, err
	}
	if ok {
		return n, nil
	}
	return n.Query(selector)
}

// ContainsClass reports whether n or one of its descendants carries class.
func ContainsClass(n Node, class string) (bool, error) {
	found, err := Find(n, "."+class)
	if err != nil {
		return false, err
	}
	return found != nil, nil
}
