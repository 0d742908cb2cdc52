package fixer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/fixer"
	"github.com/hazyhaar/smallmercies/gamestate"
	"github.com/hazyhaar/smallmercies/intercept"
	"github.com/hazyhaar/smallmercies/settings"
)

type base struct {
	name    string
	caps    fixer.Capability
	applied int
	enabled bool
}

func (b *base) Name() string                      { return b.name }
func (b *base) Capabilities() fixer.Capability    { return b.caps }
func (b *base) ApplySettings(s settings.Settings) { b.applied++; b.enabled = s.Bool("x") }
func (b *base) Flags() []string                   { return []string{"x"} }

type networkOnly struct {
	base
	links int
}

func (n *networkOnly) LinkNetworkTools(reg intercept.Registrar) {
	n.links++
	reg.OnResponseReceived("/api/x", func(_ *intercept.Request, body []byte) []byte { return nil })
}

type everything struct {
	networkOnly
	stateLinks int
}

func (e *everything) CheckEligibility(dom.Node) bool { return e.enabled }
func (e *everything) OnNodeAdded(dom.Node)           {}
func (e *everything) OnNodeRemoved(dom.Node)         {}
func (e *everything) LinkState(sub gamestate.Subscriber) {
	e.stateLinks++
	sub.OnStoryletChanged(func(gamestate.GameState) {})
}

func hub() fixer.Hub {
	return fixer.Hub{
		DOM:     dom.NewDispatcher(nil, nil),
		State:   gamestate.NewController(nil),
		Network: intercept.New(nil, nil),
	}
}

func TestCapabilityString(t *testing.T) {
	if got := (fixer.Mutation | fixer.Network).String(); got != "mutation|network" {
		t.Fatalf("got %q", got)
	}
	if got := fixer.Capability(0).String(); got != "none" {
		t.Fatalf("got %q", got)
	}
}

func TestRegister_Mismatch(t *testing.T) {
	r := fixer.NewRegistry(nil, nil)

	// Declares more than implemented.
	over := &networkOnly{base: base{name: "over", caps: fixer.Network | fixer.State}}
	if err := r.Register(over); !errors.Is(err, fixer.ErrCapabilityMismatch) {
		t.Fatalf("over-declared: %v", err)
	}
	// Implements more than declared.
	under := &everything{networkOnly: networkOnly{base: base{name: "under", caps: fixer.Network}}}
	if err := r.Register(under); !errors.Is(err, fixer.ErrCapabilityMismatch) {
		t.Fatalf("under-declared: %v", err)
	}
	if len(r.Fixers()) != 0 {
		t.Fatal("rejected fixers must not be registered")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := fixer.NewRegistry(nil, nil)
	if err := r.Register(&networkOnly{base: base{name: "a", caps: fixer.Network}}); err != nil {
		t.Fatal(err)
	}
	err := r.Register(&networkOnly{base: base{name: "a", caps: fixer.Network}})
	if !errors.Is(err, fixer.ErrDuplicateFixer) {
		t.Fatalf("got %v", err)
	}
}

func TestLink_Idempotent(t *testing.T) {
	r := fixer.NewRegistry(nil, nil)
	all := &everything{networkOnly: networkOnly{base: base{name: "all", caps: fixer.Mutation | fixer.State | fixer.Network}}}
	net := &networkOnly{base: base{name: "net", caps: fixer.Network}}
	for _, f := range []fixer.Fixer{all, net} {
		if err := r.Register(f); err != nil {
			t.Fatal(err)
		}
	}

	h := hub()
	r.Link(h)
	r.Link(h)

	if all.links != 1 || all.stateLinks != 1 || net.links != 1 {
		t.Fatalf("links: all=%d/%d net=%d", all.links, all.stateLinks, net.links)
	}
	if got := h.Network.HandlerCount("/api/x"); got != 2 {
		t.Fatalf("handlers = %d, want 2", got)
	}
	if h.DOM.Len() != 1 {
		t.Fatalf("dom observers = %d, want 1", h.DOM.Len())
	}
	if !r.Linked() {
		t.Fatal("Linked")
	}
	if err := r.Register(&networkOnly{base: base{name: "late", caps: fixer.Network}}); !errors.Is(err, fixer.ErrAlreadyLinked) {
		t.Fatalf("late register: %v", err)
	}
}

func TestApplySettings_Reapplies(t *testing.T) {
	r := fixer.NewRegistry(nil, nil)
	f := &networkOnly{base: base{name: "net", caps: fixer.Network}}
	_ = r.Register(f)

	ctx := context.Background()
	if err := r.ApplySettings(ctx, settings.New(map[string]any{"x": true})); err != nil {
		t.Fatal(err)
	}
	if !f.enabled || !r.Fixers()[0].Enabled {
		t.Fatal("want enabled")
	}
	if err := r.ApplySettings(ctx, settings.New(map[string]any{"x": false})); err != nil {
		t.Fatal(err)
	}
	if f.enabled || r.Fixers()[0].Enabled {
		t.Fatal("want disabled")
	}
	if f.applied != 2 {
		t.Fatalf("applied = %d", f.applied)
	}
}

type panicky struct{ base }

func (p *panicky) ApplySettings(settings.Settings) { panic("bad settings") }

func TestApplySettings_PanicIsolated(t *testing.T) {
	r := fixer.NewRegistry(nil, nil)
	bad := &panicky{base{name: "bad"}}
	good := &networkOnly{base: base{name: "good", caps: fixer.Network}}
	_ = r.Register(bad)
	_ = r.Register(good)
	if err := r.ApplySettings(context.Background(), settings.New(map[string]any{"x": true})); err != nil {
		t.Fatal(err)
	}
	if !good.enabled {
		t.Fatal("later fixer must still be configured")
	}
}

func TestFixersStatus(t *testing.T) {
	r := fixer.NewRegistry(nil, nil)
	_ = r.Register(&everything{networkOnly: networkOnly{base: base{name: "all", caps: fixer.Mutation | fixer.State | fixer.Network}}})
	st := r.Fixers()
	if len(st) != 1 || st[0].Name != "all" {
		t.Fatalf("status = %+v", st)
	}
	if len(st[0].Capabilities) != 3 || st[0].Capabilities[0] != "mutation" {
		t.Fatalf("capabilities = %v", st[0].Capabilities)
	}
	if st[0].Enabled {
		t.Fatal("no settings applied yet: flag x is off")
	}
}
