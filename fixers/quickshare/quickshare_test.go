package quickshare

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/dom/htmltree"
	"github.com/hazyhaar/smallmercies/gamestate"
	"github.com/hazyhaar/smallmercies/intercept"
	"github.com/hazyhaar/smallmercies/loop"
	"github.com/hazyhaar/smallmercies/settings"
)

const page = `<html><body>
<div id="app">
  <img class="storylet-root__card-image" src="https://images.fallenlondon.com/icons/pausereflection.png">
  <div class="media--root">
    <div class="storylet-root__frequency">
      <button class="buttonlet-container"><span class="buttonlet buttonlet-enabled buttonlet-edit fa fa-pencil"></span></button>
    </div>
  </div>
  <div class="other"></div>
</div>
</body></html>`

type call struct {
	id        int
	name      string
	imageCode string
}

type fakeSharer struct {
	calls chan call
	err   error
}

func (s *fakeSharer) ShareToProfile(_ context.Context, id int, name, imageCode string) error {
	s.calls <- call{id, name, imageCode}
	return s.err
}

// manualRunner runs Do inline and hands posted continuations to the test.
type manualRunner struct{ posted chan func() }

func (r *manualRunner) Do(_ context.Context, fn func()) error { fn(); return nil }
func (r *manualRunner) Post(fn func()) error                 { r.posted <- fn; return nil }

type harness struct {
	t      *testing.T
	doc    *htmltree.Document
	ctrl   *gamestate.Controller
	ic     *intercept.Interceptor
	sharer *fakeSharer
	runner *manualRunner
	fx     *Fixer
}

func newHarness(t *testing.T, enabled bool) *harness {
	t.Helper()
	doc, err := htmltree.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		t:      t,
		doc:    doc,
		ctrl:   gamestate.NewController(nil),
		ic:     intercept.New(nil, nil),
		sharer: &fakeSharer{calls: make(chan call, 1)},
		runner: &manualRunner{posted: make(chan func(), 1)},
	}
	h.fx = New(h.sharer, doc, h.runner)
	h.fx.ApplySettings(settings.New(map[string]any{settings.KeyQuickShareButton: enabled}))
	h.fx.LinkState(h.ctrl)
	h.fx.LinkNetworkTools(h.ic)
	return h
}

func (h *harness) login(token string) {
	h.ctrl.SetUser(&gamestate.User{ID: 1, Name: "Player", JWT: token})
}

func (h *harness) query(sel string) *htmltree.Node {
	h.t.Helper()
	n, err := h.doc.Query(sel)
	if err != nil {
		h.t.Fatal(err)
	}
	if n == nil {
		return nil
	}
	return n.(*htmltree.Node)
}

func (h *harness) mediaRoot() dom.Node { return h.query(".media--root") }

// install runs the added-node path and returns the replaced icon.
func (h *harness) install() *htmltree.Node {
	h.t.Helper()
	root := h.mediaRoot()
	if !h.fx.CheckEligibility(root) {
		h.t.Fatal("want eligible")
	}
	h.fx.OnNodeAdded(root)
	return h.query("span.buttonlet-edit")
}

func (h *harness) awaitShare() call {
	h.t.Helper()
	select {
	case c := <-h.sharer.calls:
		return c
	case <-time.After(2 * time.Second):
		h.t.Fatal("share not called")
	}
	return call{}
}

func (h *harness) runContinuation() {
	h.t.Helper()
	select {
	case fn := <-h.runner.posted:
		fn()
	case <-time.After(2 * time.Second):
		h.t.Fatal("no continuation posted")
	}
}

func classes(n *htmltree.Node) map[string]bool {
	m := map[string]bool{}
	for _, c := range n.Classes() {
		m[c] = true
	}
	return m
}

func TestScenario_EligibleAndReplaced(t *testing.T) {
	h := newHarness(t, true)
	h.login("T1")
	h.ctrl.SetStorylet(gamestate.Known(42, "A Pause for Reflection"), "In")

	original := h.query("button.buttonlet-container")
	if !h.fx.CheckEligibility(h.mediaRoot()) {
		t.Fatal("media root must be eligible")
	}
	h.fx.OnNodeAdded(h.mediaRoot())

	replaced := h.query("button.buttonlet-container")
	if replaced == nil || replaced.Same(original) {
		t.Fatal("container must be swapped for a clone")
	}
	if h.doc.ListenerCount(replaced) != 1 {
		t.Fatalf("listeners = %d, want 1", h.doc.ListenerCount(replaced))
	}
	all, _ := h.doc.QueryAll("button")
	if len(all) != 1 {
		t.Fatalf("buttons = %d, want 1 (swap, not overlay)", len(all))
	}
}

func TestEligibility(t *testing.T) {
	h := newHarness(t, true)
	other := h.query(".other")

	if h.fx.CheckEligibility(h.mediaRoot()) {
		t.Fatal("no token, no storylet: not eligible")
	}
	h.login("T1")
	if h.fx.CheckEligibility(h.mediaRoot()) {
		t.Fatal("no storylet id: not eligible")
	}
	h.ctrl.SetStorylet(gamestate.Known(42, "x"), "In")
	if !h.fx.CheckEligibility(h.mediaRoot()) {
		t.Fatal("want eligible")
	}
	if !h.fx.CheckEligibility(h.query("#app")) {
		t.Fatal("descendant media root: eligible")
	}
	if h.fx.CheckEligibility(other) {
		t.Fatal("no media root in subtree")
	}
}

func TestUnknownStoryletResets(t *testing.T) {
	h := newHarness(t, true)
	h.login("T1")
	h.ctrl.SetStorylet(gamestate.Known(42, "x"), "In")
	h.ctrl.SetStorylet(gamestate.Unknown, "Available")

	if h.fx.storyletID != nil || h.fx.storyletName != unknownName {
		t.Fatalf("id = %v name = %q", h.fx.storyletID, h.fx.storyletName)
	}
	if h.fx.CheckEligibility(h.mediaRoot()) {
		t.Fatal("unknown storylet: not eligible")
	}
}

func TestDisabledIsNoop(t *testing.T) {
	h := newHarness(t, false)
	h.login("T1")
	h.ctrl.SetStorylet(gamestate.Known(42, "x"), "In")

	before := h.doc.Render()
	if h.fx.CheckEligibility(h.mediaRoot()) {
		t.Fatal("disabled: never eligible")
	}
	h.fx.OnNodeAdded(h.mediaRoot())
	if h.doc.Render() != before {
		t.Fatal("disabled: DOM must not change")
	}
	body := []byte(`{"endStorylet":{"event":{"id":7,"name":"y"}}}`)
	out, changed, _ := h.ic.Dispatch(context.Background(), &intercept.Request{Route: RouteChooseBranch}, body)
	if changed || string(out) != string(body) {
		t.Fatal("response must be untouched")
	}
}

func TestClickSuccess(t *testing.T) {
	h := newHarness(t, true)
	h.login("T1")
	h.ctrl.SetStorylet(gamestate.Known(42, "A Pause for Reflection"), "In")
	icon := h.install()

	if _, err := h.doc.Click(icon); err != nil {
		t.Fatal(err)
	}
	got := h.awaitShare()
	if got != (call{42, "A Pause for Reflection", "pausereflection"}) {
		t.Fatalf("call = %+v", got)
	}

	busy := classes(icon)
	parent := h.query("button.buttonlet-container")
	if !busy["fa-refresh"] || !busy["fa-spin"] || busy["fa-pencil"] {
		t.Fatalf("busy icon classes = %v", icon.Classes())
	}
	if classes(parent)["buttonlet-enabled"] {
		t.Fatal("busy: parent must be disabled")
	}

	// Storylet moves on before the call completes: continuation uses the snapshot.
	h.ctrl.SetStorylet(gamestate.Unknown, "Available")
	h.runContinuation()

	done := classes(icon)
	if !done["fa-check"] || done["fa-refresh"] || done["fa-spin"] {
		t.Fatalf("done icon classes = %v", icon.Classes())
	}
	if !classes(parent)["buttonlet-enabled"] {
		t.Fatal("done: parent must be re-enabled")
	}
}

func TestClickFailureRestoresControl(t *testing.T) {
	h := newHarness(t, true)
	h.sharer.err = errors.New("HTTP 500")
	h.login("T1")
	h.ctrl.SetStorylet(gamestate.Known(42, "x"), "In")
	icon := h.install()

	_, _ = h.doc.Click(icon)
	h.awaitShare()
	h.runContinuation()

	parent := h.query("button.buttonlet-container")
	if !classes(parent)["buttonlet-enabled"] {
		t.Fatal("failure: control must be interactive again")
	}
	if parent.Style("color") != "red" {
		t.Fatalf("failure: want errored style, got %q", parent.HTML())
	}
	if c := classes(icon); c["fa-spin"] || c["fa-check"] {
		t.Fatalf("failure icon classes = %v", icon.Classes())
	}
}

func TestClickWithoutStoryletDoesNotCall(t *testing.T) {
	h := newHarness(t, true)
	h.login("T1")
	h.ctrl.SetStorylet(gamestate.Known(42, "x"), "In")
	icon := h.install()

	h.ctrl.SetStorylet(gamestate.Unknown, "Available")
	_, _ = h.doc.Click(icon)

	select {
	case c := <-h.sharer.calls:
		t.Fatalf("unexpected share call %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
	if !classes(icon)["fa-pencil"] {
		t.Fatal("icon must be untouched")
	}
}

func TestImageCodeMissIsTolerated(t *testing.T) {
	h := newHarness(t, true)
	h.query("img").SetAttr("src", "https://example.com/x.jpg")
	h.login("T1")
	h.ctrl.SetStorylet(gamestate.Known(42, "x"), "In")
	icon := h.install()

	_, _ = h.doc.Click(icon)
	if got := h.awaitShare(); got.imageCode != "" {
		t.Fatalf("imageCode = %q, want empty", got.imageCode)
	}
	h.runContinuation()
}

func TestChooseBranchUpdatesContext(t *testing.T) {
	h := newHarness(t, true)
	h.login("T1")

	body := []byte(`{"endStorylet":{"event":{"id":7,"name":"Branch Result"}},"phase":"End"}`)
	out, changed, err := h.ic.Dispatch(context.Background(), &intercept.Request{Route: RouteChooseBranch}, body)
	if err != nil || changed || string(out) != string(body) {
		t.Fatalf("response must pass through: changed=%v err=%v", changed, err)
	}
	if h.fx.storyletID == nil || *h.fx.storyletID != 7 || h.fx.storyletName != "Branch Result" {
		t.Fatalf("context = %v %q", h.fx.storyletID, h.fx.storyletName)
	}

	// No endStorylet: context kept.
	_, _, _ = h.ic.Dispatch(context.Background(), &intercept.Request{Route: RouteChooseBranch}, []byte(`{"storylet":{}}`))
	if *h.fx.storyletID != 7 {
		t.Fatal("context must not change without endStorylet")
	}
}

func TestNodeAddedWithoutStorylet(t *testing.T) {
	h := newHarness(t, true)
	h.login("T1")

	h.fx.OnNodeAdded(h.mediaRoot())
	if n := h.doc.ListenerCount(h.query("button.buttonlet-container")); n != 0 {
		t.Fatalf("listeners = %d, want no install without a storylet", n)
	}
}

// Re-entering the storylet a branch resolved from must reset the context
// the choosebranch hook moved away.
func TestReenterAfterBranchResetsContext(t *testing.T) {
	doc, err := htmltree.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	ic := intercept.New(nil, nil)
	ctrl := gamestate.NewController(nil)
	ctrl.Link(ic)
	fx := New(&fakeSharer{calls: make(chan call, 1)}, doc, loop.Inline{})
	fx.ApplySettings(settings.New(map[string]any{settings.KeyQuickShareButton: true}))
	fx.LinkState(ctrl)
	fx.LinkNetworkTools(ic)

	send := func(route, body string) {
		t.Helper()
		if _, _, err := ic.Dispatch(context.Background(), &intercept.Request{Route: route}, []byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	begin := `{"phase":"In","storylet":{"id":42,"name":"A Pause for Reflection"}}`

	send(gamestate.RouteBeginStorylet, begin)
	send(RouteChooseBranch, `{"phase":"End","endStorylet":{"event":{"id":7,"name":"Result"}}}`)
	if fx.storyletID == nil || *fx.storyletID != 7 {
		t.Fatalf("after branch: id = %v, want 7", fx.storyletID)
	}
	send(gamestate.RouteBeginStorylet, begin)
	if fx.storyletID == nil || *fx.storyletID != 42 || fx.storyletName != "A Pause for Reflection" {
		t.Fatalf("after re-entering: id = %v name = %q, want 42", fx.storyletID, fx.storyletName)
	}
}

func TestApplySettingsIdempotent(t *testing.T) {
	h := newHarness(t, true)
	s := settings.New(map[string]any{settings.KeyQuickShareButton: true})
	h.fx.ApplySettings(s)
	h.fx.ApplySettings(s)
	if h.ic.HandlerCount(RouteChooseBranch) != 1 {
		t.Fatalf("handlers = %d", h.ic.HandlerCount(RouteChooseBranch))
	}
}
