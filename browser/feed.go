package browser

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/loop"
)

//go:embed feed.js
var feedJS string

const bindingName = "__sm_binding"

// Feed streams element additions and removals of a page into a
// dom.Dispatcher and routes clicks to listeners attached via Node.OnClick.
type Feed struct {
	page   *rod.Page
	disp   *dom.Dispatcher
	runner loop.Runner
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[int]func(dom.Event)
	nextID    int
}

// NewFeed creates a Feed for page. Clicks run on runner, like every other
// fixer callback; nil means inline.
func NewFeed(page *rod.Page, disp *dom.Dispatcher, runner loop.Runner, logger *slog.Logger) *Feed {
	if runner == nil {
		runner = loop.Inline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		page:      page,
		disp:      disp,
		runner:    runner,
		logger:    logger,
		listeners: make(map[int]func(dom.Event)),
	}
}

// Document returns the page-wide lookup surface.
func (f *Feed) Document() dom.Document { return Document{feed: f} }

// Install adds the binding and registers the observer script for every
// future document. Call it before navigation.
func (f *Feed) Install() error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(f.page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}
	if _, err := f.page.EvalOnNewDocument(feedJS); err != nil {
		return fmt.Errorf("browser: register feed script: %w", err)
	}
	return nil
}

// Run consumes binding calls until ctx is done. If the page is already
// loaded the script is injected right away.
func (f *Feed) Run(ctx context.Context) error {
	wait := f.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		f.handle(ctx, e.Payload)
	})
	if _, err := f.page.Eval(`() => {` + feedJS + `}`); err != nil {
		f.logger.Warn("browser: inject feed script failed", "error", err)
	}
	wait()
	return ctx.Err()
}

type feedEvent struct {
	Kind     string
	ID       int
	Listener int
}

func parseEvents(payload string) []feedEvent {
	j := gson.NewFrom(payload)
	var out []feedEvent
	for _, ev := range j.Get("events").Arr() {
		out = append(out, feedEvent{
			Kind:     ev.Get("kind").Str(),
			ID:       ev.Get("id").Int(),
			Listener: ev.Get("listener").Int(),
		})
	}
	return out
}

func (f *Feed) handle(ctx context.Context, payload string) {
	for _, ev := range parseEvents(payload) {
		if ev.Kind == "released" {
			f.removeListener(ev.Listener)
			continue
		}
		n, err := f.take(ev.ID)
		if err != nil {
			f.logger.Debug("browser: resolve node failed", "kind", ev.Kind, "id", ev.ID, "error", err)
			continue
		}
		if n == nil {
			continue
		}

		switch ev.Kind {
		case "added":
			err = f.disp.NodeAdded(ctx, n)
		case "removed":
			err = f.disp.NodeRemoved(ctx, n)
		case "click":
			err = f.click(ctx, ev.Listener, n)
		default:
			f.logger.Debug("browser: unknown feed event", "kind", ev.Kind)
		}
		if err != nil {
			f.logger.Warn("browser: dispatch failed", "kind", ev.Kind, "error", err)
		}
	}
}

// take resolves and releases a node the script is holding for us.
func (f *Feed) take(id int) (*Node, error) {
	obj, err := f.page.Evaluate(rod.Eval(`(id) => window.__sm_feed.take(id)`, id).ByObject())
	if err != nil {
		return nil, err
	}
	if obj.ObjectID == "" {
		return nil, nil
	}
	el, err := f.page.ElementFromObject(obj)
	if err != nil {
		return nil, err
	}
	return f.wrap(el), nil
}

func (f *Feed) click(ctx context.Context, listener int, target *Node) error {
	f.mu.Lock()
	fn := f.listeners[listener]
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return f.runner.Do(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error("browser: click listener panicked", "panic", r)
			}
		}()
		fn(dom.Event{Type: "click", Target: target})
	})
}

func (f *Feed) wrap(el *rod.Element) *Node {
	return &Node{feed: f, el: el}
}

func (f *Feed) addListener(fn func(dom.Event)) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.listeners[f.nextID] = fn
	return f.nextID
}

func (f *Feed) removeListener(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, id)
}

// Listeners returns the number of live click listeners.
func (f *Feed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}
