package browser

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/smallmercies/dom"
)

func TestParseEvents(t *testing.T) {
	got := parseEvents(`{"events":[{"kind":"added","id":3},{"kind":"click","listener":2,"id":9}]}`)
	want := []feedEvent{{Kind: "added", ID: 3}, {Kind: "click", ID: 9, Listener: 2}}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseEvents_Garbage(t *testing.T) {
	if got := parseEvents(`not json`); len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
	if got := parseEvents(`{"other":1}`); len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestListenerRegistry(t *testing.T) {
	f := NewFeed(nil, dom.NewDispatcher(nil, nil), nil, nil)
	a := f.addListener(func(dom.Event) {})
	b := f.addListener(func(dom.Event) {})
	if a == b {
		t.Fatal("listener ids must be unique")
	}
	f.removeListener(a)
	if f.Listeners() != 1 {
		t.Fatalf("listeners = %d", f.Listeners())
	}
}

func TestReleasedEventDropsListener(t *testing.T) {
	f := NewFeed(nil, dom.NewDispatcher(nil, nil), nil, nil)
	kept := f.addListener(func(dom.Event) {})
	gone := f.addListener(func(dom.Event) {})

	f.handle(context.Background(), fmt.Sprintf(`{"events":[{"kind":"released","listener":%d}]}`, gone))
	if f.Listeners() != 1 {
		t.Fatalf("listeners = %d, want 1", f.Listeners())
	}
	f.mu.Lock()
	_, ok := f.listeners[kept]
	f.mu.Unlock()
	if !ok {
		t.Fatal("unrelated listener dropped")
	}
}

func TestFeedScript(t *testing.T) {
	for _, want := range []string{bindingName, "__sm_feed", "MutationObserver", "take(id)", "listen(el, listener)", "'released'"} {
		if !strings.Contains(feedJS, want) {
			t.Errorf("feed script lacks %q", want)
		}
	}
}

func TestLauncherFlags(t *testing.T) {
	l := newLauncher(Config{Headless: true, UserDataDir: "/tmp/profile"})
	args := strings.Join(l.FormatArgs(), " ")
	for _, want := range []string{"--headless", "--user-data-dir=/tmp/profile", "--disable-blink-features=AutomationControlled"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q lack %q", args, want)
		}
	}
}
