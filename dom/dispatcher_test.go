package dom_test

import (
	"context"
	"testing"

	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/dom/htmltree"
)

type recorder struct {
	eligible bool
	panicOn  string
	log      *[]string
	name     string
}

func (r *recorder) CheckEligibility(dom.Node) bool {
	*r.log = append(*r.log, r.name+":check")
	if r.panicOn == "check" {
		panic("boom")
	}
	return r.eligible
}

func (r *recorder) OnNodeAdded(dom.Node) {
	*r.log = append(*r.log, r.name+":added")
	if r.panicOn == "added" {
		panic("boom")
	}
}

func (r *recorder) OnNodeRemoved(dom.Node) {
	*r.log = append(*r.log, r.name+":removed")
}

func TestDispatcher_EligibilityGatesAdded(t *testing.T) {
	var log []string
	d := dom.NewDispatcher(nil, nil)
	d.Register("a", &recorder{name: "a", eligible: false, log: &log})
	d.Register("b", &recorder{name: "b", eligible: true, log: &log})

	_, n, _ := htmltree.ParseFragment(`<div></div>`)
	if err := d.NodeAdded(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	want := []string{"a:check", "b:check", "b:added"}
	if !equal(log, want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
}

func TestDispatcher_PanicIsolated(t *testing.T) {
	var log []string
	d := dom.NewDispatcher(nil, nil)
	d.Register("a", &recorder{name: "a", panicOn: "check", log: &log})
	d.Register("b", &recorder{name: "b", eligible: true, panicOn: "added", log: &log})
	d.Register("c", &recorder{name: "c", eligible: true, log: &log})

	_, n, _ := htmltree.ParseFragment(`<div></div>`)
	_ = d.NodeAdded(context.Background(), n)
	want := []string{"a:check", "b:check", "b:added", "c:check", "c:added"}
	if !equal(log, want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
}

func TestDispatcher_Removed(t *testing.T) {
	var log []string
	d := dom.NewDispatcher(nil, nil)
	d.Register("a", &recorder{name: "a", log: &log})
	_, n, _ := htmltree.ParseFragment(`<div></div>`)
	_ = d.NodeRemoved(context.Background(), n)
	if !equal(log, []string{"a:removed"}) {
		t.Fatalf("log = %v", log)
	}
	if d.Len() != 1 {
		t.Fatalf("Len = %d", d.Len())
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
