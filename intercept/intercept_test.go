package intercept

import (
	"context"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestDispatch_NoHandlers(t *testing.T) {
	ic := New(nil, nil)
	body := []byte(`{"a":1}`)
	out, changed, err := ic.Dispatch(context.Background(), &Request{Route: "/api/x"}, body)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("changed = true with no handlers")
	}
	if string(out) != string(body) {
		t.Fatalf("body altered: %s", out)
	}
}

func TestDispatch_RegistrationOrder(t *testing.T) {
	ic := New(nil, nil)
	var order []string
	ic.OnResponseReceived("/api/storylet", func(_ *Request, _ []byte) []byte {
		order = append(order, "first")
		return nil
	})
	ic.OnResponseReceived("/api/storylet", func(_ *Request, _ []byte) []byte {
		order = append(order, "second")
		return nil
	})

	ic.Dispatch(context.Background(), &Request{Route: "/api/storylet"}, []byte(`{}`))
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v", order)
	}
}

func TestDispatch_ThreadsReplacements(t *testing.T) {
	ic := New(nil, nil)
	ic.OnResponseReceived("/api/x", func(_ *Request, body []byte) []byte {
		return []byte(`{"step":1}`)
	})
	var seen string
	ic.OnResponseReceived("/api/x", func(_ *Request, body []byte) []byte {
		seen = string(body)
		return nil
	})

	out, changed, err := ic.Dispatch(context.Background(), &Request{Route: "/api/x"}, []byte(`{"step":0}`))
	if err != nil {
		t.Fatal(err)
	}
	if seen != `{"step":1}` {
		t.Fatalf("second handler saw %s, want the first handler's replacement", seen)
	}
	if !changed || string(out) != `{"step":1}` {
		t.Fatalf("committed %s (changed=%v)", out, changed)
	}
}

func TestDispatch_InPlaceWritesDoNotLeak(t *testing.T) {
	ic := New(nil, nil)
	ic.OnResponseReceived("/api/x", func(_ *Request, body []byte) []byte {
		body[2] = 'Z' // scribble on its own copy, report unchanged
		return nil
	})
	var seen string
	ic.OnResponseReceived("/api/x", func(_ *Request, body []byte) []byte {
		seen = string(body)
		return nil
	})

	orig := []byte(`{"a":1}`)
	out, changed, _ := ic.Dispatch(context.Background(), &Request{Route: "/api/x"}, orig)
	if changed {
		t.Fatal("changed = true")
	}
	if seen != `{"a":1}` || string(out) != `{"a":1}` || string(orig) != `{"a":1}` {
		t.Fatalf("in-place write leaked: seen=%s out=%s orig=%s", seen, out, orig)
	}
}

func TestDispatch_PanicIsolated(t *testing.T) {
	ic := New(nil, nil)
	ic.For("broken").OnResponseReceived("/api/x", func(_ *Request, _ []byte) []byte {
		panic("boom")
	})
	ran := false
	ic.OnResponseReceived("/api/x", func(_ *Request, _ []byte) []byte {
		ran = true
		return []byte(`{"ok":true}`)
	})

	out, changed, err := ic.Dispatch(context.Background(), &Request{Route: "/api/x"}, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("handler after the panicking one did not run")
	}
	if !changed || string(out) != `{"ok":true}` {
		t.Fatalf("out = %s changed = %v", out, changed)
	}
}

func TestRoutesAreExact(t *testing.T) {
	ic := New(nil, nil)
	hits := map[string]int{}
	ic.OnResponseReceived("/api/storylet", func(r *Request, _ []byte) []byte {
		hits["storylet"]++
		return nil
	})
	ic.OnResponseReceived("/api/storylet/begin", func(r *Request, _ []byte) []byte {
		hits["begin"]++
		return nil
	})

	ic.Dispatch(context.Background(), &Request{Route: "/api/storylet/begin"}, []byte(`{}`))
	if hits["storylet"] != 0 || hits["begin"] != 1 {
		t.Fatalf("hits = %v", hits)
	}
	if !ic.Handles("/api/storylet/") {
		t.Error("Handles should ignore a trailing slash")
	}
	if got := ic.Routes(); len(got) != 2 || got[0] != "/api/storylet" {
		t.Errorf("Routes = %v", got)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/api/storylet":           "/api/storylet",
		"/api/storylet/":          "/api/storylet",
		"/api/storylet?x=1":       "/api/storylet",
		"/api/storylet/begin#top": "/api/storylet/begin",
		"/":                       "/",
	}
	for in, want := range cases {
		if got := NormalizeRoute(in); got != want {
			t.Errorf("NormalizeRoute(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRequestField(t *testing.T) {
	r := &Request{Body: []byte(`{"eventId":340703}`)}
	if got := r.Field("eventId").Int(); got != 340703 {
		t.Fatalf("Field(eventId) = %d", got)
	}
	if r.Field("missing").Exists() {
		t.Fatal("Field(missing) exists")
	}
}

func TestDropHeader(t *testing.T) {
	p := &proto.FetchFulfillRequest{ResponseHeaders: []*proto.FetchHeaderEntry{
		{Name: "Content-Type", Value: "application/json"},
		{Name: "content-length", Value: "12"},
	}}
	dropHeader(p, "Content-Length")
	if len(p.ResponseHeaders) != 1 || p.ResponseHeaders[0].Name != "Content-Type" {
		t.Fatalf("headers = %+v", p.ResponseHeaders)
	}
}
