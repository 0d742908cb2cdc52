package intercept

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/smallmercies/idgen"
)

// Hijacker is the rod transport for an Interceptor.
type Hijacker struct {
	ic      *Interceptor
	pattern string
	client  *http.Client
	newID   idgen.Generator
	logger  *slog.Logger
}

// HijackOption configures a Hijacker.
type HijackOption func(*Hijacker)

// WithHTTPClient sets the client used to load real responses.
func WithHTTPClient(c *http.Client) HijackOption {
	return func(h *Hijacker) { h.client = c }
}

// WithHijackLogger sets a custom logger.
func WithHijackLogger(l *slog.Logger) HijackOption {
	return func(h *Hijacker) { h.logger = l }
}

// NewHijacker creates a Hijacker for URLs matching pattern
// (proto.FetchRequestPattern syntax, e.g. "*api.fallenlondon.com/api/*").
func NewHijacker(ic *Interceptor, pattern string, opts ...HijackOption) *Hijacker {
	h := &Hijacker{
		ic:      ic,
		pattern: pattern,
		client:  &http.Client{Timeout: 30 * time.Second},
		newID:   idgen.Prefixed("xhr_", idgen.Default),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Attach starts hijacking on page. Stop the returned router to detach.
func (h *Hijacker) Attach(page *rod.Page) (*rod.HijackRouter, error) {
	router := page.HijackRequests()
	if err := router.Add(h.pattern, "", h.handle); err != nil {
		return nil, err
	}
	go router.Run()
	h.logger.Info("intercept: hijacking", "pattern", h.pattern)
	return router, nil
}

func (h *Hijacker) handle(hj *rod.Hijack) {
	method := hj.Request.Method()
	route := NormalizeRoute(hj.Request.URL().Path)

	if method == http.MethodOptions || !h.ic.Handles(route) {
		hj.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}

	// Let the Go client negotiate encoding so the body arrives decoded.
	hj.Request.Req().Header.Del("Accept-Encoding")

	if err := hj.LoadResponse(h.client, true); err != nil {
		h.logger.Warn("intercept: load response failed", "route", route, "error", err)
		hj.Response.Fail(proto.NetworkErrorReasonConnectionFailed)
		return
	}

	req := &Request{
		ID:     h.newID(),
		Method: method,
		URL:    hj.Request.URL(),
		Route:  route,
		Body:   []byte(hj.Request.Body()),
	}

	out, changed, err := h.ic.Dispatch(hj.Request.Req().Context(), req, []byte(hj.Response.Body()))
	if err != nil {
		h.logger.Warn("intercept: dispatch failed, passing response through",
			"route", route, "request_id", req.ID, "error", err)
		return
	}
	if !changed {
		return
	}

	dropHeader(hj.Response.Payload(), "Content-Length")
	hj.Response.SetBody(out)
	h.logger.Debug("intercept: response patched", "route", route, "request_id", req.ID, "size", len(out))
}

func dropHeader(p *proto.FetchFulfillRequest, name string) {
	kept := p.ResponseHeaders[:0]
	for _, hdr := range p.ResponseHeaders {
		if !strings.EqualFold(hdr.Name, name) {
			kept = append(kept, hdr)
		}
	}
	p.ResponseHeaders = kept
}
