// Package intercept dispatches intercepted game API exchanges to the
// handlers fixers register per route.
//
// Responses travel through a patch pipeline: every handler receives its
// own copy of the current body and returns either nil ("unchanged") or a
// replacement, which becomes the current body for the next handler.
// Handlers run in registration order, on the shared loop, and the final
// body is committed back to the transport once the whole chain ran. A
// handler can therefore never observe or corrupt another handler's
// in-flight edits, and nothing it keeps after returning can reach the
// page.
package intercept

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/smallmercies/loop"
)

// Request is the read-only view of an intercepted request.
type Request struct {
	ID     string
	Method string
	URL    *url.URL
	Route  string // normalised URL path, e.g. "/api/storylet/begin"
	Body   []byte
}

// Field reads a JSON value from the request body (gjson path syntax).
func (r *Request) Field(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Handler inspects one exchange. It returns nil to leave the response
// unchanged, or a replacement body. The body slice it receives is its
// own copy and must not be retained.
type Handler func(req *Request, body []byte) []byte

// Registrar is the subscription surface handed to network-aware fixers.
type Registrar interface {
	OnResponseReceived(route string, h Handler)
}

type entry struct {
	owner   string
	handler Handler
}

// Interceptor holds route → handler chains.
type Interceptor struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	runner   loop.Runner
	logger   *slog.Logger
}

// New creates an Interceptor. A nil runner runs the pipeline inline.
func New(runner loop.Runner, logger *slog.Logger) *Interceptor {
	if runner == nil {
		runner = loop.Inline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		handlers: make(map[string][]entry),
		runner:   runner,
		logger:   logger,
	}
}

// OnResponseReceived appends h to the chain for route.
func (i *Interceptor) OnResponseReceived(route string, h Handler) {
	i.register("", route, h)
}

// For returns a Registrar whose handlers are attributed to owner in logs.
func (i *Interceptor) For(owner string) Registrar {
	return ownedRegistrar{owner: owner, ic: i}
}

type ownedRegistrar struct {
	owner string
	ic    *Interceptor
}

func (r ownedRegistrar) OnResponseReceived(route string, h Handler) {
	r.ic.register(r.owner, route, h)
}

func (i *Interceptor) register(owner, route string, h Handler) {
	route = NormalizeRoute(route)
	i.mu.Lock()
	i.handlers[route] = append(i.handlers[route], entry{owner: owner, handler: h})
	i.mu.Unlock()
	i.logger.Debug("intercept: handler registered", "route", route, "owner", owner)
}

// Handles reports whether any handler is registered for route.
func (i *Interceptor) Handles(route string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.handlers[NormalizeRoute(route)]) > 0
}

// Routes lists the routes with at least one handler, sorted.
func (i *Interceptor) Routes() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	routes := make([]string, 0, len(i.handlers))
	for r := range i.handlers {
		routes = append(routes, r)
	}
	slices.Sort(routes)
	return routes
}

// HandlerCount returns the number of handlers registered for route.
func (i *Interceptor) HandlerCount(route string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.handlers[NormalizeRoute(route)])
}

// Dispatch runs the chain for req.Route on the runner and returns the
// committed body and whether any handler replaced it.
func (i *Interceptor) Dispatch(ctx context.Context, req *Request, body []byte) ([]byte, bool, error) {
	i.mu.RLock()
	chain := slices.Clone(i.handlers[NormalizeRoute(req.Route)])
	i.mu.RUnlock()

	if len(chain) == 0 {
		return body, false, nil
	}

	cur := body
	changed := false
	err := i.runner.Do(ctx, func() {
		for _, e := range chain {
			if out := i.call(e, req, bytes.Clone(cur)); out != nil {
				cur = out
				changed = true
			}
		}
	})
	if err != nil {
		return body, false, fmt.Errorf("intercept: dispatch %s: %w", req.Route, err)
	}
	return cur, changed, nil
}

// call runs one handler. A panicking handler counts as "unchanged".
func (i *Interceptor) call(e entry, req *Request, body []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("intercept: handler panicked",
				"route", req.Route, "fixer", e.owner, "request_id", req.ID, "panic", r)
			out = nil
		}
	}()
	return e.handler(req, body)
}

// NormalizeRoute strips the query string and any trailing slash.
func NormalizeRoute(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
	}
	return route
}
