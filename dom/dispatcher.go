package dom

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/smallmercies/loop"
)

// Observer receives mutation events. CheckEligibility must be free of
// side effects; OnNodeAdded only runs after it returned true.
type Observer interface {
	CheckEligibility(n Node) bool
	OnNodeAdded(n Node)
	OnNodeRemoved(n Node)
}

type observerEntry struct {
	owner string
	obs   Observer
}

// Dispatcher fans mutation events out to observers, in registration
// order, on the shared loop.
type Dispatcher struct {
	runner loop.Runner
	logger *slog.Logger

	mu        sync.RWMutex
	observers []observerEntry
}

// NewDispatcher creates a Dispatcher. A nil runner runs callbacks inline.
func NewDispatcher(runner loop.Runner, logger *slog.Logger) *Dispatcher {
	if runner == nil {
		runner = loop.Inline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{runner: runner, logger: logger}
}

// Register adds an observer under owner (used in logs).
func (d *Dispatcher) Register(owner string, obs Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, observerEntry{owner: owner, obs: obs})
}

// Len returns the number of registered observers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

// NodeAdded delivers an added node to every eligible observer.
func (d *Dispatcher) NodeAdded(ctx context.Context, n Node) error {
	return d.dispatch(ctx, "added", func(e observerEntry) {
		if d.eligible(e, n) {
			d.guard(e, "added", func() { e.obs.OnNodeAdded(n) })
		}
	})
}

// NodeRemoved delivers a removed node to every observer.
func (d *Dispatcher) NodeRemoved(ctx context.Context, n Node) error {
	return d.dispatch(ctx, "removed", func(e observerEntry) {
		d.guard(e, "removed", func() { e.obs.OnNodeRemoved(n) })
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, kind string, each func(observerEntry)) error {
	d.mu.RLock()
	obs := append([]observerEntry(nil), d.observers...)
	d.mu.RUnlock()
	if len(obs) == 0 {
		return nil
	}
	err := d.runner.Do(ctx, func() {
		for _, e := range obs {
			each(e)
		}
	})
	if err != nil {
		return fmt.Errorf("dom: dispatch %s: %w", kind, err)
	}
	return nil
}

func (d *Dispatcher) eligible(e observerEntry, n Node) (ok bool) {
	d.guard(e, "eligibility", func() { ok = e.obs.CheckEligibility(n) })
	return ok
}

// guard runs fn, logging and swallowing a panic so the next observer
// still runs.
func (d *Dispatcher) guard(e observerEntry, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dom: observer panicked", "fixer", e.owner, "phase", phase, "panic", r)
		}
	}()
	fn()
}
