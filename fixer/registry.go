package fixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/gamestate"
	"github.com/hazyhaar/smallmercies/intercept"
	"github.com/hazyhaar/smallmercies/loop"
	"github.com/hazyhaar/smallmercies/settings"
)

var (
	ErrCapabilityMismatch = errors.New("fixer: declared capabilities do not match implementation")
	ErrDuplicateFixer     = errors.New("fixer: duplicate name")
	ErrAlreadyLinked      = errors.New("fixer: registry already linked")
)

// Hub bundles the three dispatchers a Registry links fixers into.
type Hub struct {
	DOM     *dom.Dispatcher
	State   *gamestate.Controller
	Network *intercept.Interceptor
}

// Status describes one registered fixer.
type Status struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Flags        []string `json:"flags,omitempty"`
	Enabled      bool     `json:"enabled"`
}

// Flagged is implemented by fixers gated on boolean settings keys. A
// flagged fixer is reported enabled when all of its flags are on in the
// last applied settings.
type Flagged interface {
	Flags() []string
}

// Registry is the fixer coordinator.
type Registry struct {
	runner loop.Runner
	logger *slog.Logger

	mu      sync.Mutex
	fixers  []Fixer
	names   map[string]bool
	linked  bool
	applied settings.Settings
}

// NewRegistry creates an empty Registry. Settings are applied through
// runner so they never race fixer callbacks; nil means inline.
func NewRegistry(runner loop.Runner, logger *slog.Logger) *Registry {
	if runner == nil {
		runner = loop.Inline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{runner: runner, logger: logger, names: make(map[string]bool)}
}

// Register adds f after checking its declared capabilities. Fixers must
// be registered before Link.
func (r *Registry) Register(f Fixer) error {
	declared, actual := f.Capabilities(), implemented(f)
	if declared != actual {
		return fmt.Errorf("%w: %s declares %s, implements %s", ErrCapabilityMismatch, f.Name(), declared, actual)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linked {
		return fmt.Errorf("fixer: register %s: %w", f.Name(), ErrAlreadyLinked)
	}
	if r.names[f.Name()] {
		return fmt.Errorf("%w: %s", ErrDuplicateFixer, f.Name())
	}
	r.names[f.Name()] = true
	r.fixers = append(r.fixers, f)
	r.logger.Debug("fixer: registered", "fixer", f.Name(), "capabilities", declared.String())
	return nil
}

// ApplySettings projects s onto every fixer, in registration order.
func (r *Registry) ApplySettings(ctx context.Context, s settings.Settings) error {
	r.mu.Lock()
	fixers := append([]Fixer(nil), r.fixers...)
	r.mu.Unlock()

	err := r.runner.Do(ctx, func() {
		for _, f := range fixers {
			r.guard(f, "apply_settings", func() { f.ApplySettings(s) })
		}
	})
	if err != nil {
		return fmt.Errorf("fixer: apply settings: %w", err)
	}

	r.mu.Lock()
	r.applied = s
	r.mu.Unlock()
	r.logger.Info("fixer: settings applied", "fixers", len(fixers), "keys", s.Keys())
	return nil
}

// Applied returns the last settings successfully applied.
func (r *Registry) Applied() settings.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}

// Link wires every fixer into the hub according to its capabilities.
// Linking more than once is a no-op.
func (r *Registry) Link(h Hub) {
	r.mu.Lock()
	if r.linked {
		r.mu.Unlock()
		return
	}
	r.linked = true
	fixers := append([]Fixer(nil), r.fixers...)
	r.mu.Unlock()

	for _, f := range fixers {
		caps := f.Capabilities()
		if caps.Has(Mutation) && h.DOM != nil {
			h.DOM.Register(f.Name(), f.(MutationAware))
		}
		if caps.Has(State) && h.State != nil {
			sub := h.State.For(f.Name())
			r.guard(f, "link_state", func() { f.(StateAware).LinkState(sub) })
		}
		if caps.Has(Network) && h.Network != nil {
			reg := h.Network.For(f.Name())
			r.guard(f, "link_network", func() { f.(NetworkAware).LinkNetworkTools(reg) })
		}
	}
	r.logger.Info("fixer: linked", "fixers", len(fixers))
}

// Linked reports whether Link has run.
func (r *Registry) Linked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linked
}

// Fixers returns the status of every registered fixer.
func (r *Registry) Fixers() []Status {
	r.mu.Lock()
	fixers := append([]Fixer(nil), r.fixers...)
	applied := r.applied
	r.mu.Unlock()

	out := make([]Status, 0, len(fixers))
	for _, f := range fixers {
		st := Status{Name: f.Name(), Enabled: true}
		for _, c := range []Capability{Mutation, State, Network} {
			if f.Capabilities().Has(c) {
				st.Capabilities = append(st.Capabilities, c.String())
			}
		}
		if fl, ok := f.(Flagged); ok {
			st.Flags = fl.Flags()
			for _, key := range st.Flags {
				st.Enabled = st.Enabled && applied.Bool(key)
			}
		}
		out = append(out, st)
	}
	return out
}

func (r *Registry) guard(f Fixer, phase string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("fixer: callback panicked", "fixer", f.Name(), "phase", phase, "panic", rec)
		}
	}()
	fn()
}
