// Package fixer defines the capability contracts fixers implement and the
// Registry that links them to the DOM, state and network dispatchers.
//
// A fixer declares up front which event streams it consumes. The Registry
// checks once, at registration, that the declaration matches the
// interfaces the fixer actually implements; after that no type probing
// happens.
package fixer

import (
	"strings"

	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/gamestate"
	"github.com/hazyhaar/smallmercies/intercept"
	"github.com/hazyhaar/smallmercies/settings"
)

// Capability is a bitset of event streams a fixer consumes.
type Capability uint8

const (
	Mutation Capability = 1 << iota
	State
	Network
)

// Has reports whether every bit of o is set in c.
func (c Capability) Has(o Capability) bool { return c&o == o }

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(Mutation) {
		parts = append(parts, "mutation")
	}
	if c.Has(State) {
		parts = append(parts, "state")
	}
	if c.Has(Network) {
		parts = append(parts, "network")
	}
	return strings.Join(parts, "|")
}

// Fixer is implemented by every fixer. ApplySettings may be called again
// on live settings changes; it must be idempotent and do no I/O.
type Fixer interface {
	Name() string
	Capabilities() Capability
	ApplySettings(s settings.Settings)
}

// MutationAware fixers observe DOM nodes entering and leaving the page.
type MutationAware interface {
	dom.Observer
}

// StateAware fixers subscribe to game state transitions.
type StateAware interface {
	LinkState(sub gamestate.Subscriber)
}

// NetworkAware fixers register response handlers on API routes.
type NetworkAware interface {
	LinkNetworkTools(reg intercept.Registrar)
}

// implemented returns the capability set f actually implements.
func implemented(f Fixer) Capability {
	var c Capability
	if _, ok := f.(MutationAware); ok {
		c |= Mutation
	}
	if _, ok := f.(StateAware); ok {
		c |= State
	}
	if _, ok := f.(NetworkAware); ok {
		c |= Network
	}
	return c
}
