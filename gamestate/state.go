// Package gamestate derives the game's state transitions (user data
// loaded, storylet changed) from intercepted API responses and delivers
// them to subscribed fixers.
package gamestate

import "time"

// API routes the controller listens on.
const (
	RouteUser          = "/api/login/user"
	RouteStorylet      = "/api/storylet"
	RouteBeginStorylet = "/api/storylet/begin"
	RouteGoBack        = "/api/storylet/goback"
)

// User is the logged-in player.
type User struct {
	ID        int64
	Name      string
	JWT       string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Storylet is either a concrete storylet or the Unknown variant.
type Storylet struct {
	ID    int
	Name  string
	known bool
}

// Known returns a concrete storylet.
func Known(id int, name string) Storylet {
	return Storylet{ID: id, Name: name, known: true}
}

// Unknown is the variant used when no storylet is active.
var Unknown = Storylet{}

// IsKnown reports whether s is a concrete storylet.
func (s Storylet) IsKnown() bool { return s.known }

// GameState is an immutable snapshot handed to subscribers.
type GameState struct {
	User            *User
	CurrentStorylet Storylet
	Phase           string
}

// Subscriber is the surface state-aware fixers link against. Callbacks
// of one kind arrive in causal order; no order holds across kinds.
type Subscriber interface {
	OnUserDataLoaded(fn func(GameState))
	OnStoryletChanged(fn func(GameState))
}
