package gamestate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/hazyhaar/smallmercies/intercept"
)

type subscription struct {
	owner string
	fn    func(GameState)
}

// Controller parses responses into state and fans transitions out to
// subscribers. Callbacks run on whatever goroutine delivered the
// response, which for the intercept pipeline is the shared loop.
type Controller struct {
	mu    sync.RWMutex
	state GameState

	userSubs     []subscription
	storyletSubs []subscription

	logger *slog.Logger
}

// NewController creates a Controller in the initial state: no user,
// Unknown storylet.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{logger: logger}
}

// OnUserDataLoaded subscribes fn to user-data-loaded transitions.
func (c *Controller) OnUserDataLoaded(fn func(GameState)) {
	c.subscribe("", &c.userSubs, fn)
}

// OnStoryletChanged subscribes fn to storylet-changed transitions.
func (c *Controller) OnStoryletChanged(fn func(GameState)) {
	c.subscribe("", &c.storyletSubs, fn)
}

// For returns a Subscriber whose callbacks are attributed to owner in logs.
func (c *Controller) For(owner string) Subscriber {
	return ownedSubscriber{owner: owner, c: c}
}

type ownedSubscriber struct {
	owner string
	c     *Controller
}

func (s ownedSubscriber) OnUserDataLoaded(fn func(GameState)) {
	s.c.subscribe(s.owner, &s.c.userSubs, fn)
}

func (s ownedSubscriber) OnStoryletChanged(fn func(GameState)) {
	s.c.subscribe(s.owner, &s.c.storyletSubs, fn)
}

func (c *Controller) subscribe(owner string, subs *[]subscription, fn func(GameState)) {
	c.mu.Lock()
	*subs = append(*subs, subscription{owner: owner, fn: fn})
	c.mu.Unlock()
}

// Current returns a snapshot of the state.
func (c *Controller) Current() GameState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Token returns the current user's JWT, or "" before login. It is safe to
// call from any goroutine.
func (c *Controller) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.User == nil {
		return ""
	}
	return c.state.User.JWT
}

// Link registers the controller's parsers on the interceptor. Branch
// results (/api/storylet/choosebranch) are not surfaced.
func (c *Controller) Link(reg intercept.Registrar) {
	reg.OnResponseReceived(RouteUser, c.handleUser)
	reg.OnResponseReceived(RouteStorylet, c.handleStorylet)
	reg.OnResponseReceived(RouteBeginStorylet, c.handleStorylet)
	reg.OnResponseReceived(RouteGoBack, c.handleStorylet)
}

func (c *Controller) handleUser(_ *intercept.Request, body []byte) []byte {
	token := gjson.GetBytes(body, "jwt").String()
	if token == "" {
		return nil
	}
	u := &User{
		ID:        gjson.GetBytes(body, "user.id").Int(),
		Name:      gjson.GetBytes(body, "user.name").String(),
		JWT:       token,
		ExpiresAt: tokenExpiry(token),
	}
	c.SetUser(u)
	return nil
}

func (c *Controller) handleStorylet(_ *intercept.Request, body []byte) []byte {
	if !gjson.ValidBytes(body) {
		return nil
	}
	phase := gjson.GetBytes(body, "phase").String()
	s := Unknown
	if st := gjson.GetBytes(body, "storylet"); st.IsObject() {
		s = Known(int(st.Get("id").Int()), st.Get("name").String())
	}
	c.SetStorylet(s, phase)
	return nil
}

// SetUser records a freshly loaded user and notifies subscribers.
func (c *Controller) SetUser(u *User) {
	c.mu.Lock()
	c.state.User = u
	snap := c.state
	subs := c.userSubs
	c.mu.Unlock()

	c.logger.Info("gamestate: user loaded", "user_id", u.ID, "token_expires", u.ExpiresAt)
	c.emit("user_data_loaded", subs, snap)
}

// SetStorylet records the current storylet and notifies subscribers.
// Every storylet response is a transition, even one naming the storylet
// already current: fixers may have moved their own context in between
// (a resolved branch) and need it reset.
func (c *Controller) SetStorylet(s Storylet, phase string) {
	c.mu.Lock()
	c.state.CurrentStorylet = s
	c.state.Phase = phase
	snap := c.state
	subs := c.storyletSubs
	c.mu.Unlock()

	c.logger.Debug("gamestate: storylet changed", "id", s.ID, "name", s.Name, "known", s.IsKnown(), "phase", phase)
	c.emit("storylet_changed", subs, snap)
}

func (c *Controller) emit(kind string, subs []subscription, snap GameState) {
	for _, sub := range subs {
		c.deliver(kind, sub, snap)
	}
}

func (c *Controller) deliver(kind string, sub subscription, snap GameState) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("gamestate: subscriber panicked", "event", kind, "fixer", sub.owner, "panic", r)
		}
	}()
	sub.fn(snap)
}

// tokenExpiry reads the exp claim without verifying the signature: the
// token is the game's, not ours, and is only used for diagnostics.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
