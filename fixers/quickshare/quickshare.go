// Package quickshare replaces the storylet "share" buttonlet with one that
// posts the current storylet straight to the player's profile instead of
// opening the share dialog.
package quickshare

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/smallmercies/apiclient"
	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/fixer"
	"github.com/hazyhaar/smallmercies/gamestate"
	"github.com/hazyhaar/smallmercies/intercept"
	"github.com/hazyhaar/smallmercies/loop"
	"github.com/hazyhaar/smallmercies/settings"
)

const (
	Name = "quick_share"

	// RouteChooseBranch carries branch results, which the state
	// controller does not surface.
	RouteChooseBranch = "/api/storylet/choosebranch"

	shareButtonSelector = "div[class='storylet-root__frequency'] button[class='buttonlet-container'] span[class*='buttonlet-edit']"
	cardImageSelector   = "img[class*='storylet-root__card-image']"
	mediaRootClass      = "media--root"

	unknownName = "<unknown>"
)

var iconPattern = regexp.MustCompile(`//images\.fallenlondon\.com/icons/([a-z0-9]+)\.png`)

// Fixer is the quick share fixer. All methods run on the shared loop.
type Fixer struct {
	client apiclient.Sharer
	doc    dom.Document
	runner loop.Runner
	ctx    context.Context
	logger *slog.Logger

	enabled bool

	storyletID   *int
	storyletName string
	authToken    string
}

var (
	_ fixer.MutationAware = (*Fixer)(nil)
	_ fixer.StateAware    = (*Fixer)(nil)
	_ fixer.NetworkAware  = (*Fixer)(nil)
)

// Option configures a Fixer.
type Option func(*Fixer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fixer) { f.logger = l }
}

// WithContext sets the context share calls run under. Default:
// context.Background(), so a call is bounded only by daemon shutdown
// when the caller passes the daemon context.
func WithContext(ctx context.Context) Option {
	return func(f *Fixer) { f.ctx = ctx }
}

// New creates the fixer. doc resolves page-wide lookups (the card
// image); runner receives share continuations.
func New(client apiclient.Sharer, doc dom.Document, runner loop.Runner, opts ...Option) *Fixer {
	if runner == nil {
		runner = loop.Inline{}
	}
	f := &Fixer{
		client:       client,
		doc:          doc,
		runner:       runner,
		ctx:          context.Background(),
		logger:       slog.Default(),
		storyletName: unknownName,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fixer) Name() string                   { return Name }
func (f *Fixer) Capabilities() fixer.Capability { return fixer.Mutation | fixer.State | fixer.Network }
func (f *Fixer) Flags() []string                { return []string{settings.KeyQuickShareButton} }

func (f *Fixer) ApplySettings(s settings.Settings) {
	f.enabled = s.Bool(settings.KeyQuickShareButton)
}

// LinkState tracks the session token and the current storylet. Context
// is tracked even while disabled so that enabling mid-session works.
func (f *Fixer) LinkState(sub gamestate.Subscriber) {
	sub.OnUserDataLoaded(func(g gamestate.GameState) {
		if g.User != nil {
			f.authToken = g.User.JWT
		}
	})
	sub.OnStoryletChanged(func(g gamestate.GameState) {
		if !g.CurrentStorylet.IsKnown() {
			f.storyletID = nil
			f.storyletName = unknownName
			return
		}
		id := g.CurrentStorylet.ID
		f.storyletID = &id
		f.storyletName = g.CurrentStorylet.Name
	})
}

// LinkNetworkTools picks up the storylet a branch resolved into. The
// response is never modified.
func (f *Fixer) LinkNetworkTools(reg intercept.Registrar) {
	reg.OnResponseReceived(RouteChooseBranch, func(_ *intercept.Request, body []byte) []byte {
		ev := gjson.GetBytes(body, "endStorylet.event")
		if !ev.Exists() {
			return nil
		}
		id := int(ev.Get("id").Int())
		f.storyletID = &id
		f.storyletName = ev.Get("name").String()
		return nil
	})
}

func (f *Fixer) CheckEligibility(n dom.Node) bool {
	if !f.enabled || f.storyletID == nil || f.authToken == "" {
		return false
	}
	ok, err := dom.ContainsClass(n, mediaRootClass)
	if err != nil {
		f.logger.Debug("quickshare: eligibility lookup failed", "error", err)
		return false
	}
	return ok
}

// OnNodeAdded swaps the native share buttonlet for a listener-free clone
// wired to the quick share handler.
func (f *Fixer) OnNodeAdded(n dom.Node) {
	if !f.enabled || f.storyletID == nil {
		return
	}
	button, err := n.Query(shareButtonSelector)
	if err != nil || button == nil {
		return
	}
	container, err := button.Parent()
	if err != nil || container == nil {
		return
	}
	if p, err := container.Parent(); err != nil || p == nil {
		return
	}

	mimic, err := container.Clone()
	if err != nil {
		f.logger.Warn("quickshare: clone failed", "error", err)
		return
	}
	if err := mimic.OnClick(f.onShareClick); err != nil {
		f.logger.Warn("quickshare: attach listener failed", "error", err)
		return
	}
	if err := container.ReplaceWith(mimic); err != nil {
		f.logger.Warn("quickshare: replace failed", "error", err)
		return
	}
	f.logger.Debug("quickshare: share button replaced", "storylet_id", *f.storyletID)
}

func (f *Fixer) OnNodeRemoved(dom.Node) {}

// onShareClick runs on the loop. Everything the continuation needs is
// captured here; it never rereads fixer fields.
func (f *Fixer) onShareClick(ev dom.Event) {
	if !f.enabled || f.storyletID == nil || ev.Target == nil {
		return
	}
	id, name := *f.storyletID, f.storyletName
	imageCode := f.imageCode()

	icon := ev.Target
	parent, _ := icon.Parent()

	if parent != nil {
		_ = parent.RemoveClass("buttonlet-enabled")
	}
	_ = icon.RemoveClass("fa-pencil")
	_ = icon.AddClass("fa-refresh", "fa-spin")

	f.logger.Info("quickshare: sharing", "storylet_id", id, "image", imageCode)
	go func() {
		err := f.client.ShareToProfile(f.ctx, id, name, imageCode)
		if perr := f.runner.Post(func() { f.finish(icon, parent, id, err) }); perr != nil {
			f.logger.Warn("quickshare: continuation dropped", "storylet_id", id, "error", perr)
		}
	}()
}

func (f *Fixer) finish(icon, parent dom.Node, id int, err error) {
	if err != nil {
		f.logger.Error("quickshare: share failed", "storylet_id", id, "error", err)
		if parent != nil {
			_ = parent.AddClass("buttonlet-enabled")
			_ = parent.SetStyle("color", "red")
		}
		_ = icon.RemoveClass("fa-refresh", "fa-spin")
		_ = icon.AddClass("fa-pencil")
		return
	}
	_ = icon.RemoveClass("fa-refresh", "fa-spin")
	_ = icon.AddClass("fa-check")
	if parent != nil {
		_ = parent.AddClass("buttonlet-enabled")
	}
	f.logger.Info("quickshare: shared", "storylet_id", id)
}

// imageCode extracts the icon id of the current card image; "" on miss.
func (f *Fixer) imageCode() string {
	if f.doc == nil {
		return ""
	}
	img, err := f.doc.Query(cardImageSelector)
	if err != nil || img == nil {
		return ""
	}
	src, ok, err := img.Attr("src")
	if err != nil || !ok {
		return ""
	}
	if m := iconPattern.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	return ""
}
