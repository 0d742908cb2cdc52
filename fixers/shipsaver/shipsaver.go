// Package shipsaver locks the "sell your ship" branch behind a synthetic
// quality requirement so it cannot be chosen by accident.
package shipsaver

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hazyhaar/smallmercies/fixer"
	"github.com/hazyhaar/smallmercies/gamestate"
	"github.com/hazyhaar/smallmercies/intercept"
	"github.com/hazyhaar/smallmercies/settings"
)

const (
	Name = "ship_saver"

	// StoryletID is the storylet offering the ship sale.
	StoryletID = 340703
	// BranchName is matched exactly.
	BranchName = "Get rid of your current ship"
)

// qualityRequirement mirrors the game's requirement record. Field order
// is significant.
type qualityRequirement struct {
	AllowedOn          string `json:"allowedOn"`
	QualityID          int    `json:"qualityId"`
	QualityName        string `json:"qualityName"`
	Tooltip            string `json:"tooltip"`
	AvailableAtMessage string `json:"availableAtMessage"`
	Category           string `json:"category"`
	Nature             string `json:"nature"`
	Status             string `json:"status"`
	IsCost             bool   `json:"isCost"`
	Image              string `json:"image"`
	ID                 int    `json:"id"`
}

var lockedRequirement = mustMarshal(qualityRequirement{
	AllowedOn:          "Character",
	QualityID:          777_777_777,
	QualityName:        "Abundance of Caution",
	Tooltip:            "It is locked for your own good.",
	AvailableAtMessage: "You can re-enable this branch in the \"Small Mercies\" settings screen.",
	Category:           "Extension",
	Nature:             "Status",
	Status:             "Locked",
	IsCost:             false,
	Image:              "mercy",
	ID:                 StoryletID,
})

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Fixer is the ship saver fixer.
type Fixer struct {
	logger  *slog.Logger
	enabled bool
}

var _ fixer.NetworkAware = (*Fixer)(nil)

// New creates the fixer.
func New(logger *slog.Logger) *Fixer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fixer{logger: logger}
}

func (f *Fixer) Name() string                   { return Name }
func (f *Fixer) Capabilities() fixer.Capability { return fixer.Network }
func (f *Fixer) Flags() []string                { return []string{settings.KeyShipSaver} }

func (f *Fixer) ApplySettings(s settings.Settings) {
	f.enabled = s.Bool(settings.KeyShipSaver)
}

func (f *Fixer) LinkNetworkTools(reg intercept.Registrar) {
	reg.OnResponseReceived(gamestate.RouteBeginStorylet, f.onBegin)
	reg.OnResponseReceived(gamestate.RouteStorylet, f.onStorylet)
}

// onBegin matches on the storylet the player asked to begin.
func (f *Fixer) onBegin(req *intercept.Request, body []byte) []byte {
	if !f.enabled || req.Field("eventId").Int() != StoryletID {
		return nil
	}
	return f.lock(body)
}

// onStorylet matches on the storylet the game reports as current.
func (f *Fixer) onStorylet(_ *intercept.Request, body []byte) []byte {
	if !f.enabled || gjson.GetBytes(body, "storylet.id").Int() != StoryletID {
		return nil
	}
	return f.lock(body)
}

func (f *Fixer) lock(body []byte) []byte {
	out, err := LockBranch(body)
	if err != nil {
		f.logger.Warn("shipsaver: patch failed", "error", err)
		return nil
	}
	if out != nil {
		f.logger.Info("shipsaver: branch locked", "storylet_id", StoryletID)
	}
	return out
}

// LockBranch locks the first branch of body's storylet named BranchName
// and appends the synthetic requirement. It returns nil when no branch
// matches. Bytes outside the edited branch are preserved.
func LockBranch(body []byte) ([]byte, error) {
	branches := gjson.GetBytes(body, "storylet.childBranches")
	if !branches.IsArray() {
		return nil, nil
	}
	idx := -1
	for i, b := range branches.Array() {
		if b.Get("name").String() == BranchName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}

	path := fmt.Sprintf("storylet.childBranches.%d", idx)
	reqs := branches.Array()[idx].Get("qualityRequirements")
	reqPath, reqRaw := path+".qualityRequirements.-1", lockedRequirement
	switch {
	case reqs.IsArray():
	case !reqs.Exists() || reqs.Type == gjson.Null:
		reqPath = path + ".qualityRequirements"
		reqRaw = append(append([]byte{'['}, lockedRequirement...), ']')
	default:
		return nil, nil
	}

	out, err := sjson.SetBytes(body, path+".qualityLocked", true)
	if err != nil {
		return nil, fmt.Errorf("shipsaver: set qualityLocked: %w", err)
	}
	out, err = sjson.SetRawBytes(out, reqPath, reqRaw)
	if err != nil {
		return nil, fmt.Errorf("shipsaver: append requirement: %w", err)
	}
	return out, nil
}
