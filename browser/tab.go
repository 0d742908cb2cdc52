package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// TabOptions configures OpenTab.
type TabOptions struct {
	// Stealth applies go-rod/stealth evasions to the page.
	Stealth bool
	// NavigateTimeout bounds navigation. Default: 60s.
	NavigateTimeout time.Duration
	// Prepare runs on the blank page before navigation, so hijackers and
	// bindings see the very first requests.
	Prepare func(page *rod.Page) error
}

// Tab is the page the game runs in.
type Tab struct {
	Page    *rod.Page
	PageURL string
}

// OpenTab creates a page, runs opts.Prepare, then navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, opts TabOptions) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 60 * time.Second
	}

	var page *rod.Page
	var err error
	if opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if opts.Prepare != nil {
		if err := opts.Prepare(page); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("browser: prepare tab: %w", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, opts.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	mgr.cfg.Logger.Info("browser: tab open", "url", pageURL, "stealth", opts.Stealth)
	return &Tab{Page: page, PageURL: pageURL}, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
