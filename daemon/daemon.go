// Package daemon wires the fixer runtime together: settings store, serial
// loop, API interception, game state, DOM feed, fixers, admin surface.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/smallmercies/admin"
	"github.com/hazyhaar/smallmercies/apiclient"
	"github.com/hazyhaar/smallmercies/browser"
	"github.com/hazyhaar/smallmercies/dbopen"
	"github.com/hazyhaar/smallmercies/dom"
	"github.com/hazyhaar/smallmercies/fixer"
	"github.com/hazyhaar/smallmercies/fixers/quickshare"
	"github.com/hazyhaar/smallmercies/fixers/shipsaver"
	"github.com/hazyhaar/smallmercies/gamestate"
	"github.com/hazyhaar/smallmercies/intercept"
	"github.com/hazyhaar/smallmercies/loop"
	"github.com/hazyhaar/smallmercies/settings"
)

// Version is reported by the admin MCP server.
var Version = "dev"

// Core is everything except the browser: it can be driven from tests or
// replays by feeding Interceptor and Dispatcher directly.
type Core struct {
	Loop       *loop.Loop
	Store      *settings.Store
	Network    *intercept.Interceptor
	State      *gamestate.Controller
	DOM        *dom.Dispatcher
	Registry   *fixer.Registry
	API        *apiclient.Client
	Document   *SwappableDocument
	Settings   settings.Settings
	revision   int64 // store revision Settings was read at
	pollPeriod time.Duration
	logger     *slog.Logger
}

// NewCore builds and links the runtime over db. The returned loop is not
// running yet; Start runs it.
func NewCore(ctx context.Context, cfg *Config, db *sql.DB, logger *slog.Logger, opts ...apiclient.Option) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := settings.NewStore(db, logger)
	if err != nil {
		return nil, err
	}
	seed, err := cfg.SeedSettings()
	if err != nil {
		return nil, err
	}
	if err := store.Seed(ctx, seed); err != nil {
		return nil, err
	}

	lp := loop.New(loop.WithLogger(logger))
	c := &Core{
		Loop:       lp,
		Store:      store,
		Network:    intercept.New(lp, logger),
		State:      gamestate.NewController(logger),
		DOM:        dom.NewDispatcher(lp, logger),
		Registry:   fixer.NewRegistry(lp, logger),
		Document:   &SwappableDocument{},
		pollPeriod: cfg.Settings.PollInterval,
		logger:     logger,
	}
	c.API = apiclient.New(c.State.Token, append([]apiclient.Option{
		apiclient.WithBaseURL(cfg.Game.APIBase),
		apiclient.WithLogger(logger),
	}, opts...)...)

	// The controller links first so that fixers see the state a response
	// carries before their own handlers for the same route run.
	c.State.Link(c.Network)

	fixers := []fixer.Fixer{
		quickshare.New(c.API, c.Document, lp, quickshare.WithContext(ctx), quickshare.WithLogger(logger)),
		shipsaver.New(logger),
	}
	for _, f := range fixers {
		if err := c.Registry.Register(f); err != nil {
			return nil, err
		}
	}
	c.Registry.Link(fixer.Hub{DOM: c.DOM, State: c.State, Network: c.Network})

	if c.Settings, c.revision, err = store.Snapshot(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Start runs the loop, applies the stored settings and starts watching
// the store for changes.
func (c *Core) Start(ctx context.Context) error {
	go func() {
		if err := c.Loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("daemon: loop stopped", "error", err)
		}
	}()
	if err := c.Registry.ApplySettings(ctx, c.Settings); err != nil {
		return err
	}
	c.Store.Watch(ctx, c.revision, c.pollPeriod, func(s settings.Settings) {
		if err := c.Registry.ApplySettings(ctx, s); err != nil {
			c.logger.Warn("daemon: reapply settings failed", "error", err)
		}
	})
	return nil
}

// SwappableDocument forwards to the document of the current tab. Fixers
// keep one reference across browser recycles.
type SwappableDocument struct {
	mu  sync.RWMutex
	cur dom.Document
}

// Set replaces the current document; nil detaches.
func (d *SwappableDocument) Set(doc dom.Document) {
	d.mu.Lock()
	d.cur = doc
	d.mu.Unlock()
}

func (d *SwappableDocument) Query(selector string) (dom.Node, error) {
	d.mu.RLock()
	cur := d.cur
	d.mu.RUnlock()
	if cur == nil {
		return nil, nil
	}
	return cur.Query(selector)
}

// Run starts the daemon and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	db, err := dbopen.Open(cfg.Settings.DB, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	core, err := NewCore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	if err := core.Start(ctx); err != nil {
		return err
	}

	if cfg.Admin.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           admin.New(core.Store, core.Registry, logger).Handler(&mcp.Implementation{Name: "smallmercies", Version: Version}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("daemon: admin listening", "addr", cfg.Admin.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("daemon: admin server", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:       cfg.Browser.Remote,
		Bin:             cfg.Browser.Bin,
		Headless:        cfg.Browser.Headless,
		UserDataDir:     cfg.Browser.UserDataDir,
		MemoryLimit:     cfg.Browser.MemoryLimit,
		RecycleInterval: cfg.Browser.RecycleInterval,
		Logger:          logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	s := &session{cfg: cfg, core: core, mgr: mgr, logger: logger}
	mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: s.detach,
		AfterRecycle: func(*rod.Browser) {
			if err := s.open(ctx); err != nil {
				logger.Error("daemon: reopen game tab after recycle", "error", err)
			}
		},
	})
	if err := s.open(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.detach()
	logger.Info("daemon: stopped")
	return nil
}

// session is the game tab with its hijacker and feed.
type session struct {
	cfg    *Config
	core   *Core
	mgr    *browser.Manager
	logger *slog.Logger

	mu     sync.Mutex
	tab    *browser.Tab
	router *rod.HijackRouter
	cancel context.CancelFunc
}

func (s *session) open(ctx context.Context) error {
	tabCtx, cancel := context.WithCancel(ctx)
	var feed *browser.Feed
	var router *rod.HijackRouter

	tab, err := browser.OpenTab(tabCtx, s.mgr, s.cfg.Game.URL, browser.TabOptions{
		Stealth:         *s.cfg.Browser.Stealth,
		NavigateTimeout: s.cfg.Browser.NavigateTimeout,
		Prepare: func(page *rod.Page) error {
			hj := intercept.NewHijacker(s.core.Network, s.cfg.Game.APIPattern, intercept.WithHijackLogger(s.logger))
			r, err := hj.Attach(page)
			if err != nil {
				return fmt.Errorf("attach hijacker: %w", err)
			}
			router = r
			feed = browser.NewFeed(page, s.core.DOM, s.core.Loop, s.logger)
			return feed.Install()
		},
	})
	if err != nil {
		cancel()
		if router != nil {
			_ = router.Stop()
		}
		return err
	}

	s.core.Document.Set(feed.Document())
	go func() {
		if err := feed.Run(tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("daemon: feed stopped", "error", err)
		}
	}()

	s.mu.Lock()
	s.tab, s.router, s.cancel = tab, router, cancel
	s.mu.Unlock()
	return nil
}

func (s *session) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.core.Document.Set(nil)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.router != nil {
		_ = s.router.Stop()
		s.router = nil
	}
	if s.tab != nil {
		_ = s.tab.Close()
		s.tab = nil
	}
}
