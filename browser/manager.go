// Package browser drives the Chrome instance the game runs in: process
// lifecycle, the stealth tab, rod-backed dom.Node handles and the injected
// mutation feed.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned once Close has run.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an already running
	// Chrome. Empty = launch a local Chrome.
	RemoteURL string

	// Bin is the Chrome binary. Empty = let rod find or download one.
	Bin string

	// Headless hides the window. The game is usually played headful.
	Headless bool

	// UserDataDir keeps cookies and local storage between runs so the
	// player stays logged in.
	UserDataDir string

	// MemoryLimit is the JS heap size in bytes past which Chrome is
	// restarted. 0 disables the check.
	MemoryLimit int64

	// RecycleInterval is the longest a Chrome process lives. 0 = forever.
	RecycleInterval time.Duration

	// MonitorInterval is how often limits are checked. Default: 30s.
	MonitorInterval time.Duration

	Logger *slog.Logger
}

// RecycleCallback brackets a browser restart. Both hooks run without the
// manager lock held, so they may call back into the Manager.
type RecycleCallback struct {
	BeforeRecycle func()
	AfterRecycle  func(b *rod.Browser)
}

// Manager owns the Chrome process.
type Manager struct {
	cfg Config
	log *slog.Logger

	recycling sync.Mutex // serialises Recycle

	mu       sync.RWMutex
	browser  *rod.Browser
	launched *launcher.Launcher // nil for a remote browser
	since    time.Time
	closed   bool
	cb       *RecycleCallback
}

// NewManager creates a Manager. Call Start to bring Chrome up.
func NewManager(cfg Config) *Manager {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, log: cfg.Logger}
}

// SetRecycleCallback sets the hooks run around every restart.
func (m *Manager) SetRecycleCallback(cb *RecycleCallback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// Start brings Chrome up and, when a limit is configured, watches it
// until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if err := m.connectLocked(); err != nil {
		return nil, err
	}
	if m.cfg.MemoryLimit > 0 || m.cfg.RecycleInterval > 0 {
		go m.monitor(ctx)
	}
	return m.browser, nil
}

// Browser returns the current browser, nil before Start or after Close.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome: BeforeRecycle, teardown, relaunch,
// AfterRecycle.
func (m *Manager) Recycle(reason string) error {
	m.recycling.Lock()
	defer m.recycling.Unlock()

	m.mu.RLock()
	closed, cb, since := m.closed, m.cb, m.since
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	m.log.Info("browser: recycling", "reason", reason, "uptime", time.Since(since))
	if cb != nil && cb.BeforeRecycle != nil {
		cb.BeforeRecycle()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.teardownLocked()
	err := m.connectLocked()
	b := m.browser
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}

	if cb != nil && cb.AfterRecycle != nil {
		cb.AfterRecycle(b)
	}
	return nil
}

// Close shuts Chrome down. The Manager cannot be restarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.teardownLocked()
	return nil
}

func (m *Manager) connectLocked() error {
	ws := m.cfg.RemoteURL
	if ws == "" {
		l := newLauncher(m.cfg)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		ws, m.launched = u, l
		m.log.Info("browser: launched chrome", "url", ws, "headless", m.cfg.Headless)
	} else {
		m.log.Info("browser: attaching to remote chrome", "url", ws)
	}

	b := rod.New().ControlURL(ws)
	if err := b.Connect(); err != nil {
		m.teardownLocked()
		return fmt.Errorf("browser: connect: %w", err)
	}
	m.browser, m.since = b, time.Now()
	return nil
}

func (m *Manager) teardownLocked() {
	if m.browser != nil {
		// A remote browser belongs to someone else: detach, never close it.
		if m.launched != nil {
			_ = m.browser.Close()
		}
		m.browser = nil
	}
	if m.launched != nil {
		m.launched.Cleanup()
		m.launched = nil
	}
}

func newLauncher(cfg Config) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}
	return l.Set("disable-blink-features", "AutomationControlled")
}

// recycleReason reports why a browser of the given age and heap size must
// be restarted, or "" when it may keep running. heap < 0 means unknown.
func recycleReason(cfg Config, age time.Duration, heap int64) string {
	if cfg.RecycleInterval > 0 && age > cfg.RecycleInterval {
		return "max age"
	}
	if cfg.MemoryLimit > 0 && heap > cfg.MemoryLimit {
		return "memory limit"
	}
	return ""
}

func (m *Manager) monitor(ctx context.Context) {
	tick := time.NewTicker(m.cfg.MonitorInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		m.mu.RLock()
		closed, b, since := m.closed, m.browser, m.since
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		heap := int64(-1)
		if m.cfg.MemoryLimit > 0 {
			if v, err := jsHeapUsage(b); err != nil {
				m.log.Debug("browser: heap check failed", "error", err)
			} else {
				heap = v
			}
		}
		if reason := recycleReason(m.cfg, time.Since(since), heap); reason != "" {
			if err := m.Recycle(reason); err != nil {
				m.log.Error("browser: recycle failed", "reason", reason, "error", err)
			}
		}
	}
}

// jsHeapUsage sums the used JS heap over all open pages.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, errors.New("browser: no pages")
	}
	var total int64
	for _, p := range pages {
		res, err := p.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
		if err != nil {
			return 0, err
		}
		total += int64(res.Value.Int())
	}
	return total, nil
}
