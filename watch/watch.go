// Package watch polls a SQLite database for a revision number and runs a
// reload action once it has moved and stayed put for a settle window. The
// settings store uses it to re-project settings into fixers live.
//
//	w := watch.New(db, watch.Options{Interval: 250 * time.Millisecond, Detector: watch.Revision("settings", "revision")})
//	go w.OnChange(ctx, reapply)
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Detector reads the current revision.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	Interval time.Duration // poll period, default 1s
	Settle   time.Duration // quiet period before reloading, 0 = next poll
	Detector Detector      // required
	Logger   *slog.Logger
}

// Watcher polls a database and runs an action after a revision change.
type Watcher struct {
	db   *sql.DB
	opts Options

	mu       sync.Mutex
	applied  int64
	reloads  int
	failures int
}

// New creates a Watcher. OnChange starts it.
func New(db *sql.DB, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{db: db, opts: opts}
}

// Applied is the last revision whose reload succeeded.
func (w *Watcher) Applied() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applied
}

// Counts reports successful and failed reloads.
func (w *Watcher) Counts() (reloads, failures int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.failures
}

// OnChange reads the current revision as the baseline and then behaves
// like OnChangeFrom. Writes landing before that read are not reported.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	rev, err := w.opts.Detector(ctx, w.db)
	if err != nil {
		w.opts.Logger.Warn("watch: baseline read failed", "error", err)
	}
	w.OnChangeFrom(ctx, rev, action)
}

// OnChangeFrom blocks until ctx is cancelled, running action whenever the
// revision differs from the last applied one, starting from since. A
// failed action leaves the applied revision in place, so the next poll
// retries it.
func (w *Watcher) OnChangeFrom(ctx context.Context, since int64, action func() error) {
	w.mu.Lock()
	w.applied = since
	w.mu.Unlock()

	seen, seenAt := since, time.Now()
	tick := time.NewTicker(w.opts.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				if ctx.Err() == nil {
					w.opts.Logger.Warn("watch: revision read failed", "error", err)
				}
				continue
			}
			if cur != seen {
				seen, seenAt = cur, now
			}
			if seen == w.Applied() || now.Sub(seenAt) < w.opts.Settle {
				continue
			}
			w.reload(action, seen)
		}
	}
}

func (w *Watcher) reload(action func() error, rev int64) {
	err := action()
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.failures++
		w.opts.Logger.Error("watch: reload failed", "error", err, "revision", rev)
		return
	}
	w.reloads++
	w.applied = rev
	w.opts.Logger.Debug("watch: reloaded", "revision", rev)
}

// Revision reads MAX(column) from table. Every writer must bump the
// column past the current maximum.
func Revision(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quote(column) + "), 0) FROM " + quote(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
