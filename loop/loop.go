// Package loop provides the single-threaded, run-to-completion executor
// that every dispatcher shares. rod delivers DOM events, hijacked
// requests and exposed-function calls on their own goroutines; funnelling
// them through one Loop guarantees that no two fixer callbacks ever run at
// the same time, so fixers mutate their own fields without locks.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrStopped is returned when a task is submitted to a loop that is not
// running any more.
var ErrStopped = errors.New("loop: stopped")

// Runner executes tasks one at a time. Do blocks until fn has run; Post
// enqueues it and returns. Do must not be called from inside a task.
type Runner interface {
	Do(ctx context.Context, fn func()) error
	Post(fn func()) error
}

// Loop is a serial executor. Create with New, start with Run.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithQueueSize sets the task buffer size. Default: 1024.
func WithQueueSize(n int) Option {
	return func(lp *Loop) {
		if n > 0 {
			lp.tasks = make(chan func(), n)
		}
	}
}

// New creates a Loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		tasks:  make(chan func(), 1024),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run executes tasks until ctx is cancelled. Tasks still queued at that
// point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

// Post enqueues fn.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Do enqueues fn and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	err := l.Post(func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The task may have been dropped with the queue.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return fmt.Errorf("loop: wait: %w", ctx.Err())
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", "panic", r)
		}
	}()
	fn()
}

// Inline runs every task immediately on the caller's goroutine. It is
// the Runner for single-goroutine callers such as tests.
type Inline struct{}

func (Inline) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}

func (Inline) Post(fn func()) error {
	fn()
	return nil
}
