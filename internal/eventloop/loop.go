// Package eventloop runs all viewer state changes on a single goroutine.
// Network work happens off-loop; its completion is posted back onto the loop.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler is what engine components need from the loop.
type Scheduler interface {
	// Post queues fn to run on the loop.
	Post(fn func())
	// Async runs work off-loop and then runs done on the loop.
	Async(ctx context.Context, work func(context.Context), done func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

var ErrStopped = errors.New("event loop stopped")

type Loop struct {
	logger *slog.Logger

	mu       sync.Mutex
	queue    []func()
	wake     chan struct{}
	stopped  bool
	inflight sync.WaitGroup
}

var _ Scheduler = (*Loop)(nil)

func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{logger: logger, wake: make(chan struct{}, 1)}
}

func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Async(ctx context.Context, work func(context.Context), done func()) {
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		work(ctx)
		l.Post(done)
	}()
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			t.fired.Store(true)
			fn()
		})
	})
	return t
}

type loopTimer struct {
	t       *time.Timer
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.fired.Load() {
		return false
	}
	already := t.stopped.Swap(true)
	t.t.Stop()
	return !already
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			l.runOne(fn)
		}
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.queue = nil
			l.mu.Unlock()
			return nil
		case <-l.wake:
		}
	}
}

// Wait blocks until every Async work function has returned.
func (l *Loop) Wait() { l.inflight.Wait() }

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) runOne(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("panic recovered in event loop", "err", rec)
		}
	}()
	fn()
}
