package workqueue

import (
	"context"
	"sync"
)

// Loop is a single-goroutine dispatcher.  Functions posted to it run
// serially, in posting order, on the goroutine that called Run, so
// they never race with each other.
type Loop struct {
	mu     sync.Mutex
	fns    []func()
	closed bool
	wake   chan struct{}
}

// NewLoop returns an idle Loop.  Nothing runs until Run is called.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post schedules fn.  It never blocks.  It reports false once the
// loop has shut down.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.fns = append(l.fns, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes posted functions until ctx is done.  Functions still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.fns = nil
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		batch := l.fns
		l.fns = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}
