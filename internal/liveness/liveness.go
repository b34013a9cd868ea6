// Package liveness evicts connections that have gone quiet.
//
// A Monitor runs one periodic sweep over every tracked connection and
// stops any whose last activity is strictly older than the timeout.
// Stops are handed to a workqueue so the sweep itself never waits on
// a connection's teardown.
package liveness

import (
	"context"
	"fmt"
	"sync"
	"time"

	ncerr "rollcall/internal/errors"
	"rollcall/internal/metrics"
	"rollcall/internal/workqueue"
	"rollcall/util"
)

// Tracked is a connection the Monitor can evict.
type Tracked interface {
	ID() string
	LastActivity() time.Time
	Stop(cause error)
}

// Monitor is safe for concurrent use.
type Monitor struct {
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *util.Logger
	metrics  *metrics.Collector

	mu      sync.Mutex
	tracked map[string]Tracked

	loop   *workqueue.Loop
	evicts *workqueue.Queue
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now as the sweep clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *util.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// New returns a Monitor that evicts connections silent for longer than
// timeout, checking every interval.
func New(timeout, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
		tracked:  make(map[string]Tracked),
		loop:     workqueue.NewLoop(),
	}
	for _, o := range opts {
		o(m)
	}
	m.evicts = workqueue.New(m.loop, workqueue.WithWorkers(workqueue.Unlimited))
	return m
}

// Timeout returns the eviction threshold.
func (m *Monitor) Timeout() time.Duration { return m.timeout }

// Track starts watching t.  Tracking an already-tracked id replaces it.
// Like Untrack it is a no-op on a nil Monitor.
func (m *Monitor) Track(t Tracked) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.tracked[t.ID()] = t
	m.mu.Unlock()
}

// Untrack stops watching id.  Unknown ids are ignored.
func (m *Monitor) Untrack(id string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.tracked, id)
	m.mu.Unlock()
}

// Len returns the number of tracked connections.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Sweep evicts every connection whose last activity is more than the
// timeout before now, and returns their ids.  Evicted connections are
// untracked immediately.  Each Stop runs on its own eviction worker, so
// one slow close never delays another eviction; completions are
// reported on the monitor's loop.
func (m *Monitor) Sweep(now time.Time) []string {
	var stale []Tracked
	m.mu.Lock()
	for id, t := range m.tracked {
		if now.Sub(t.LastActivity()) > m.timeout {
			stale = append(stale, t)
			delete(m.tracked, id)
		}
	}
	m.mu.Unlock()
	m.metrics.RecordSweep()

	ids := make([]string, 0, len(stale))
	for _, t := range stale {
		t := t
		idle := now.Sub(t.LastActivity()).Truncate(time.Millisecond)
		ids = append(ids, t.ID())
		cause := fmt.Errorf("no ping for %s: %w", idle, ncerr.ErrTimeout)
		m.evicts.Submit(func(context.Context) error {
			t.Stop(cause)
			return nil
		}, func(error) {
			m.logger.Debug("evicted %s after %s idle", t.ID(), idle)
		})
	}
	return ids
}

// Run sweeps every interval until ctx is done, then discards any
// evictions that have not started.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		m.loop.Run(loopCtx) //nolint:errcheck
	}()
	defer func() {
		if n := m.evicts.Stop(); n > 0 {
			m.logger.Debug("liveness: dropped %d pending evictions", n)
		}
		stopLoop()
		<-loopDone
	}()

	m.logger.Verbose("liveness: timeout %s, sweep every %s", m.timeout, m.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ids := m.Sweep(m.now()); len(ids) > 0 {
				m.logger.Verbose("liveness: evicting %d connection(s)", len(ids))
			}
		}
	}
}
