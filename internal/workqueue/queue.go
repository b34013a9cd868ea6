// Package workqueue runs submitted operations in submission order on
// background workers, and hands each result back to the submitter's
// coordination context.
//
// A Queue starts workers on demand, up to its limit, and lets each
// exit once the queue is empty.  With the default limit of one,
// operations run strictly one at a time.  Stop discards everything not
// yet started and waits for the units in flight.
package workqueue

import (
	"context"
	"sync"
)

// Op is a unit of work.  ctx is cancelled when the queue is stopped.
type Op func(ctx context.Context) error

// Completion receives the result of an Op.
type Completion func(err error)

// Poster delivers a function to a coordination context.  *Loop
// satisfies it.
type Poster interface {
	Post(fn func()) bool
}

type item struct {
	op   Op
	done Completion
}

// Unlimited lets a Queue start a worker for every submission.
const Unlimited = 0

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers caps the number of operations in flight at n.  n of
// [Unlimited] or less starts one worker per pending operation, so no
// operation waits for another to finish.  Operations still start in
// submission order but may complete in any order.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n < Unlimited {
			n = Unlimited
		}
		q.limit = n
	}
}

// Queue is a FIFO of operations drained by a bounded set of workers.
// All methods are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	items   []item
	limit   int
	active  int
	stopped bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	post   Poster
}

// New returns an empty Queue with a single worker.  Completions are
// delivered through post; when post is nil they run on the worker
// right after their Op.
func New(post Poster, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{ctx: ctx, cancel: cancel, post: post, limit: 1}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Submit appends op and starts a worker for it unless the limit is
// reached, in which case a running worker picks it up.  onComplete
// may be nil.  It reports false, and drops op, once the queue has been
// stopped.
func (q *Queue) Submit(op Op, onComplete Completion) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.items = append(q.items, item{op: op, done: onComplete})
	if q.limit == Unlimited || q.active < q.limit {
		q.active++
		q.wg.Add(1)
		go q.work()
	}
	return true
}

// Pending returns the number of operations waiting to start.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop discards queued operations and waits for those in flight to
// return.  It returns how many were discarded.  Stop is
// idempotent.  It must not be called from inside an Op.
func (q *Queue) Stop() int {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return dropped
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if q.stopped || len(q.items) == 0 {
			q.active--
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items[0] = item{}
		q.items = q.items[1:]
		q.mu.Unlock()

		err := it.op(q.ctx)
		if it.done == nil {
			continue
		}
		if q.post == nil {
			it.done(err)
		} else {
			q.post.Post(func() { it.done(err) })
		}
	}
}
