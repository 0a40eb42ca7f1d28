// Package queue implements PayloadQueue, the per-logger FIFO the dispatch
// engine drains. Enqueue is called by arbitrary caller goroutines; Peek and
// Dequeue are called by the dispatcher's single worker under the dispatcher
// mutex, but the queue still guards its own FIFO with its own mutex so an
// Enqueue never has to wait on the dispatcher.
package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flarelog/goclient/internal/clock"
	"github.com/flarelog/goclient/internal/config"
)

// ConfigProvider is the owning logger's configuration lookup. PayloadQueue
// never caches AccessToken or MaxReportsPerMinute beyond one tick — it
// re-reads the owner's current Config every time it matters, so a
// reconfiguration takes effect on the next call that reads it. The only
// queue-side bookkeeping is the limiter and the MaxReportsPerMinute it was
// built for, which syncLimiter brings up to date on Ready/ReadyAt/Dequeue.
type ConfigProvider interface {
	Config() config.Config
}

// PayloadQueue is a thread-safe FIFO of pending payloads for one logger.
type PayloadQueue struct {
	owner     ConfigProvider
	clk       clock.Clock
	onOverflow func()

	mu       sync.Mutex
	items    [][]byte
	limiter  *rate.Limiter
	limitRPM int // MaxReportsPerMinute the limiter is currently built for
}

// New creates a queue owned by owner. The queue is not registered with any
// dispatcher by this call; registration is the caller's responsibility.
// onOverflow, if non-nil, is invoked (outside the queue's own mutex) each
// time Enqueue drops the current head to make room under a bounded
// MaxQueueDepth; the caller typically wires this to emit a QueueOverflow
// event and bump a metrics counter.
func New(owner ConfigProvider, clk clock.Clock, onOverflow func()) *PayloadQueue {
	rpm := owner.Config().MaxReportsPerMinute
	if rpm <= 0 {
		rpm = 1
	}
	q := &PayloadQueue{
		owner:      owner,
		clk:        clk,
		onOverflow: onOverflow,
		limitRPM:   rpm,
		limiter:    newLimiter(rpm),
	}
	return q
}

func newLimiter(rpm int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
}

// syncLimiter applies the owner's current MaxReportsPerMinute if it changed
// since it was last observed. next_dequeue_time may only regress when
// MaxReportsPerMinute is reconfigured upward: an upward change rebuilds the
// limiter fresh so the queue can catch up to the faster rate immediately. A
// downward change instead calls SetLimitAt, which folds the elapsed time
// since the last replenishment into the *old*, faster rate before applying
// the new one — the accumulated tokens carry over exactly, so the queue
// never becomes spuriously eligible the moment the rate drops.
func (q *PayloadQueue) syncLimiter() {
	rpm := q.owner.Config().MaxReportsPerMinute
	if rpm <= 0 {
		rpm = 1
	}
	if rpm == q.limitRPM {
		return
	}
	newLimit := rate.Limit(float64(rpm) / 60.0)
	if rpm > q.limitRPM {
		q.limiter = newLimiter(rpm)
	} else {
		q.limiter.SetLimitAt(q.clk.Now(), newLimit)
	}
	q.limitRPM = rpm
}

// Enqueue appends payload to the tail. payload must be non-empty; passing a
// nil or empty payload is a programmer error and panics, per spec's
// "fail loudly at the boundary" rule for invariant violations.
func (q *PayloadQueue) Enqueue(payload []byte) {
	if len(payload) == 0 {
		panic("queue: Enqueue called with nil/empty payload")
	}

	q.mu.Lock()
	maxDepth := q.owner.Config().MaxQueueDepth
	overflowed := false
	if maxDepth > 0 && len(q.items) >= maxDepth {
		q.items = q.items[1:]
		overflowed = true
	}
	q.items = append(q.items, payload)
	q.mu.Unlock()

	if overflowed && q.onOverflow != nil {
		q.onOverflow()
	}
}

// Peek returns the head without removing it.
func (q *PayloadQueue) Peek() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Dequeue removes and returns the head. On a non-empty dequeue it advances
// the queue's self-throttle so the next dequeue is eligible no sooner than
// 60s/MaxReportsPerMinute from now.
func (q *PayloadQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	q.syncLimiter()
	q.limiter.AllowN(q.clk.Now(), 1)

	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// ReadyAt reports the earliest time at which Dequeue would be eligible to
// advance the queue again, without consuming any budget (a true peek).
func (q *PayloadQueue) ReadyAt() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.syncLimiter()
	now := q.clk.Now()
	r := q.limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	return now.Add(r.DelayFrom(now))
}

// Ready reports whether the head, if present, may be dequeued right now.
func (q *PayloadQueue) Ready() bool {
	return !q.ReadyAt().After(q.clk.Now())
}

// Len reports the number of payloads currently queued.
func (q *PayloadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// AccessToken is a convenience read of the owner's current token, used by
// the dispatcher for bucket indexing.
func (q *PayloadQueue) AccessToken() string {
	return q.owner.Config().AccessToken
}

// OwnerConfig returns the owning logger's current configuration, used by
// the dispatcher to read ScrubFields at send time.
func (q *PayloadQueue) OwnerConfig() config.Config {
	return q.owner.Config()
}

// Owner exposes the queue's ConfigProvider so the dispatcher can probe it
// for the optional reconfiguration-subscription capability on Register.
func (q *PayloadQueue) Owner() ConfigProvider {
	return q.owner
}
