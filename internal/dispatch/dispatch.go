// Package dispatch implements the singleton-by-default dispatch engine: a
// worker that drains per-logger PayloadQueues grouped into per-access-token
// TokenBuckets, applies the retry and backoff policy, and fans out
// InternalEvents, generalizing the teacher's LogDaemonService worker-pool
// control loop (ticker + ctx.Done + recover, Start/Stop/WaitGroup) from
// file-tailing workers to payload delivery.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flarelog/goclient/internal/clock"
	"github.com/flarelog/goclient/internal/events"
	"github.com/flarelog/goclient/internal/metrics"
	"github.com/flarelog/goclient/internal/queue"
	"github.com/flarelog/goclient/internal/transport"
)

// ReconfigureObserver is implemented by the Dispatcher and invoked by a
// logger when it replaces its configuration, letting the dispatcher
// re-bucket the logger's queue without the logger holding a cyclic
// back-reference into dispatcher internals (spec.md §9's redesign note).
type ReconfigureObserver interface {
	OnReconfigure(q *queue.PayloadQueue, oldToken string)
}

// subscriber is the capability a queue's owner may optionally implement;
// Register probes for it via a type assertion so the dispatch package never
// needs to import the logger package. Subscribe returns a handle Unregister
// later passes back to Unsubscribe, per spec.md §4.2.1's "remove from the
// token index and the queue set, unsubscribe."
type subscriber interface {
	Subscribe(obs ReconfigureObserver) int
	Unsubscribe(handle int)
}

type tokenBucket struct {
	token                 string
	queues                []*queue.PayloadQueue
	nextPermittedSendTime time.Time
	backoffLevel          int
}

func (b *tokenBucket) indexOf(q *queue.PayloadQueue) int {
	for i, m := range b.queues {
		if m == q {
			return i
		}
	}
	return -1
}

// Dispatcher is the process-wide controller described in spec.md §4.2. It
// owns every registered PayloadQueue, the access-token → TokenBucket index,
// and a single background worker.
type Dispatcher struct {
	mu sync.Mutex

	clk       clock.Clock
	transport transport.Transport
	bus       *events.Bus
	metrics   *metrics.Metrics
	policy    Policy

	queues           map[*queue.PayloadQueue]struct{}
	singleton        map[*queue.PayloadQueue]bool
	membership       map[*queue.PayloadQueue]*tokenBucket
	buckets          map[string]*tokenBucket
	bucketOrder      []string
	deliveryAttempts map[*queue.PayloadQueue]int
	unsubscribe      map[*queue.PayloadQueue]func()

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Dispatcher built by New.
type Option func(*Dispatcher)

// WithClock overrides the default clock.Real{}, primarily for tests.
func WithClock(c clock.Clock) Option { return func(d *Dispatcher) { d.clk = c } }

// WithTransport sets the Transport used to deliver payloads. Required for
// any Dispatcher expected to actually send anything.
func WithTransport(t transport.Transport) Option { return func(d *Dispatcher) { d.transport = t } }

// WithEventBus overrides the Dispatcher's internal event bus, letting
// callers share one bus across multiple concerns.
func WithEventBus(b *events.Bus) Option { return func(d *Dispatcher) { d.bus = b } }

// WithMetrics overrides the Dispatcher's metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithPolicy overrides the default retry/backoff/poll policy.
func WithPolicy(p Policy) Option { return func(d *Dispatcher) { d.policy = p } }

// New builds and starts a Dispatcher. Per spec.md §9's redesign note,
// construction starts the worker; Stop must be called to release it.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clk:              clock.Real{},
		bus:              events.NewBus(),
		metrics:          &metrics.Metrics{},
		policy:           DefaultPolicy(),
		queues:           make(map[*queue.PayloadQueue]struct{}),
		singleton:        make(map[*queue.PayloadQueue]bool),
		membership:       make(map[*queue.PayloadQueue]*tokenBucket),
		buckets:          make(map[string]*tokenBucket),
		deliveryAttempts: make(map[*queue.PayloadQueue]int),
		unsubscribe:      make(map[*queue.PayloadQueue]func()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.policy.PollInterval <= 0 {
		d.policy.PollInterval = DefaultPolicy().PollInterval
	}
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run()
	return d
}

var (
	defaultOnce       sync.Once
	defaultDispatcher *Dispatcher
)

// Default returns the process-wide Dispatcher, constructing it with
// DefaultPolicy on first access. Loggers that don't construct their own
// Dispatcher register against this one for ergonomic parity with the
// source's singleton. It is built without a Transport and none can be set
// afterwards, so it delivers nothing: each tick that reaches a pending
// payload recovers from the nil-transport panic and emits a Fault event,
// leaving the payload queued.
func Default() *Dispatcher {
	defaultOnce.Do(func() {
		defaultDispatcher = New()
	})
	return defaultDispatcher
}

// Metrics returns the Dispatcher's metrics sink.
func (d *Dispatcher) Metrics() *metrics.Metrics { return d.metrics }

// EventBus returns the Dispatcher's internal event bus for observer
// registration.
func (d *Dispatcher) EventBus() *events.Bus { return d.bus }

// Register adds q to the dispatcher's managed set, indexing it under its
// owner's current access token (creating the TokenBucket lazily if needed)
// and subscribing for reconfiguration notifications if the owner supports
// it. singleton marks q as belonging to the library's one process-wide
// logger, which Unregister refuses to remove. Registering an already-known
// queue is a programmer error and panics, per spec.md §7.1.
func (d *Dispatcher) Register(q *queue.PayloadQueue, singleton bool) {
	if q == nil {
		panic("dispatch: Register called with a nil queue")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, known := d.queues[q]; known {
		panic("dispatch: queue already registered")
	}

	d.queues[q] = struct{}{}
	d.singleton[q] = singleton

	if token := q.AccessToken(); token != "" {
		b := d.bucketFor(token)
		b.queues = append(b.queues, q)
		d.membership[q] = b
	}

	if s, ok := q.Owner().(subscriber); ok {
		handle := s.Subscribe(d)
		d.unsubscribe[q] = func() { s.Unsubscribe(handle) }
	}
}

// Unregister removes q from the dispatcher. Unregistering a queue that
// belongs to the singleton logger, or one that was never registered, is a
// programmer error and panics, per spec.md §4.2.1 / §7.1.
func (d *Dispatcher) Unregister(q *queue.PayloadQueue) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, known := d.queues[q]; !known {
		panic("dispatch: Unregister called on an unknown queue")
	}
	if d.singleton[q] {
		panic("dispatch: cannot unregister the singleton logger's queue")
	}

	delete(d.queues, q)
	delete(d.singleton, q)
	delete(d.deliveryAttempts, q)
	if b, ok := d.membership[q]; ok {
		d.removeFromBucket(b, q)
		delete(d.membership, q)
	}
	if unsub, ok := d.unsubscribe[q]; ok {
		unsub()
		delete(d.unsubscribe, q)
	}
}

// OnReconfigure implements ReconfigureObserver: it moves q from its current
// bucket to the bucket for its (now current) access token, without losing
// any pending payload. A reconfiguration to the same token is a no-op, and
// so is one delivered for a queue dispatch no longer considers registered —
// Unregister unsubscribes its owner, but a caller holding a stale
// ReconfigureObserver reference (or a racing notification already in
// flight) must not be able to resurrect q into live scheduling.
func (d *Dispatcher) OnReconfigure(q *queue.PayloadQueue, oldToken string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, known := d.queues[q]; !known {
		return
	}

	newToken := q.AccessToken()
	if newToken == oldToken {
		return
	}

	if b, ok := d.membership[q]; ok {
		d.removeFromBucket(b, q)
		delete(d.membership, q)
	}

	if newToken != "" {
		nb := d.bucketFor(newToken)
		nb.queues = append(nb.queues, q)
		d.membership[q] = nb
	}
}

// GetQueuesCount, with no argument, returns the number of registered queues
// currently indexed under some access token (i.e. the sum across every
// bucket). With a non-empty token it returns that bucket's size alone, 0 if
// the token has no bucket.
func (d *Dispatcher) GetQueuesCount(token ...string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(token) > 0 && token[0] != "" {
		if b, ok := d.buckets[token[0]]; ok {
			return len(b.queues)
		}
		return 0
	}

	total := 0
	for _, b := range d.buckets {
		total += len(b.queues)
	}
	return total
}

// bucketFor returns the TokenBucket for token, creating and ordering it on
// first use. Must be called with d.mu held.
func (d *Dispatcher) bucketFor(token string) *tokenBucket {
	b, ok := d.buckets[token]
	if ok {
		return b
	}
	b = &tokenBucket{token: token}
	d.buckets[token] = b
	d.bucketOrder = append(d.bucketOrder, token)
	return b
}

// removeFromBucket removes q from b's member slice and, per this module's
// resolution of spec.md §9's bucket-leak open question (see DESIGN.md),
// evicts the bucket entirely once it has no remaining members instead of
// retaining it for process lifetime. Must be called with d.mu held.
func (d *Dispatcher) removeFromBucket(b *tokenBucket, q *queue.PayloadQueue) {
	if i := b.indexOf(q); i >= 0 {
		b.queues = append(b.queues[:i], b.queues[i+1:]...)
	}
	if len(b.queues) == 0 {
		delete(d.buckets, b.token)
		for i, tok := range d.bucketOrder {
			if tok == b.token {
				d.bucketOrder = append(d.bucketOrder[:i], d.bucketOrder[i+1:]...)
				break
			}
		}
	}
}

// Stop signals the worker to exit after its current tick and waits for it
// to do so, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	select {
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the dispatcher's one background worker: a 250ms-by-default
// ticker loop, mirroring the teacher's scanner/monitorAndScale goroutines in
// daemon.go, released entirely between ticks (no lock held during sleep).
func (d *Dispatcher) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.policy.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick()
		case <-d.stopCh:
			return
		}
	}
}

// tick is one poll cycle: it iterates buckets in registration order, skips
// any whose backoff hasn't elapsed, and services every ready queue in each
// serviceable bucket. A panic anywhere in the tick is recovered and
// resurfaced as a Fault event instead of killing the worker, per spec.md
// §7.4 as redesigned in §9.
func (d *Dispatcher) tick() {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncFaults()
			d.bus.Emit(events.InternalEvent{
				Kind: events.Fault,
				Err:  fmt.Errorf("dispatch: recovered from panic in tick: %v", r),
			})
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clk.Now()
	for _, token := range append([]string(nil), d.bucketOrder...) {
		b, ok := d.buckets[token]
		if !ok {
			continue
		}
		if !b.nextPermittedSendTime.IsZero() && b.nextPermittedSendTime.After(now) {
			continue
		}
		if d.serviceBucket(b) {
			return
		}
	}
}

// serviceBucket drains every ready queue's head in b, in member order.
// Returns true if the tick should halt entirely (a 429 response under
// Policy.HaltTickOn429).
func (d *Dispatcher) serviceBucket(b *tokenBucket) bool {
	for _, q := range append([]*queue.PayloadQueue(nil), b.queues...) {
		if !q.Ready() {
			continue
		}
		if _, ok := q.Peek(); !ok {
			continue
		}
		if d.deliverHead(q, b) {
			return true
		}
	}
	return false
}

// deliverHead invokes the transport on q's head payload, applies the retry
// policy (spec.md §4.2.3) and then the response policy (§4.2.4). Returns
// true if the tick should halt (see serviceBucket).
func (d *Dispatcher) deliverHead(q *queue.PayloadQueue, b *tokenBucket) bool {
	payload, ok := q.Peek()
	if !ok {
		return false
	}
	cfg := q.OwnerConfig()

	attempts := 0
	for {
		resp, err := d.transport.PostAsJSON(context.Background(), payload, cfg.ScrubFields)
		attempts++
		if err == nil {
			d.bus.Emit(events.InternalEvent{Kind: events.Communication, AccessToken: b.token, ErrorCode: resp.Error})
			return d.applyResponsePolicy(q, b, resp)
		}

		kind := transport.Classify(err)
		if kind != transport.Network {
			d.bus.Emit(events.InternalEvent{Kind: events.CommunicationError, AccessToken: b.token, Err: err, RemainingRetries: 0})
			return false
		}

		remaining := d.policy.RetryBudget - attempts
		if remaining < 0 {
			remaining = 0
		}
		d.metrics.IncRetried()
		d.bus.Emit(events.InternalEvent{Kind: events.CommunicationError, AccessToken: b.token, Err: err, RemainingRetries: remaining})

		if attempts > d.policy.RetryBudget {
			return false
		}
	}
}

// applyResponsePolicy implements spec.md §4.2.4 for the decoded response
// against q's current head. Returns true if the tick should halt.
func (d *Dispatcher) applyResponsePolicy(q *queue.PayloadQueue, b *tokenBucket, resp transport.Response) bool {
	switch resp.Error {
	case transport.ErrorOK:
		q.Dequeue()
		d.metrics.IncSent()
		delete(d.deliveryAttempts, q)
		b.nextPermittedSendTime = time.Time{}
		b.backoffLevel = 0
		return false

	case transport.ErrorTooManyRequests:
		b.backoffLevel++
		b.nextPermittedSendTime = d.clk.Now().Add(backoffDelay(d.policy, b.backoffLevel))
		d.metrics.IncAPIErrors()
		d.bus.Emit(events.InternalEvent{Kind: events.ApiError, AccessToken: b.token, ErrorCode: resp.Error})
		return d.policy.HaltTickOn429

	default:
		d.metrics.IncAPIErrors()
		d.bus.Emit(events.InternalEvent{Kind: events.ApiError, AccessToken: b.token, ErrorCode: resp.Error})

		if d.policy.MaxDeliveryAttempts > 0 {
			d.deliveryAttempts[q]++
			if d.deliveryAttempts[q] >= d.policy.MaxDeliveryAttempts {
				q.Dequeue()
				delete(d.deliveryAttempts, q)
				d.metrics.IncDeadLettered()
				d.bus.Emit(events.InternalEvent{Kind: events.DeadLetter, AccessToken: b.token, ErrorCode: resp.Error,
					Err: fmt.Errorf("dispatch: dropping payload after %d delivery attempts", d.policy.MaxDeliveryAttempts)})
			}
		}
		return false
	}
}
