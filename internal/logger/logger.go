// Package logger implements the minimal owning object a PayloadQueue needs:
// something that holds the current Config, accepts Enqueue calls from
// application code, and notifies the dispatcher when it is reconfigured.
// The user-facing Log/Error surface spec.md keeps out of scope for the core
// is not built here; this is the connective tissue the dispatch engine
// actually depends on.
package logger

import (
	"fmt"
	"sync"

	"github.com/flarelog/goclient/internal/clock"
	"github.com/flarelog/goclient/internal/config"
	"github.com/flarelog/goclient/internal/dispatch"
	"github.com/flarelog/goclient/internal/events"
	"github.com/flarelog/goclient/internal/queue"
)

// Logger is the per-reporting-destination owner of one PayloadQueue. It is
// intentionally minimal: field construction, scrubbing, and JSON encoding
// of the caller's error payload are external concerns (spec.md §1).
type Logger struct {
	mu             sync.Mutex
	cfg            config.Config
	queue          *queue.PayloadQueue
	dispatcher     *dispatch.Dispatcher
	observers      map[int]dispatch.ReconfigureObserver
	nextObserverID int
	isSingleton    bool
	closed         bool
}

// New creates a Logger with cfg, builds its PayloadQueue, and registers it
// with d. A Logger built with singleton=true can never be Close()d — it
// backs the library's single process-wide default logger (spec.md §3's
// "Singleton-logger queues must not be unregistered" configuration
// invariant).
func New(d *dispatch.Dispatcher, cfg config.Config, singleton bool) *Logger {
	return newLogger(d, cfg, singleton, clock.Real{})
}

// newLogger is the clock-injectable constructor tests use.
func newLogger(d *dispatch.Dispatcher, cfg config.Config, singleton bool, clk clock.Clock) *Logger {
	l := &Logger{cfg: cfg, dispatcher: d, isSingleton: singleton, observers: make(map[int]dispatch.ReconfigureObserver)}
	l.queue = queue.New(l, clk, l.onOverflow)
	d.Register(l.queue, singleton)
	return l
}

// Config implements queue.ConfigProvider.
func (l *Logger) Config() config.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Subscribe registers obs to be notified whenever this logger is
// reconfigured, and returns a handle for Unsubscribe. The Dispatcher calls
// this from Register if the logger's queue's owner supports it (it always
// does) and calls Unsubscribe with the returned handle from Unregister;
// application code has no reason to call either directly.
func (l *Logger) Subscribe(obs dispatch.ReconfigureObserver) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextObserverID
	l.nextObserverID++
	l.observers[id] = obs
	return id
}

// Unsubscribe removes a previously registered observer. A no-op if handle
// is unknown.
func (l *Logger) Unsubscribe(handle int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.observers, handle)
}

// Reconfigure replaces the logger's Config and synchronously notifies every
// subscribed observer of the token change, per spec.md §4.2.1's "On logger
// reconfiguration" path. A reconfiguration that keeps the same access token
// is still delivered to observers, which treat it as a no-op (see
// Dispatcher.OnReconfigure).
func (l *Logger) Reconfigure(cfg config.Config) {
	l.mu.Lock()
	oldToken := l.cfg.AccessToken
	l.cfg = cfg
	observers := make([]dispatch.ReconfigureObserver, 0, len(l.observers))
	for _, obs := range l.observers {
		observers = append(observers, obs)
	}
	l.mu.Unlock()

	for _, obs := range observers {
		obs.OnReconfigure(l.queue, oldToken)
	}
}

// Enqueue hands payload to the logger's queue for asynchronous delivery.
// payload must be non-empty.
func (l *Logger) Enqueue(payload []byte) {
	l.queue.Enqueue(payload)
	l.dispatcher.Metrics().IncEnqueued()
}

// QueueLen reports how many payloads are currently pending in this
// logger's queue.
func (l *Logger) QueueLen() int { return l.queue.Len() }

// Queue exposes the underlying PayloadQueue, mainly for tests that want to
// drive the dispatcher directly against a known queue.
func (l *Logger) Queue() *queue.PayloadQueue { return l.queue }

// Close unregisters the logger's queue from its dispatcher. Closing the
// singleton logger is a programmer error and panics, matching
// Dispatcher.Unregister's own assertion.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("logger: already closed")
	}
	l.closed = true
	l.mu.Unlock()

	l.dispatcher.Unregister(l.queue)
	return nil
}

// onOverflow is wired into the queue's overflow hook: a dropped-oldest
// event is surfaced on the dispatcher's bus and counted, per spec.md §5's
// "expected hardening, not a deviation" for bounded queues.
func (l *Logger) onOverflow() {
	l.dispatcher.Metrics().IncDroppedOverflow()
	l.dispatcher.EventBus().Emit(events.InternalEvent{
		Kind:        events.QueueOverflow,
		AccessToken: l.Config().AccessToken,
	})
}
