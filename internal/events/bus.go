// Package events implements the dispatch engine's single internal fan-out
// sink. Observers register to be notified of sends, transport failures,
// API errors and worker faults; delivery is synchronous on the caller's
// goroutine, so observers must not block.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Kind identifies the category of an InternalEvent.
type Kind int

const (
	// Communication fires whenever a response is received from the
	// transport, successful or not.
	Communication Kind = iota
	// CommunicationError fires when the transport itself failed
	// (network/argument/other), carrying the remaining retry budget.
	CommunicationError
	// ApiError fires when a response carries a non-zero error code.
	ApiError
	// Fault fires when the dispatcher tick loop recovers from an
	// unexpected panic, so the failure isn't silently swallowed.
	Fault
	// QueueOverflow fires when a bounded queue drops its oldest payload
	// to make room for a newly enqueued one.
	QueueOverflow
	// DeadLetter fires when a payload is dropped after accumulating
	// Policy.MaxDeliveryAttempts non-429 API errors, resolving spec.md
	// §9's poison-payload open question.
	DeadLetter
)

func (k Kind) String() string {
	switch k {
	case Communication:
		return "communication"
	case CommunicationError:
		return "communication_error"
	case ApiError:
		return "api_error"
	case Fault:
		return "fault"
	case QueueOverflow:
		return "queue_overflow"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// InternalEvent is the payload delivered to every registered Observer.
type InternalEvent struct {
	ID               string
	Kind             Kind
	AccessToken      string
	ErrorCode        int
	Err              error
	RemainingRetries int
}

// Observer receives InternalEvents. Implementations must not block or
// re-enter the Bus from within Notify.
type Observer interface {
	Notify(InternalEvent)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(InternalEvent)

func (f ObserverFunc) Notify(e InternalEvent) { f(e) }

// Bus is a thread-safe multi-observer fan-out.
type Bus struct {
	mu        sync.RWMutex
	observers map[int]Observer
	nextID    int
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{observers: make(map[int]Observer)}
}

// Subscribe registers obs and returns a handle for Unsubscribe.
func (b *Bus) Subscribe(obs Observer) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.observers[id] = obs
	return id
}

// Unsubscribe removes a previously registered observer. A no-op if the
// handle is unknown (already unsubscribed).
func (b *Bus) Unsubscribe(handle int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, handle)
}

// Emit fills in a fresh event ID and synchronously notifies every
// registered observer, in registration order is not guaranteed.
func (b *Bus) Emit(e InternalEvent) {
	e.ID = uuid.NewString()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, obs := range b.observers {
		obs.Notify(e)
	}
}

// Len reports the number of registered observers, mainly for tests.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
