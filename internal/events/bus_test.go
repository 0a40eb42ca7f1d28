package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_SubscribeEmitUnsubscribe(t *testing.T) {
	b := NewBus()

	var mu sync.Mutex
	var received []InternalEvent
	handle := b.Subscribe(ObserverFunc(func(e InternalEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	}))
	assert.Equal(t, 1, b.Len())

	b.Emit(InternalEvent{Kind: Communication, AccessToken: "T1"})

	mu.Lock()
	assert.Len(t, received, 1)
	assert.Equal(t, Communication, received[0].Kind)
	assert.NotEmpty(t, received[0].ID)
	mu.Unlock()

	b.Unsubscribe(handle)
	assert.Equal(t, 0, b.Len())

	b.Emit(InternalEvent{Kind: ApiError})
	mu.Lock()
	assert.Len(t, received, 1)
	mu.Unlock()
}

func TestBus_MultipleObservers(t *testing.T) {
	b := NewBus()

	var count1, count2 int
	var mu sync.Mutex
	b.Subscribe(ObserverFunc(func(InternalEvent) {
		mu.Lock()
		count1++
		mu.Unlock()
	}))
	b.Subscribe(ObserverFunc(func(InternalEvent) {
		mu.Lock()
		count2++
		mu.Unlock()
	}))

	b.Emit(InternalEvent{Kind: Fault})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "communication", Communication.String())
	assert.Equal(t, "communication_error", CommunicationError.String())
	assert.Equal(t, "api_error", ApiError.String())
	assert.Equal(t, "fault", Fault.String())
	assert.Equal(t, "queue_overflow", QueueOverflow.String())
	assert.Equal(t, "dead_letter", DeadLetter.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
