// Package testutils provides shared test doubles for the dispatch engine,
// the same purpose the teacher's testutils package served for the
// file-tailing daemon, retargeted from log-batch mocks to
// transport/observer mocks.
package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flarelog/goclient/internal/events"
	"github.com/flarelog/goclient/internal/transport"
)

// MockTransport is a scriptable transport.Transport: it can be told to
// return a canned Response, fail with a classified error a fixed number of
// times before succeeding, or simulate latency.
type MockTransport struct {
	mu sync.Mutex

	// Responses, if non-empty, is consumed in FIFO order: each PostAsJSON
	// call returns the next entry. The last entry repeats once exhausted.
	Responses []transport.Response

	// FailTimes causes the first FailTimes calls to fail with FailKind
	// before any Responses are returned.
	FailTimes int
	FailKind  transport.Kind

	Delay time.Duration

	calls int
	posted [][]byte
}

// NewMockTransport returns a MockTransport that always answers with a
// success response until reconfigured.
func NewMockTransport() *MockTransport {
	return &MockTransport{Responses: []transport.Response{{Error: transport.ErrorOK}}}
}

func (m *MockTransport) PostAsJSON(ctx context.Context, payload []byte, scrubFields []string) (transport.Response, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.posted = append(m.posted, payload)

	if m.calls <= m.FailTimes {
		err := fmt.Errorf("mock transport: simulated failure %d/%d", m.calls, m.FailTimes)
		switch m.FailKind {
		case transport.Argument:
			return transport.Response{}, transport.ArgumentError(err)
		case transport.Other:
			return transport.Response{}, transport.OtherError(err)
		default:
			return transport.Response{}, transport.NetworkError(err)
		}
	}

	if len(m.Responses) == 0 {
		return transport.Response{Error: transport.ErrorOK}, nil
	}
	idx := m.calls - m.FailTimes - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// Calls reports how many times PostAsJSON has been invoked.
func (m *MockTransport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Posted returns every payload handed to PostAsJSON, in call order.
func (m *MockTransport) Posted() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.posted))
	copy(out, m.posted)
	return out
}

// SetResponse atomically replaces the canned response sequence with a
// single repeating response, letting a test flip behavior mid-run (e.g.
// from 429 to success once backoff has been observed).
func (m *MockTransport) SetResponse(r transport.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = []transport.Response{r}
	m.FailTimes = 0
}

// RecordingObserver collects every InternalEvent delivered to it, safe for
// concurrent use since Bus.Emit calls Notify synchronously from the
// dispatcher's worker goroutine while tests read from another goroutine.
type RecordingObserver struct {
	mu     sync.Mutex
	events []events.InternalEvent
}

func (r *RecordingObserver) Notify(e events.InternalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a snapshot of every event recorded so far.
func (r *RecordingObserver) Events() []events.InternalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.InternalEvent, len(r.events))
	copy(out, r.events)
	return out
}

// CountKind returns how many recorded events match kind.
func (r *RecordingObserver) CountKind(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
