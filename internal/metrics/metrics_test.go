package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_BasicOperations(t *testing.T) {
	m := &Metrics{}

	m.IncEnqueued()
	m.IncSent()
	m.IncDroppedOverflow()
	m.IncRetried()
	m.IncAPIErrors()
	m.IncFaults()

	stamp := m.Snapshot()
	assert.Equal(t, 1, stamp.Enqueued)
	assert.Equal(t, 1, stamp.Sent)
	assert.Equal(t, 1, stamp.DroppedOverflow)
	assert.Equal(t, 1, stamp.Retried)
	assert.Equal(t, 1, stamp.APIErrors)
	assert.Equal(t, 1, stamp.Faults)
}

func TestMetrics_ConcurrentUpdates(t *testing.T) {
	m := &Metrics{}

	var wg sync.WaitGroup
	inc := func(fn func()) {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			fn()
		}
	}

	wg.Add(5)
	go inc(m.IncEnqueued)
	go inc(m.IncSent)
	go inc(m.IncDroppedOverflow)
	go inc(m.IncRetried)
	go inc(m.IncAPIErrors)
	wg.Wait()

	stamp := m.Snapshot()
	assert.Equal(t, 1000, stamp.Enqueued)
	assert.Equal(t, 1000, stamp.Sent)
	assert.Equal(t, 1000, stamp.DroppedOverflow)
	assert.Equal(t, 1000, stamp.Retried)
	assert.Equal(t, 1000, stamp.APIErrors)
}
