// Package metrics tracks process-wide dispatch engine counters, the same
// lock-protected-counters-plus-Snapshot shape as the teacher's
// LogDaemonMetrics, retargeted from file-tailing stats to payload delivery
// stats.
package metrics

import "sync"

// Metrics accumulates counts across the lifetime of a Dispatcher. All
// methods are safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	enqueued        int
	sent            int
	droppedOverflow int
	deadLettered    int
	retried         int
	apiErrors       int
	faults          int
}

// Stamp is an immutable snapshot of Metrics at a point in time.
type Stamp struct {
	Enqueued        int
	Sent            int
	DroppedOverflow int
	DeadLettered    int
	Retried         int
	APIErrors       int
	Faults          int
}

func (m *Metrics) IncEnqueued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued++
}

func (m *Metrics) IncSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *Metrics) IncDroppedOverflow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedOverflow++
}

func (m *Metrics) IncDeadLettered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLettered++
}

func (m *Metrics) IncRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

func (m *Metrics) IncAPIErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiErrors++
}

func (m *Metrics) IncFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults++
}

// Snapshot returns a consistent point-in-time copy of all counters.
func (m *Metrics) Snapshot() Stamp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stamp{
		Enqueued:        m.enqueued,
		Sent:            m.sent,
		DroppedOverflow: m.droppedOverflow,
		DeadLettered:    m.deadLettered,
		Retried:         m.retried,
		APIErrors:       m.apiErrors,
		Faults:          m.faults,
	}
}
