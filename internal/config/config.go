// Package config defines the per-logger configuration the dispatch engine
// reads.
package config

// Config is the subset of a logger's configuration the dispatch engine
// cares about. Field construction and validation beyond what the core
// reads (JSON body shape, scrubbing logic, environment plumbing) is an
// external concern.
type Config struct {
	// AccessToken identifies the destination project and is the
	// rate-limit grouping key (TokenBucket membership).
	AccessToken string
	// Environment is opaque to the core; forwarded nowhere by it, kept
	// only so callers can thread it through to payload construction.
	Environment string
	// MaxReportsPerMinute bounds how often a single queue's head may be
	// dequeued. Must be positive; the queue derives its dequeue interval
	// as 60s / MaxReportsPerMinute.
	MaxReportsPerMinute int
	// ScrubFields is forwarded verbatim to the transport; the core never
	// inspects it.
	ScrubFields []string
	// MaxQueueDepth bounds the queue's FIFO; 0 means unbounded. Hardening
	// beyond the literal spec: overflow drops the oldest payload and
	// emits a QueueOverflow event rather than growing without bound.
	MaxQueueDepth int
}
