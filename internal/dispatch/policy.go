package dispatch

import (
	"math"
	"time"
)

// Policy exposes the two literal-port ambiguities spec.md §9 flags as
// explicit, documented configuration instead of hard-coded behavior, plus
// the operational knobs needed to run the service loop.
type Policy struct {
	// PollInterval is the worker's tick period. spec.md §4.2.2 specifies
	// 250ms.
	PollInterval time.Duration
	// RetryBudget is the number of network-class retries attempted
	// per payload per tick before giving up, spec.md §4.2.3's "initial 3".
	RetryBudget int
	// BackoffBase and BackoffMultiplier compute the delay applied to a
	// bucket after a 429 response: BackoffBase * BackoffMultiplier^(level-1),
	// capped at BackoffCap.
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffCap        time.Duration
	// HaltTickOn429, per spec.md §4.2.4, stops servicing every other
	// bucket for the remainder of the current tick once any bucket hits a
	// 429. Default true preserves the literal spec behavior; set false to
	// let other tokens keep making progress under one token's throttling.
	HaltTickOn429 bool
	// MaxDeliveryAttempts bounds how many non-429 API-error responses a
	// single head payload may accumulate before it is dropped as a dead
	// letter and a DeadLetter event is emitted, resolving spec.md §9's
	// "poison payload" open question. 0 means unbounded (infinite retry,
	// the literal spec behavior).
	MaxDeliveryAttempts int
}

// DefaultPolicy returns the policy spec.md describes literally: a 250ms
// poll, a 3-retry network budget, exponential backoff capped at a minute,
// the global 429 halt preserved, and unbounded poison-payload retry.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:        250 * time.Millisecond,
		RetryBudget:         3,
		BackoffBase:         1 * time.Second,
		BackoffMultiplier:   2.0,
		BackoffCap:          60 * time.Second,
		HaltTickOn429:       true,
		MaxDeliveryAttempts: 0,
	}
}

// backoffDelay computes the capped exponential delay for the given
// post-increment backoff level. level <= 0 yields no delay.
func backoffDelay(p Policy, level int) time.Duration {
	if level <= 0 {
		return 0
	}
	base := p.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(base) * math.Pow(mult, float64(level-1))
	if p.BackoffCap > 0 && d > float64(p.BackoffCap) {
		d = float64(p.BackoffCap)
	}
	return time.Duration(d)
}
