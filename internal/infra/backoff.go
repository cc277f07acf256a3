package infra

import (
	"time"
)

// Backoff computes capped exponential retry delays: Base * 2^retry, never
// more than Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used for feed reconnects.
var DefaultBackoff = Backoff{Base: 1 * time.Second, Max: 60 * time.Second}

// Delay returns the wait before retry number retryCount (0-based).
// A negative count yields Base.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return b.Base
	}
	// 2^30 * 1ns already exceeds any sane cap; avoid shift overflow.
	if retryCount > 30 {
		return b.Max
	}

	d := b.Base << uint(retryCount)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}
