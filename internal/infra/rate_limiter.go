package infra

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket. Safe for concurrent use.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a bucket holding burst tokens that refills at
// perSecond tokens per second.
func NewRateLimiter(burst int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available.
func (r *RateLimiter) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	for r.tokens < 1 {
		wait := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()
		time.Sleep(wait)
		r.mu.Lock()
		r.refill()
	}
	r.tokens--
}

// TryAcquire takes a token if one is available.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// refill adds tokens for the elapsed time. Must be called with mu held.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}

// full reports whether the bucket has refilled completely.
func (r *RateLimiter) full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens >= r.maxTokens
}

// KeyedRateLimiter keeps one bucket per key (e.g. client address).
type KeyedRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*RateLimiter
	burst     int
	perSecond float64
}

func NewKeyedRateLimiter(burst int, perSecond float64) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		buckets:   make(map[string]*RateLimiter),
		burst:     burst,
		perSecond: perSecond,
	}
}

// Allow takes a token from key's bucket.
func (k *KeyedRateLimiter) Allow(key string) bool {
	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = NewRateLimiter(k.burst, k.perSecond)
		k.buckets[key] = b
	}
	k.mu.Unlock()
	return b.TryAcquire()
}

// Prune drops buckets that have refilled completely; they carry no state.
func (k *KeyedRateLimiter) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	n := 0
	for key, b := range k.buckets {
		if b.full() {
			delete(k.buckets, key)
			n++
		}
	}
	return n
}
