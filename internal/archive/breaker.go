package archive

import (
	"sync"
	"time"
)

// Breaker stops archive writes for a while after repeated failures so a dead
// database does not hold up every flush with a full retry cycle
type Breaker struct {
	failures    int
	lastFailure time.Time
	threshold   int
	cooldown    time.Duration
	now         func() time.Time
	mu          sync.Mutex
}

// NewBreaker opens after threshold consecutive failures and stays open for cooldown
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a write may be attempted
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return true
	}
	if b.now().Sub(b.lastFailure) >= b.cooldown {
		// half-open: let one attempt through, a failure reopens immediately
		b.failures = b.threshold - 1
		return true
	}
	return false
}

// Success closes the breaker
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure records a failed write
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
}
