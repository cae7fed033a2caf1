package natsclient

import (
	"sync"
	"time"
)

// breaker fails connection attempts fast after repeated failures. Once the
// open window passes one attempt is let through; its failure reopens the
// breaker with twice the window.
type breaker struct {
	mu         sync.Mutex
	threshold  int
	baseWait   time.Duration
	maxWait    time.Duration
	now        func() time.Time
	failures   int
	total      int
	wait       time.Duration
	openUntil  time.Time
	halfOpen   bool
	lastFailed time.Time
}

func newBreaker(threshold int, maxWait time.Duration) *breaker {
	b := &breaker{now: time.Now}
	b.configure(threshold, maxWait)
	return b
}

func (b *breaker) configure(threshold int, maxWait time.Duration) {
	if threshold < 1 {
		threshold = 5
	}
	if maxWait < time.Second {
		maxWait = time.Minute
	}
	b.threshold = threshold
	b.baseWait = time.Second
	b.maxWait = maxWait
	b.wait = b.baseWait
}

// allow reports whether an attempt may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if b.now().Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.halfOpen = true
	return true
}

// open reports whether attempts are currently refused.
func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && b.now().Before(b.openUntil)
}

// failure records a failed attempt and returns the open window when the
// breaker trips, zero otherwise.
func (b *breaker) failure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++
	b.lastFailed = b.now()

	if b.halfOpen {
		b.halfOpen = false
		b.wait = min(b.wait*2, b.maxWait)
		b.openUntil = b.now().Add(b.wait)
		return b.wait
	}
	b.failures++
	if b.failures < b.threshold {
		return 0
	}
	b.failures = 0
	b.openUntil = b.now().Add(b.wait)
	return b.wait
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.total = 0
	b.wait = b.baseWait
	b.openUntil = time.Time{}
	b.halfOpen = false
}

func (b *breaker) stats() (total int, window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.wait
}
