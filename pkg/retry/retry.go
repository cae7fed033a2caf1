// Package retry runs store and transport operations with bounded exponential
// backoff. The conductor uses it for natural-key races in the KV store, for
// the initial broker connection and for worker callbacks.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Permanent marks an error that must end the retry loop at once.
type Permanent struct {
	Err error
}

func (e *Permanent) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *Permanent) Unwrap() error {
	return e.Err
}

// Stop wraps err so Do returns it without further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// IsPermanent reports whether err was marked with Stop.
func IsPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// Policy controls attempts and backoff.
type Policy struct {
	Attempts int           // total attempts, at least one
	Base     time.Duration // delay before the second attempt
	Cap      time.Duration // upper bound for any delay
	Factor   float64       // delay growth per attempt
	Jitter   bool          // add up to 25% random delay

	// RetryIf, when set, decides which errors are worth another attempt.
	// Errors it rejects are returned unwrapped.
	RetryIf func(error) bool
}

// Default suits ordinary store and broker calls.
func Default() Policy {
	return Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: 5 * time.Second, Factor: 2, Jitter: true}
}

// Race suits index/record races: many short attempts, almost no wait.
func Race() Policy {
	return Policy{Attempts: 8, Base: 5 * time.Millisecond, Cap: 100 * time.Millisecond, Factor: 2, Jitter: true}
}

// Connect suits process startup against a broker or database.
func Connect() Policy {
	return Policy{Attempts: 20, Base: 250 * time.Millisecond, Cap: 10 * time.Second, Factor: 2, Jitter: true}
}

func (p Policy) normalize() (Policy, error) {
	if p.Base < 0 || p.Cap < 0 || p.Factor < 0 {
		return p, errors.New("retry: negative policy value")
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Base == 0 {
		p.Base = 100 * time.Millisecond
	}
	if p.Cap == 0 {
		p.Cap = 5 * time.Second
	}
	if p.Factor == 0 {
		p.Factor = 2
	}
	if p.Factor > 1000 {
		p.Factor = 1000
	}
	if p.Cap < p.Base {
		return p, errors.New("retry: Cap must be >= Base")
	}
	return p, nil
}

func (p Policy) wait(delay time.Duration) time.Duration {
	if !p.Jitter || delay < 4 {
		return delay
	}
	randMu.Lock()
	extra := time.Duration(randSource.Int63n(int64(delay / 4)))
	randMu.Unlock()
	return delay + extra
}

// Do calls fn until it succeeds, the policy is exhausted, fn returns a
// permanent error, or ctx is done.
func Do(ctx context.Context, p Policy, fn func() error) error {
	p, err := p.normalize()
	if err != nil {
		return err
	}

	var last error
	delay := p.Base
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		last = fn()
		if last == nil {
			return nil
		}
		if IsPermanent(last) {
			return last
		}
		if p.RetryIf != nil && !p.RetryIf(last) {
			return last
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == p.Attempts {
			break
		}

		timer := time.NewTimer(p.wait(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		next := time.Duration(float64(delay) * p.Factor)
		if next > p.Cap || next <= 0 {
			next = p.Cap
		}
		delay = next
	}

	return fmt.Errorf("retry failed after %d attempts: %w", p.Attempts, last)
}

// Value is Do for functions that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
