// Package circuitbreaker guards calls to external collaborators (the Redis
// repeater store) so a dead backend degrades lookups instead of stalling
// frame processing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpenState is returned while the breaker is rejecting calls.
var ErrOpenState = errors.New("circuit breaker is open")

// State represents the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a count-based circuit breaker: it opens when the failure ratio
// over a rolling interval crosses the threshold, waits out a timeout, then
// probes with a half-open call.
type Breaker struct {
	mu           sync.RWMutex
	state        State
	failures     uint32
	requests     uint32
	nextAttempt  time.Time
	threshold    uint32
	failureRatio float64
	timeout      time.Duration
	interval     time.Duration
	lastReset    time.Time
}

func New(threshold uint32, failureRatio float64, timeout time.Duration) *Breaker {
	return &Breaker{
		state:        StateClosed,
		threshold:    threshold,
		failureRatio: failureRatio,
		timeout:      timeout,
		interval:     60 * time.Second,
		lastReset:    time.Now(),
	}
}

// Execute runs fn if the breaker allows it and records the result.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrOpenState
	}
	err := fn()
	b.recordResult(err == nil)
	return err
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.lastReset) > b.interval {
		b.failures = 0
		b.requests = 0
		b.lastReset = now
		if b.state == StateClosed {
			return true
		}
	}

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.After(b.nextAttempt) {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return false
}

func (b *Breaker) recordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	if !success {
		b.failures++
	}

	now := time.Now()
	switch b.state {
	case StateClosed:
		if b.requests >= b.threshold {
			if float64(b.failures)/float64(b.requests) >= b.failureRatio {
				b.state = StateOpen
				b.nextAttempt = now.Add(b.timeout)
			}
		}
	case StateHalfOpen:
		if success {
			b.state = StateClosed
			b.failures = 0
			b.requests = 0
			b.lastReset = now
		} else {
			b.state = StateOpen
			b.nextAttempt = now.Add(b.timeout)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Counts returns the request/failure counts for the current interval.
func (b *Breaker) Counts() (requests, failures uint32) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.requests, b.failures
}
