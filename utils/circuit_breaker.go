package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned without calling the wrapped function while the
// breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker shields the remote validation endpoint from hammering a
// backend that is already failing. Scan stations run on venue networks that
// drop out; once the API starts failing the station should surface "offline"
// fast instead of stacking up timeouts on every scan.
type CircuitBreaker struct {
	name         string
	maxRequests  uint32
	interval     time.Duration
	timeout      time.Duration
	failureRatio float64

	mutex  sync.Mutex
	state  BreakerState
	counts breakerCounts
	expiry time.Time
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

type breakerCounts struct {
	requests            uint32
	totalFailures       uint32
	consecutiveFailures uint32
}

// NewCircuitBreaker returns a breaker tuned for the scan endpoint: trip when
// 60% of at least 10 requests in a minute fail, probe again after 30s.
func NewCircuitBreaker(name string) *CircuitBreaker {
	interval := 60 * time.Second
	return &CircuitBreaker{
		name:         name,
		maxRequests:  10,
		interval:     interval,
		timeout:      30 * time.Second,
		failureRatio: 0.6,
		state:        BreakerClosed,
		// The rolling window starts now, not at the first trip; otherwise
		// the failure ratio accumulates over the process lifetime.
		expiry: time.Now().Add(interval),
	}
}

// Execute runs fn unless the breaker is open. Only fn's error outcome feeds
// the breaker; ctx is passed through untouched.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.currentState(time.Now())
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state := cb.currentState(time.Now())
	if state == BreakerOpen {
		return ErrBreakerOpen
	}
	if state == BreakerHalfOpen && cb.counts.requests >= 1 {
		// One probe at a time while half open.
		return ErrBreakerOpen
	}

	cb.counts.requests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state := cb.currentState(time.Now())
	if success {
		cb.counts.consecutiveFailures = 0
		if state == BreakerHalfOpen {
			cb.state = BreakerClosed
			cb.reset(time.Now())
		}
		return
	}

	cb.counts.totalFailures++
	cb.counts.consecutiveFailures++
	if state == BreakerHalfOpen || cb.readyToTrip() {
		cb.state = BreakerOpen
		cb.expiry = time.Now().Add(cb.timeout)
		cb.counts = breakerCounts{}
	}
}

func (cb *CircuitBreaker) readyToTrip() bool {
	return cb.counts.requests >= cb.maxRequests &&
		float64(cb.counts.totalFailures)/float64(cb.counts.requests) >= cb.failureRatio
}

func (cb *CircuitBreaker) currentState(now time.Time) BreakerState {
	switch cb.state {
	case BreakerClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.reset(now)
		}
	case BreakerOpen:
		if cb.expiry.Before(now) {
			cb.state = BreakerHalfOpen
			cb.counts = breakerCounts{}
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) reset(now time.Time) {
	cb.counts = breakerCounts{}
	cb.expiry = now.Add(cb.interval)
}
