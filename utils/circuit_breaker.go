package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the callback while the breaker
// is rejecting traffic.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker shields an upstream API from hammering while it is down.
// Closed passes everything through and counts outcomes per interval; too
// high a failure ratio opens the breaker for timeout, after which a limited
// half-open probe decides whether to close again.
type CircuitBreaker struct {
	name         string
	maxRequests  uint32
	interval     time.Duration
	timeout      time.Duration
	failureRatio float64
	minRequests  uint32

	mutex  sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

type Counts struct {
	Requests       uint32
	TotalSuccesses uint32
	TotalFailures  uint32
}

func NewCircuitBreaker(name string) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxRequests:  5,
		interval:     60 * time.Second,
		timeout:      30 * time.Second,
		failureRatio: 0.6,
		minRequests:  10,
		state:        StateClosed,
	}
}

// Execute runs req under the breaker. A rejected call returns ErrCircuitOpen
// with the breaker's name attached; a panic in req counts as a failure and
// re-panics.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return fmt.Errorf("%s: %w", cb.name, err)
	}

	defer func() {
		if e := recover(); e != nil {
			cb.afterRequest(false)
			panic(e)
		}
	}()

	err := req(ctx)
	cb.afterRequest(err == nil)
	return err
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.currentState(time.Now())
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.currentState(time.Now()) {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.maxRequests {
			return ErrCircuitOpen
		}
	}

	cb.counts.Requests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state := cb.currentState(time.Now())
	if success {
		cb.counts.TotalSuccesses++
		if state == StateHalfOpen {
			cb.reset(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	if state == StateHalfOpen || cb.readyToTrip() {
		cb.state = StateOpen
		cb.expiry = time.Now().Add(cb.timeout)
		cb.counts = Counts{}
	}
}

func (cb *CircuitBreaker) readyToTrip() bool {
	return cb.counts.Requests >= cb.minRequests &&
		float64(cb.counts.TotalFailures)/float64(cb.counts.Requests) >= cb.failureRatio
}

// currentState advances interval and timeout transitions lazily. Callers hold
// the mutex.
func (cb *CircuitBreaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.reset(StateClosed)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.reset(StateHalfOpen)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) reset(state State) {
	cb.state = state
	cb.counts = Counts{}
	if state == StateClosed {
		cb.expiry = time.Now().Add(cb.interval)
	} else {
		cb.expiry = time.Time{}
	}
}
