// Package circuitbreaker provides a defensive gate that stops admitting new distribution work
// after repeated failures and probes for recovery once a reset delay has elapsed.
package circuitbreaker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new operations allowed
	StateHalfOpen              // Testing if system has recovered
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

// MarshalJSON renders the state by name
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Snapshot is a point-in-time view of the breaker
type Snapshot struct {
	State           State      `json:"state"`
	FailureCount    int        `json:"failureCount"`
	Threshold       int        `json:"threshold"`
	ResetDelay      string     `json:"resetDelay"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
}

// CircuitBreaker implements the closed/open/half-open pattern over an accumulated failure count.
type CircuitBreaker struct {
	// Current state of the circuit breaker (Closed, Open, HalfOpen)
	state State

	// Failures recorded since the last success
	failureCount int

	// Failures needed to trip the circuit
	threshold int

	// Timestamp of the most recent recorded failure
	lastFailure time.Time

	// Duration before a half-open probe is allowed
	resetDelay time.Duration

	mu sync.RWMutex

	now func() time.Time

	// Event callbacks for monitoring/alerting
	onTripCallback  func(failures int)
	onResetCallback func()
}

// New creates a closed CircuitBreaker that trips after threshold failures
func New(threshold int) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		state:      StateClosed,
		threshold:  threshold,
		resetDelay: 30 * time.Second,
		now:        time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithClock replaces the time source, mainly for tests
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(failures int)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithResetCallback sets a callback called when the circuit returns to closed
func (cb *CircuitBreaker) WithResetCallback(callback func()) *CircuitBreaker {
	cb.onResetCallback = callback
	return cb
}

// CanExecute reports whether new work may be admitted.
// It only mutates state on the open -> half-open transition.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailure
	cb.mu.RUnlock()

	switch state {
	case StateClosed, StateHalfOpen:
		return true
	}

	if cb.now().Sub(lastFailure) >= cb.resetDelay {
		cb.transitionToHalfOpen()
		return true
	}
	return false
}

// RecordSuccess resets the failure counter and closes a half-open circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	wasHalfOpen := cb.state == StateHalfOpen
	cb.failureCount = 0
	if wasHalfOpen {
		cb.state = StateClosed
	}
	cb.mu.Unlock()

	if wasHalfOpen {
		logrus.Info("Circuit breaker closed: system has recovered")
		if cb.onResetCallback != nil {
			go cb.onResetCallback()
		}
	}
}

// RecordFailure counts a failure and trips the circuit when the threshold is reached.
// A failure while half-open re-opens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	tripped := false
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failureCount >= cb.threshold) {
		cb.state = StateOpen
		tripped = true
	}
	failures := cb.failureCount
	cb.mu.Unlock()

	if tripped {
		logrus.Warnf("Circuit breaker tripped after %d failures", failures)
		if cb.onTripCallback != nil {
			go cb.onTripCallback(failures)
		}
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// FailureCount returns the failures recorded since the last success or reset
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failureCount
}

// Snapshot returns the breaker state for status endpoints
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	s := Snapshot{
		State:        cb.state,
		FailureCount: cb.failureCount,
		Threshold:    cb.threshold,
		ResetDelay:   cb.resetDelay.String(),
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		s.LastFailureTime = &t
	}
	return s
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.lastFailure = time.Time{}
	cb.mu.Unlock()
	logrus.Info("Circuit breaker manually reset to closed state")
	if cb.onResetCallback != nil {
		go cb.onResetCallback()
	}
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		logrus.Info("Circuit breaker half-open: testing system recovery")
	}
}
