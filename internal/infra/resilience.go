// Package infra provides the resilience and caching pieces used by the
// MediaWiki client: a circuit breaker for the API endpoint, coalescing of
// identical in-flight lookups, and a TTL cache.
package infra

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCallPanicked is what waiters receive when the call they joined panicked.
// The panic itself goes to the caller that ran fn.
var ErrCallPanicked = errors.New("deduplicated call panicked")

// Deduplicator coalesces identical in-flight calls. While a call for a key
// is running, later callers with the same key wait for its result instead of
// starting their own.
type Deduplicator[T any] struct {
	mu       sync.Mutex
	inflight map[string]*call[T]
}

type call[T any] struct {
	done    chan struct{}
	result  T
	err     error
	waiters int
}

// NewDeduplicator creates an empty deduplicator
func NewDeduplicator[T any]() *Deduplicator[T] {
	return &Deduplicator[T]{
		inflight: make(map[string]*call[T]),
	}
}

// Do runs fn unless a call with the same key is already running, in which
// case it waits for that call. shared reports whether the result came from
// another caller.
func (d *Deduplicator[T]) Do(ctx context.Context, key string, fn func() (T, error)) (result T, shared bool, err error) {
	d.mu.Lock()
	if c, ok := d.inflight[key]; ok {
		c.waiters++
		d.mu.Unlock()

		select {
		case <-c.done:
			return c.result, true, c.err
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}

	c := &call[T]{done: make(chan struct{}), waiters: 1, err: ErrCallPanicked}
	d.inflight[key] = c
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
		close(c.done)
	}()

	c.result, c.err = fn()
	return c.result, false, c.err
}

// InFlight returns the number of keys currently being fetched
func (d *Deduplicator[T]) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// CircuitBreaker fails fast once the API endpoint has failed repeatedly.
type CircuitBreaker struct {
	mu sync.RWMutex

	failureThreshold int           // consecutive failures before opening
	resetTimeout     time.Duration // wait before probing again
	halfOpenMax      int           // probes allowed while half-open

	state            CircuitState
	consecutiveFails int
	lastFailure      time.Time
	halfOpenCount    int
}

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing fast, rejecting requests
	CircuitHalfOpen                     // Testing if service recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMax      int
}

// DefaultCircuitBreakerConfig opens after 5 exhausted requests and probes again after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      2,
	}
}

// NewCircuitBreaker creates a circuit breaker with the default configuration
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(DefaultCircuitBreakerConfig())
}

// NewCircuitBreakerWithConfig creates a circuit breaker; zero fields fall back to defaults.
func NewCircuitBreakerWithConfig(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenMax:      cfg.HalfOpenMax,
		state:            CircuitClosed,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request, closing a half-open circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.halfOpenCount = 0
	}
}

// RecordFailure records a failed request, potentially opening the circuit
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFails >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.halfOpenCount = 0
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ResetTimeout returns how long the circuit stays open before probing.
func (cb *CircuitBreaker) ResetTimeout() time.Duration {
	return cb.resetTimeout
}

// Stats returns circuit breaker statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitBreakerStats{
		State:            cb.state.String(),
		ConsecutiveFails: cb.consecutiveFails,
		LastFailure:      cb.lastFailure,
	}
}

// CircuitBreakerStats contains circuit breaker statistics
type CircuitBreakerStats struct {
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
}

// ErrCircuitOpen is returned when the circuit breaker is open
type ErrCircuitOpen struct {
	State    string
	RetryAt  time.Time
	Failures int
}

func (e ErrCircuitOpen) Error() string {
	return "circuit breaker is open: wiki API is failing, retry after " + e.RetryAt.Format(time.RFC3339)
}
