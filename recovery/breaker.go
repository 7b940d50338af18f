package recovery

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

// Circuit breaker states.
const (
	Closed   BreakerState = iota // Normal operation
	Open                         // Failing; reject calls without attempting them
	HalfOpen                     // Timeout elapsed; one trial call permitted
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig defines circuit breaker behavior.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	Timeout          time.Duration // Wait before permitting a trial call

	// OnStateChange, when set, is invoked synchronously on every state
	// transition. Used to export breaker state as a metric.
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerConfig matches the worker's default protection for backend calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Timeout: 60 * time.Second}
}

// ErrBreakerOpen is returned by Do while the breaker rejects calls.
type ErrBreakerOpen struct {
	State BreakerState
}

func (e *ErrBreakerOpen) Error() string {
	return fmt.Sprintf("circuit breaker is %s - service unavailable", e.State)
}

// Breaker is an in-memory circuit breaker wrapping a volatile shared
// dependency. State is deliberately not persisted: failure history is a
// liveness signal and resets on process restart. Construct one per protected
// dependency and inject it; there is no package-level instance.
type Breaker struct {
	config BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
}

// NewBreaker creates a circuit breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultBreakerConfig().Timeout
	}
	return &Breaker{config: config, state: Closed}
}

// Allow reports whether a call may proceed, transitioning Open to HalfOpen
// once the timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if time.Since(b.lastFailureTime) >= b.config.Timeout {
			b.setState(HalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// Record feeds the result of a permitted call back into the breaker. A
// success fully resets it; a failure in HalfOpen reopens it with a refreshed
// failure time.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.setState(Closed)
		b.failureCount = 0
		return
	}

	b.failureCount++
	b.lastFailureTime = time.Now()
	switch b.state {
	case Closed:
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(Open)
		}
	case HalfOpen:
		b.setState(Open)
	}
}

// setState transitions the breaker, firing the state-change hook. Callers
// hold b.mu.
func (b *Breaker) setState(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(prev, next)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset manually returns the breaker to the closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(Closed)
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

// Do executes fn under breaker protection: it fails fast with *ErrBreakerOpen
// when calls are rejected, and records the call result otherwise.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return &ErrBreakerOpen{State: b.State()}
	}
	err := fn()
	b.Record(err == nil)
	return err
}
