package engine

import (
	"sync"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting attempts
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed attempts before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial attempts allowed in half-open state.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig returns the configuration used by the CLI.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	Key                 string       `json:"key"`
	State               CircuitState `json:"-"`
	StateName           string       `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	FailureThreshold    int          `json:"failure_threshold"`
	Cooldown            string       `json:"cooldown"`
}

type circuitBreaker struct {
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
}

// CircuitBreakerRegistry keeps one breaker per key. The engine keys breakers by
// step name, so a registry shared across runs of the same workflow stops
// hammering a dependency that keeps failing.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewCircuitBreakerRegistry creates a new registry with the given config.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
		now:      time.Now,
	}
}

// AllowRequest returns nil when an attempt for key may proceed, or a
// CIRCUIT_OPEN error when the breaker is rejecting attempts.
func (r *CircuitBreakerRegistry) AllowRequest(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb := r.getOrCreate(key)
	r.refresh(cb)

	switch cb.state {
	case CircuitOpen:
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit breaker open after %d consecutive failures", cb.consecutiveFailures).
			WithStep(key).
			WithDetails(map[string]any{
				"consecutive_failures": cb.consecutiveFailures,
				"cooldown_remaining":   (r.config.Cooldown - r.now().Sub(cb.lastFailure)).String(),
			})
	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= r.config.HalfOpenMax {
			return schema.NewError(schema.ErrCodeCircuitOpen, "circuit breaker half-open: trial attempts exhausted").WithStep(key)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// RecordSuccess closes the breaker for key.
func (r *CircuitBreakerRegistry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb := r.getOrCreate(key)
	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failed attempt for key and returns the resulting state.
func (r *CircuitBreakerRegistry) RecordFailure(key string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb := r.getOrCreate(key)
	cb.consecutiveFailures++
	cb.lastFailure = r.now()

	// Any failure in half-open reopens the circuit.
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= r.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// GetState returns the current state of the breaker for key.
func (r *CircuitBreakerRegistry) GetState(key string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb := r.getOrCreate(key)
	r.refresh(cb)
	return cb.state
}

// GetStats returns diagnostic information about the breaker for key.
func (r *CircuitBreakerRegistry) GetStats(key string) BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb := r.getOrCreate(key)
	r.refresh(cb)
	return BreakerStats{
		Key:                 key,
		State:               cb.state,
		StateName:           cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		FailureThreshold:    r.config.FailureThreshold,
		Cooldown:            r.config.Cooldown.String(),
	}
}

// refresh moves an open breaker to half-open once the cooldown has elapsed.
func (r *CircuitBreakerRegistry) refresh(cb *circuitBreaker) {
	if cb.state == CircuitOpen && r.now().Sub(cb.lastFailure) >= r.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
}

func (r *CircuitBreakerRegistry) getOrCreate(key string) *circuitBreaker {
	cb, ok := r.breakers[key]
	if !ok {
		cb = &circuitBreaker{state: CircuitClosed}
		r.breakers[key] = cb
	}
	return cb
}
