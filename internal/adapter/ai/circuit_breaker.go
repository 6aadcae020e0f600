package ai

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// CircuitClosed indicates the model is attempted normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the model is skipped by the cascade.
	CircuitOpen
	// CircuitHalfOpen indicates one trial attempt is allowed after the recovery timeout.
	CircuitHalfOpen
)

// String returns a string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
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

// CircuitBreaker skips a cascade model after consecutive failures.
type CircuitBreaker struct {
	mu               sync.Mutex
	modelID          string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	lastFailureTime  time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker for a specific model
func NewCircuitBreaker(modelID string) *CircuitBreaker {
	return &CircuitBreaker{
		modelID:          modelID,
		failureThreshold: 3,
		recoveryTimeout:  30 * time.Second,
		state:            CircuitClosed,
		now:              time.Now,
	}
}

// ShouldAttempt reports whether the cascade may call the model now. An open
// circuit past its recovery timeout moves to half-open and admits one trial request.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		// a trial is already in flight
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state != CircuitClosed {
		slog.Info("circuit breaker closed after successful recovery", slog.String("model", cb.modelID))
	}
	cb.state = CircuitClosed
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()
	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.failureThreshold {
		if cb.state != CircuitOpen {
			slog.Warn("circuit breaker opened due to consecutive failures",
				slog.String("model", cb.modelID),
				slog.Int("failure_count", cb.failureCount),
				slog.Int("threshold", cb.failureThreshold))
		}
		cb.state = CircuitOpen
	}
}

// GetState returns the current circuit state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerManager holds one breaker per cascade model.
type CircuitBreakerManager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates a new circuit breaker manager
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: make(map[string]*CircuitBreaker)}
}

// GetBreaker returns or creates a circuit breaker for a specific model
func (cbm *CircuitBreakerManager) GetBreaker(modelID string) *CircuitBreaker {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	if breaker, exists := cbm.breakers[modelID]; exists {
		return breaker
	}
	breaker := NewCircuitBreaker(modelID)
	cbm.breakers[modelID] = breaker
	return breaker
}

// OpenModels returns the models whose circuit is currently open.
func (cbm *CircuitBreakerManager) OpenModels() []string {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	var open []string
	for modelID, breaker := range cbm.breakers {
		if breaker.GetState() == CircuitOpen {
			open = append(open, modelID)
		}
	}
	return open
}
