package alert

import (
	"sync"
	"time"
)

// CircuitBreakerConfig tunes the open/half-open transition thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           // default 5
	RecoveryTimeout  time.Duration // default 60s
	HalfOpenMax      int           // default 1
}

// circuitBreaker is the {failure_count, last_failure_time, is_open,
// half_open_attempts} state machine guarding one channel. No background
// goroutine: state transitions happen inline on allow/record calls.
type circuitBreaker struct {
	cfg CircuitBreakerConfig

	mu               sync.Mutex
	failureCount     int
	lastFailureTime  time.Time
	isOpen           bool
	halfOpenAttempts int
}

func newCircuitBreaker(cfg CircuitBreakerConfig) *circuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &circuitBreaker{cfg: cfg}
}

// allow reports whether a send attempt should proceed. When the breaker is
// open and still within the recovery timeout or already at the half-open
// attempt cap, the call is skipped and recorded as a failure.
func (c *circuitBreaker) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpen {
		return true
	}
	if time.Since(c.lastFailureTime) < c.cfg.RecoveryTimeout {
		return false
	}
	if c.halfOpenAttempts >= c.cfg.HalfOpenMax {
		return false
	}
	c.halfOpenAttempts++
	return true
}

func (c *circuitBreaker) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
	c.isOpen = false
	c.halfOpenAttempts = 0
}

func (c *circuitBreaker) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.lastFailureTime = time.Now()
	if !c.isOpen && c.failureCount >= c.cfg.FailureThreshold {
		c.isOpen = true
	}
}

// Status is the operator-facing snapshot of one breaker's state.
type Status struct {
	FailureCount     int
	LastFailureTime  time.Time
	IsOpen           bool
	HalfOpenAttempts int
}

func (c *circuitBreaker) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		FailureCount:     c.failureCount,
		LastFailureTime:  c.lastFailureTime,
		IsOpen:           c.isOpen,
		HalfOpenAttempts: c.halfOpenAttempts,
	}
}

func (c *circuitBreaker) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
	c.isOpen = false
	c.halfOpenAttempts = 0
	c.lastFailureTime = time.Time{}
}
