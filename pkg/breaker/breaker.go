// Package breaker guards calls to the ad exchange with a circuit breaker
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a breaker state
type State string

// Breaker states
const (
	StateClosed   State = "closed"    // Normal operation
	StateOpen     State = "open"      // Failing, rejecting requests
	StateHalfOpen State = "half-open" // Probing whether the exchange recovered
)

var (
	// ErrOpen is returned while the breaker rejects requests
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the concurrency limit is hit
	ErrTooManyRequests = errors.New("max concurrent requests exceeded")
)

// Config holds breaker configuration
type Config struct {
	FailureThreshold int           // Failures before opening
	SuccessThreshold int           // Successes to close from half-open
	Timeout          time.Duration // Time open before probing
	MaxConcurrent    int           // Max in-flight requests (0 = unlimited)
	// IsFailure decides whether an error counts against the exchange.
	// Nil counts every non-nil error.
	IsFailure     func(err error) bool
	OnStateChange func(from, to State)
}

// DefaultConfig returns defaults for an ad exchange
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxConcurrent:    50,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config *Config

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	concurrent      int

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64

	callbackWg sync.WaitGroup
}

// New creates a closed breaker
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// Do runs fn under breaker protection. A context that ends before fn is
// admitted is reported without touching the counters.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailureTime) <= b.config.Timeout {
			b.totalRejected++
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		// one probe at a time
		if b.concurrent >= 1 {
			b.totalRejected++
			return ErrOpen
		}
	default:
		if b.config.MaxConcurrent > 0 && b.concurrent >= b.config.MaxConcurrent {
			b.totalRejected++
			return ErrTooManyRequests
		}
	}

	b.concurrent++
	return nil
}

func (b *Breaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if b.config.IsFailure != nil {
		return b.config.IsFailure(err)
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.concurrent--

	if b.isFailure(err) {
		b.totalFailures++
		b.failures++
		b.successes = 0
		b.lastFailureTime = time.Now()

		switch b.state {
		case StateClosed:
			if b.failures >= b.config.FailureThreshold {
				b.setState(StateOpen)
			}
		case StateHalfOpen:
			b.setState(StateOpen)
		}
		return
	}

	b.totalSuccesses++
	b.successes++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failures = 0
		}
	}
}

// setState must be called with mu held
func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState
	b.successes = 0

	if b.config.OnStateChange != nil {
		b.callbackWg.Add(1)
		go func(from, to State) {
			defer b.callbackWg.Done()
			b.config.OnStateChange(from, to)
		}(oldState, newState)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats holds breaker statistics
type Stats struct {
	State          State `json:"state"`
	TotalRequests  int64 `json:"total_requests"`
	TotalFailures  int64 `json:"total_failures"`
	TotalSuccesses int64 `json:"total_successes"`
	TotalRejected  int64 `json:"total_rejected"`
	Failures       int   `json:"current_failures"`
	Concurrent     int   `json:"concurrent"`
}

// Stats returns breaker statistics
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:          b.state,
		TotalRequests:  b.totalRequests,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		TotalRejected:  b.totalRejected,
		Failures:       b.failures,
		Concurrent:     b.concurrent,
	}
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.successes = 0
}

// ForceOpen opens the breaker now
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateOpen)
	b.lastFailureTime = time.Now()
}

// Close waits for pending state change callbacks
func (b *Breaker) Close() {
	b.callbackWg.Wait()
}
