package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
)

// State represents the state of the circuit breaker
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// StateObserver is told about every state transition
type StateObserver func(name string, state State)

// CircuitBreaker stops calling a failing dependency after threshold
// consecutive failures. After cooldown a single trial call is let through;
// its outcome closes or reopens the circuit.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	observer  StateObserver

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
	now                 func() time.Time
}

// NewCircuitBreaker creates a closed breaker. observer may be nil.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, observer StateObserver) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		observer:  observer,
		state:     StateClosed,
		now:       time.Now,
	}
}

// SetClock replaces the time source
func (b *CircuitBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// State returns the current circuit breaker state
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn unless the circuit is open
func (b *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		logger.Warn("Circuit breaker rejected call",
			zap.String("breaker", b.name),
			zap.String("operation", operation))
		return err
	}

	err := fn(ctx)
	b.record(operation, err)
	return err
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	var transitioned bool
	defer func() {
		b.mu.Unlock()
		if transitioned {
			b.notify(StateHalfOpen)
		}
	}()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		transitioned = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

func (b *CircuitBreaker) record(operation string, err error) {
	b.mu.Lock()
	previous := b.state
	b.trialInFlight = false

	switch {
	case err == nil:
		b.state = StateClosed
		b.consecutiveFailures = 0
	case errors.Is(err, context.Canceled):
		// caller gave up, says nothing about the dependency
	default:
		b.consecutiveFailures++
		if b.state == StateHalfOpen || b.consecutiveFailures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	current := b.state
	failures := b.consecutiveFailures
	b.mu.Unlock()

	if current == previous {
		return
	}
	if current == StateOpen {
		logger.Error("Circuit breaker opened",
			zap.String("breaker", b.name),
			zap.String("operation", operation),
			zap.Int("consecutive_failures", failures),
			zap.Error(err))
	} else {
		logger.Info("Circuit breaker closed",
			zap.String("breaker", b.name),
			zap.String("operation", operation))
	}
	b.notify(current)
}

func (b *CircuitBreaker) notify(state State) {
	if b.observer != nil {
		b.observer(b.name, state)
	}
}
