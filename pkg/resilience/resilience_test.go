package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("connection refused")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock, *[]State) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []State
	b := NewCircuitBreaker("push", threshold, 30*time.Second, func(_ string, s State) {
		transitions = append(transitions, s)
	})
	b.SetClock(clock.now)
	return b, clock, &transitions
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b, _, transitions := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(ctx, "send", fail), errBoom)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, b.Execute(ctx, "send", fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, "send", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, *transitions)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	b, _, _ := newTestBreaker(2)
	ctx := context.Background()

	_ = b.Execute(ctx, "send", fail)
	require.NoError(t, b.Execute(ctx, "send", succeed))
	_ = b.Execute(ctx, "send", fail)

	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_HalfOpenTrialCloses(t *testing.T) {
	b, clock, transitions := newTestBreaker(1)
	ctx := context.Background()

	_ = b.Execute(ctx, "send", fail)
	require.Equal(t, StateOpen, b.State())

	clock.advance(31 * time.Second)
	require.NoError(t, b.Execute(ctx, "send", succeed))

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, *transitions)
}

func TestCircuitBreaker_HalfOpenTrialReopens(t *testing.T) {
	b, clock, _ := newTestBreaker(1)
	ctx := context.Background()

	_ = b.Execute(ctx, "send", fail)
	clock.advance(31 * time.Second)
	_ = b.Execute(ctx, "send", fail)

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, "send", succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_OneTrialAtATime(t *testing.T) {
	b, clock, _ := newTestBreaker(1)
	ctx := context.Background()

	_ = b.Execute(ctx, "send", fail)
	clock.advance(31 * time.Second)

	err := b.Execute(ctx, "send", func(ctx context.Context) error {
		assert.ErrorIs(t, b.Execute(ctx, "send", succeed), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	b, _, _ := newTestBreaker(1)

	err := b.Execute(context.Background(), "send", func(context.Context) error {
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}
