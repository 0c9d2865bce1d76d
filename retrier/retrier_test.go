package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStopsOnSuccess(t *testing.T) {
	r := NewLinear(3, time.Millisecond)

	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRunExhaustsAttempts(t *testing.T) {
	r := NewLinear(3, time.Millisecond)

	sentinel := errors.New("always failing")
	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRunStopsOnPermanentError(t *testing.T) {
	r := NewLinear(5, time.Millisecond)

	sentinel := errors.New("not found")
	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		return Permanent(sentinel)
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRunNotifyReportsEveryFailure(t *testing.T) {
	r := NewLinear(3, time.Millisecond)

	var attempts []int
	_ = r.RunNotify(context.Background(), func() error {
		return errors.New("boom")
	}, func(attempt int, err error) {
		attempts = append(attempts, attempt)
	})

	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	r := NewLinear(10, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := r.Run(ctx, func() error {
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLinearDelayGrowsWithAttempt(t *testing.T) {
	r := NewLinear(4, 10*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 30*time.Millisecond, r.delay(3))
}

func TestExponentialDelayIsCapped(t *testing.T) {
	r := NewExponential(10, 10*time.Millisecond, 40*time.Millisecond, 2, 0)

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 40*time.Millisecond, r.delay(5))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.True(t, IsPermanent(Permanent(errors.New("wrapped"))))
}
