package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUntil(t *testing.T) {
	errBoom := errors.New("boom")

	var tests = []struct {
		name     string
		policy   Policy
		doneAt   int
		failAt   int
		err      error
		attempts int
	}{
		{"done first try", Policy{Interval: time.Millisecond, MaxAttempts: 3}, 1, 0, nil, 1},
		{"done third try", Policy{Interval: time.Millisecond, MaxAttempts: 5}, 3, 0, nil, 3},
		{"attempts exhausted", Policy{Interval: time.Millisecond, MaxAttempts: 4}, 0, 0, ErrTimeout, 4},
		{"check fails", Policy{Interval: time.Millisecond, MaxAttempts: 5}, 0, 2, errBoom, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int
			err := Until(context.Background(), tt.policy, func(ctx context.Context) (bool, error) {
				attempts++
				if tt.failAt > 0 && attempts == tt.failAt {
					return false, errBoom
				}
				return tt.doneAt > 0 && attempts >= tt.doneAt, nil
			})

			assert.ErrorIs(t, err, tt.err)
			if tt.err == nil {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.attempts, attempts)
		})
	}
}

func TestUntilTimeout(t *testing.T) {
	start := time.Now()
	err := Until(context.Background(), Policy{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		return false, nil
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var attempts int
	err := Until(ctx, Policy{Interval: time.Hour}, func(ctx context.Context) (bool, error) {
		attempts++
		cancel()
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestPolicyNext(t *testing.T) {
	p := Policy{Interval: time.Second, Multiplier: 2, MaxInterval: 5 * time.Second}

	assert.Equal(t, 2*time.Second, p.next(time.Second))
	assert.Equal(t, 4*time.Second, p.next(2*time.Second))
	assert.Equal(t, 5*time.Second, p.next(4*time.Second))
	assert.Equal(t, time.Second, Policy{Interval: time.Second}.next(time.Second))
}
