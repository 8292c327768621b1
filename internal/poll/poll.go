// Package poll provides a cancellable wait-with-timeout loop used wherever
// a caller has to watch an external resource until it reaches a terminal
// state.
package poll

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTimeout = errors.New("poll: timed out")
)

// Policy bounds a polling loop. Zero values mean: 1s interval, no backoff,
// unlimited attempts, no wall-clock timeout. At least one of MaxAttempts or
// Timeout should be set unless ctx carries a deadline.
type Policy struct {
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// CheckFunc reports whether the watched resource is done. A non-nil error
// aborts the loop and is returned as is.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Until calls check immediately and then after each interval until it
// reports done, fails, the policy is exhausted (ErrTimeout) or ctx ends
// (ctx.Err()).
func Until(ctx context.Context, p Policy, check CheckFunc) error {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}

	var deadline <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	interval := p.Interval
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return ErrTimeout
		}

		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-deadline:
			wait.Stop()
			return ErrTimeout
		case <-wait.C:
		}

		interval = p.next(interval)
	}
}

func (p Policy) next(interval time.Duration) time.Duration {
	if p.Multiplier <= 1 {
		return interval
	}

	next := time.Duration(float64(interval) * p.Multiplier)
	if p.MaxInterval > 0 && next > p.MaxInterval {
		next = p.MaxInterval
	}
	return next
}
