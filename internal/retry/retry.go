package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"

	"cw/internal/logging"
	"cw/internal/services"
)

// Policy is a bounded exponential backoff: the k-th delay (0-based) is
// min(Base*Factor^k, Max), shortened by up to Jitter of itself.
type Policy struct {
	Base        time.Duration
	Factor      float64
	Max         time.Duration
	Jitter      float64
	MaxAttempts int
}

// Delay returns the un-jittered delay after k consecutive misses.
func (p Policy) Delay(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	base := p.Base
	if base <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	raw := float64(base) * math.Pow(factor, float64(k))
	if p.Max > 0 && raw >= float64(p.Max) {
		return p.Max
	}
	if raw >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(raw)
}

// NewSchedule returns a fresh schedule positioned at k=0.
func (p Policy) NewSchedule() *Schedule {
	return &Schedule{policy: p, rand: rand.Float64}
}

// Schedule walks a Policy one delay at a time. It satisfies backoff.BackOff.
// A Schedule is not safe for concurrent use.
type Schedule struct {
	policy Policy
	misses int
	rand   func() float64
}

// NextBackOff returns the jittered delay for the current miss count and
// advances it.
func (s *Schedule) NextBackOff() time.Duration {
	delay := s.policy.Delay(s.misses)
	s.misses++
	if s.policy.Jitter <= 0 || delay <= 0 {
		return delay
	}
	jitter := s.policy.Jitter
	if jitter > 1 {
		jitter = 1
	}
	return delay - time.Duration(float64(delay)*jitter*s.rand())
}

// Reset returns the schedule to its minimum delay.
func (s *Schedule) Reset() {
	s.misses = 0
}

// Misses reports how many delays have been handed out since the last reset.
func (s *Schedule) Misses() int {
	return s.misses
}

// Sleep waits for d or until ctx is done, returning ctx's error in the
// latter case. A non-positive d only reports whether ctx is already done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// MaxAttempts or ctx is done. Only errors marked services.ErrTransient are
// retried; an exhausted transient error is re-marked services.ErrRemote.
func Do[T any](ctx context.Context, policy Policy, logger *slog.Logger, op func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	tries := 0
	value, err := backoff.Retry(ctx, func() (T, error) {
		tries++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !services.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(policy.NewSchedule()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debug("retrying after transient failure",
				logging.Int("attempt", tries),
				logging.Duration("wait", wait),
				logging.Error(err),
			)
		}),
	)
	if err == nil {
		return value, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if services.IsRetryable(err) {
		return value, fmt.Errorf("%w: gave up after %d attempts: %w", services.ErrRemote, tries, err)
	}
	return value, err
}
