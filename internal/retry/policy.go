package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNoAttempts is returned when a Policy allows zero attempts.
var ErrNoAttempts = errors.New("retry: policy allows no attempts")

// Backoff 返回第 attempt 次失败（从 1 开始）之后的等待时间，须单调不减。
type Backoff func(attempt int) time.Duration

// Policy 显式的重试策略，由调用方传入提交点。
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable 为 nil 时所有失败都视为可重试。
	Retryable func(error) bool
}

// Constant waits the same delay after every failure.
func Constant(delay time.Duration) Backoff {
	return func(int) time.Duration { return delay }
}

// Exponential 基础延迟 * multiplier^(attempt-1)，上限 max。
// max <= 0 表示不设上限，此时结果饱和在 math.MaxInt64，不会溢出为负数。
func Exponential(base, max time.Duration, multiplier float64) Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	ceiling := time.Duration(math.MaxInt64)
	if max > 0 {
		ceiling = max
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		delay := float64(base)
		for i := 1; i < attempt; i++ {
			delay *= multiplier
			if delay >= float64(ceiling) {
				return ceiling
			}
		}
		if delay >= float64(ceiling) {
			return ceiling
		}
		return time.Duration(delay)
	}
}

// Do 最多调用 fn MaxAttempts 次，返回第一次成功的结果或最后一次失败。
// attempts 为实际调用次数。等待期间 ctx 被取消则立即返回 ctx.Err()。
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (result T, attempts int, err error) {
	if p.MaxAttempts < 1 {
		return result, 0, ErrNoAttempts
	}
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attempts = attempt
		result, err = fn(ctx, attempt)
		if err == nil {
			return result, attempts, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return result, attempts, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if werr := wait(ctx, p.delay(attempt)); werr != nil {
			return result, attempts, errors.Join(err, werr)
		}
	}
	return result, attempts, err
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
