package config

import "trader-go/internal/retry"

// Policy 按配置构造下单重试策略。retryAll 时忽略 retryable，所有失败都重试。
func (r RetryConfig) Policy(retryable func(error) bool) retry.Policy {
	p := retry.Policy{
		MaxAttempts: r.MaxAttempts,
		Backoff:     retry.Exponential(Millis(r.InitialDelayMs), Millis(r.MaxDelayMs), r.Multiplier),
	}
	if !r.RetryAll {
		p.Retryable = retryable
	}
	return p
}
