package executor

import (
	"math/rand"
	"time"
)

// RetryConfig controls retry behavior for transient function-boundary errors.
// Definitive rejections are never retried regardless of this budget.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig is the retry budget used when none is configured.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// backoffDelay computes the delay before the given retry attempt using
// exponential backoff with jitter: delay = BaseDelay * 2^attempt, capped at
// MaxDelay, plus random([0, BaseDelay)).
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	var jitter time.Duration
	if cfg.BaseDelay > 0 {
		jitter = time.Duration(rand.Int63n(int64(cfg.BaseDelay)))
	}
	return delay + jitter
}
