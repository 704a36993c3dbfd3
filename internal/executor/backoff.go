package executor

import (
	"math"
	"time"

	"coinbot/internal/config"
)

// RetryPolicy computes bounded exponential backoff delays. The same shape is
// used for order retries here and for reconnect waits in the stream manager.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// PolicyFromConfig converts the configured retry settings.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay.Duration,
		MaxDelay:     cfg.MaxDelay.Duration,
		Factor:       cfg.BackoffFactor,
	}
}

// Delay returns the wait before retry number attempt (0-based):
// min(initial * factor^attempt, max).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
