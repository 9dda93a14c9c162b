package protocol

import (
	"context"
	"time"
)

// ReconnectPolicy bounds reconnection and spaces attempts with exponential backoff.
// The first attempt is immediate; attempt n > 1 waits BaseDelay * 2^(n-2), giving
// 0, 1s, 2s, 4s, 8s for the default policy.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultReconnectPolicy returns the five-attempt, one-second-base policy
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Delay returns the wait before the given 1-based attempt
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return p.BaseDelay << (attempt - 2)
}

// sleepContext waits for d or until ctx ends
func sleepContext(ctx context.Context, d time.Duration) error {
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
