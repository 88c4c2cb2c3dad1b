package chain

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Backoff is a bounded exponential retry schedule.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Factor   float64
	Max      time.Duration
}

var (
	// DialBackoff covers a single RPC dial.
	DialBackoff = Backoff{Attempts: 3, Base: 2 * time.Second, Factor: 2, Max: 10 * time.Second}
	// ConnectBackoff wraps dialing plus the chain id check.
	ConnectBackoff = Backoff{Attempts: 10, Base: 2 * time.Second, Factor: 1.5, Max: 15 * time.Second}
)

// Delay returns the wait before attempt n+1, n starting at 0.
func (b Backoff) Delay(n int) time.Duration {
	d := time.Duration(float64(b.Base) * math.Pow(b.Factor, float64(n)))
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Retry runs fn until it succeeds, the attempts are used up or ctx ends. The last error is
// returned.
func Retry(ctx context.Context, b Backoff, logger *zap.Logger, op string, fn func(attempt int) error) error {
	if b.Attempts < 1 {
		b.Attempts = 1
	}

	var lastErr error
	for i := 0; i < b.Attempts; i++ {
		if lastErr = fn(i); lastErr == nil {
			return nil
		}
		logger.Warn("Attempt failed", zap.String("op", op), zap.Int("attempt", i+1), zap.Int("attempts", b.Attempts), zap.Error(lastErr))
		if i == b.Attempts-1 {
			break
		}

		timer := time.NewTimer(b.Delay(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, b.Attempts, lastErr)
}
