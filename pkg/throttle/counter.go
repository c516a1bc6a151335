// Package throttle enforces request-rate policies with fixed counting
// windows. A window admits up to its configured maximum, rejects the rest,
// and resets completely at the boundary. Counters may live in Redis, so
// every instance of the service enforces the same limits.
package throttle

import (
	"context"
	"time"
)

// Counter tracks per-key hit counts within fixed windows.
type Counter interface {
	// Incr adds one hit for key and returns the count within the current
	// window along with the time remaining until the window resets. The
	// first hit of a window starts it.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// Get returns the current count without incrementing. A key with no
	// live window reports zero.
	Get(ctx context.Context, key string) (int64, error)

	// Reset clears the window for key.
	Reset(ctx context.Context, key string) error
}
