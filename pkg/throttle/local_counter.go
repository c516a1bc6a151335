package throttle

import (
	"context"
	"sync"
	"time"
)

type localWindow struct {
	start  time.Time
	window time.Duration
	count  int64
}

func (w *localWindow) expired(now time.Time) bool {
	return now.Sub(w.start) >= w.window
}

// LocalCounter is an in-process Counter for single-instance deployments
// and tests. Windows reset completely at the boundary, matching the Redis
// counter's expiry behavior.
type LocalCounter struct {
	mu      sync.Mutex
	windows map[string]*localWindow
	now     func() time.Time
}

// NewLocalCounter returns an empty counter.
func NewLocalCounter() *LocalCounter {
	return &LocalCounter{
		windows: make(map[string]*localWindow),
		now:     time.Now,
	}
}

// Incr bumps the key within its current window, starting a fresh window
// when none is live.
func (c *LocalCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || w.expired(now) {
		w = &localWindow{start: now, window: window}
		c.windows[key] = w
	}
	w.count++
	remaining := w.window - now.Sub(w.start)
	return w.count, remaining, nil
}

// Get reads the current count without incrementing.
func (c *LocalCounter) Get(_ context.Context, key string) (int64, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || w.expired(now) {
		return 0, nil
	}
	return w.count, nil
}

// Reset clears the window for key.
func (c *LocalCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, key)
	return nil
}

// Cleanup drops expired windows. Counters for active keys are untouched.
func (c *LocalCounter) Cleanup() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, w := range c.windows {
		if w.expired(now) {
			delete(c.windows, key)
		}
	}
}

// StartCleanup sweeps expired windows on the given interval until the
// context is canceled.
func (c *LocalCounter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}
