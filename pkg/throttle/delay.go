package throttle

import (
	"context"
	"time"
)

// ProgressiveDelay slows repeated failures before the hard limit rejects
// them. Past the threshold, each further failure adds Step of delay, capped
// at Max. Counts live in a Counter keyed separately from policy windows, so
// delay pressure and rejection pressure accumulate independently.
type ProgressiveDelay struct {
	counter   Counter
	prefix    string
	Threshold int64
	Step      time.Duration
	Max       time.Duration
	Window    time.Duration
}

// NewProgressiveDelay builds a delay tracker over the given counter.
func NewProgressiveDelay(counter Counter, threshold int64, step, max, window time.Duration) *ProgressiveDelay {
	return &ProgressiveDelay{
		counter:   counter,
		prefix:    "delay:",
		Threshold: threshold,
		Step:      step,
		Max:       max,
		Window:    window,
	}
}

func (d *ProgressiveDelay) delayFor(count int64) time.Duration {
	if count <= d.Threshold {
		return 0
	}
	delay := time.Duration(count-d.Threshold) * d.Step
	if delay > d.Max {
		delay = d.Max
	}
	return delay
}

// Hit records a failure for key and returns the delay to impose on the
// next attempt. Counter errors report zero delay.
func (d *ProgressiveDelay) Hit(ctx context.Context, key string) (time.Duration, error) {
	count, _, err := d.counter.Incr(ctx, d.prefix+key, d.Window)
	if err != nil {
		return 0, err
	}
	return d.delayFor(count), nil
}

// Current returns the delay in force for key without recording a failure.
func (d *ProgressiveDelay) Current(ctx context.Context, key string) (time.Duration, error) {
	count, err := d.counter.Get(ctx, d.prefix+key)
	if err != nil {
		return 0, err
	}
	return d.delayFor(count), nil
}

// Clear resets the failure count, typically after a success.
func (d *ProgressiveDelay) Clear(ctx context.Context, key string) error {
	return d.counter.Reset(ctx, d.prefix+key)
}

// Sleep blocks for the given delay or until the context is canceled.
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
