package audit

import (
	"context"
	"sync"
)

// MultiSink fans events out to multiple sinks. Delivery is asynchronous:
// Emit returns immediately and per-sink failures are collected on a
// bounded channel, dropped when full. Close waits for in-flight
// deliveries and closes every sink.
type MultiSink struct {
	sinks   []Sink
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiSink creates a multi-sink over the given destinations.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{
		sinks:   sinks,
		errChan: make(chan error, len(sinks)*4),
	}
}

func (m *MultiSink) Emit(ctx context.Context, event *Event) error {
	for _, sink := range m.sinks {
		m.wg.Add(1)
		go func(s Sink) {
			defer m.wg.Done()
			if err := s.Emit(context.WithoutCancel(ctx), event); err != nil {
				select {
				case m.errChan <- err:
				default:
					// Channel full, drop error
				}
			}
		}(sink)
	}
	return nil
}

// Errors exposes delivery failures for observation; readers must not
// assume one error per event.
func (m *MultiSink) Errors() <-chan error {
	return m.errChan
}

func (m *MultiSink) Close() error {
	m.wg.Wait()
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
