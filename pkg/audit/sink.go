// Package audit shapes security events and delivers them to append-only
// sinks. Emission is best-effort: a sink failure must never abort or alter
// the outcome of the request that produced the event.
package audit

import (
	"context"

	"github.com/staykeeper/gatehouse/pkg/contextkeys"
)

// Sink receives audit events. Implementations must not block the request
// path; slow destinations belong behind a MultiSink.
type Sink interface {
	Emit(ctx context.Context, event *Event) error
	Close() error
}

// WithSink adds an audit sink to the context.
func WithSink(ctx context.Context, sink Sink) context.Context {
	return context.WithValue(ctx, contextkeys.AuditSinkKey, sink)
}

// FromContext retrieves the audit sink from context, or a no-op sink if
// none is set.
func FromContext(ctx context.Context) Sink {
	if sink, ok := ctx.Value(contextkeys.AuditSinkKey).(Sink); ok {
		return sink
	}
	return NopSink{}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, event *Event) error { return nil }
func (NopSink) Close() error                                 { return nil }
