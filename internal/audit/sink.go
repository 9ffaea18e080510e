package audit

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/amrglass/internal/logging"
)

// Sink receives audit events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Recorder fans events out to every sink. A failing sink is logged and
// never fails the caller.
type Recorder struct {
	sinks []Sink
}

// NewRecorder creates a recorder. Nil sinks are ignored.
func NewRecorder(sinks ...Sink) *Recorder {
	r := &Recorder{}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record builds an event and publishes it. It returns the event so callers
// can reference its ID.
func (r *Recorder) Record(ctx context.Context, t EventType, runID string, payload map[string]any) Event {
	e := NewEvent(ctx, t, runID, payload)
	if r == nil {
		return e
	}
	for _, s := range r.sinks {
		if err := s.Publish(ctx, e); err != nil {
			logging.FromContext(ctx).Warn("audit sink failed",
				"event_id", e.ID,
				"event_type", e.Type,
				"error", err,
			)
		}
	}
	return e
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. A nil logger uses logging.FromContext.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(ctx context.Context, e Event) error {
	logger := s.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	level := slog.LevelInfo
	if e.Severity == SeverityHigh {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "audit",
		slog.String("event_id", e.ID),
		slog.String("event_type", string(e.Type)),
		slog.String("severity", string(e.Severity)),
		slog.String("run_id", e.RunID),
		slog.Any("payload", e.Payload),
	)
	return nil
}

// EventStore persists audit events.
type EventStore interface {
	InsertAuditEvent(ctx context.Context, e Event) error
}

// StoreSink writes events to an EventStore.
type StoreSink struct {
	store EventStore
}

// NewStoreSink creates a store sink.
func NewStoreSink(store EventStore) *StoreSink {
	return &StoreSink{store: store}
}

// Publish implements Sink.
func (s *StoreSink) Publish(ctx context.Context, e Event) error {
	return s.store.InsertAuditEvent(ctx, e)
}
