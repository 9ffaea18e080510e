package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memorySink) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	calls    int
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

// ----------------------------------------------------------------------------
// Events
// ----------------------------------------------------------------------------

func TestNewEvent(t *testing.T) {
	ctx := ContextWithIPAddress(context.Background(), "10.0.0.7")
	ctx = ContextWithUserAgent(ctx, "curl/8.0")

	e := NewEvent(ctx, EventRunFailed, "run-1", map[string]any{"error": "boom"})

	if e.ID == "" {
		t.Error("ID should be set")
	}
	if e.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high", e.Severity)
	}
	if e.IPAddress != "10.0.0.7" || e.UserAgent != "curl/8.0" {
		t.Errorf("client = %q / %q", e.IPAddress, e.UserAgent)
	}
	if e.CreatedAt.IsZero() || e.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v", e.CreatedAt)
	}
}

func TestSeverityOf(t *testing.T) {
	tests := []struct {
		typ  EventType
		want Severity
	}{
		{EventInterpreted, SeverityLow},
		{EventValidated, SeverityMedium},
		{EventTablesLoaded, SeverityMedium},
		{EventRunsPurged, SeverityHigh},
		{EventJobFailed, SeverityHigh},
	}
	for _, tt := range tests {
		if got := severityOf(tt.typ); got != tt.want {
			t.Errorf("severityOf(%s) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Recorder
// ----------------------------------------------------------------------------

func TestRecorder_FansOutAndSwallowsErrors(t *testing.T) {
	failing := &memorySink{err: errors.New("disk full")}
	ok := &memorySink{}

	r := NewRecorder(failing, nil, ok)
	e := r.Record(context.Background(), EventExported, "run-9", map[string]any{"records": 12})

	if len(failing.events) != 1 || len(ok.events) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(failing.events), len(ok.events))
	}
	if ok.events[0].ID != e.ID {
		t.Error("returned event differs from published one")
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	e := r.Record(context.Background(), EventRunStarted, "", nil)
	if e.Type != EventRunStarted {
		t.Errorf("Type = %q", e.Type)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	e := NewEvent(context.Background(), EventRunFailed, "run-3", map[string]any{"stage": "export"})
	if err := sink.Publish(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["level"] != "WARN" || entry["event_type"] != "pipeline.failed" || entry["run_id"] != "run-3" {
		t.Errorf("entry = %v", entry)
	}
}

type eventStoreFunc func(ctx context.Context, e Event) error

func (f eventStoreFunc) InsertAuditEvent(ctx context.Context, e Event) error { return f(ctx, e) }

func TestStoreSink(t *testing.T) {
	var got Event
	sink := NewStoreSink(eventStoreFunc(func(_ context.Context, e Event) error {
		got = e
		return nil
	}))

	e := NewEvent(context.Background(), EventValidated, "run-1", nil)
	if err := sink.Publish(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if got.ID != e.ID {
		t.Error("event not forwarded to store")
	}
}

// ----------------------------------------------------------------------------
// Kafka
// ----------------------------------------------------------------------------

func TestKafkaSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w, KafkaConfig{Topic: "amr.audit", WriteTimeout: time.Second})

	e := NewEvent(context.Background(), EventInterpreted, "run-1", map[string]any{"columns": 2})
	if err := sink.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(w.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != e.ID {
		t.Errorf("Key = %q, want event ID", msg.Key)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != EventInterpreted || decoded.RunID != "run-1" {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(msg.Headers) == 0 || msg.Headers[0].Key != "event-type" {
		t.Errorf("Headers = %v", msg.Headers)
	}
}

func TestKafkaSink_BreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	sink := NewKafkaSinkWithWriter(w, KafkaConfig{Topic: "amr.audit", BreakerFailures: 2, BreakerTimeout: time.Minute})

	e := NewEvent(context.Background(), EventInterpreted, "", nil)
	for i := 0; i < 2; i++ {
		if err := sink.Publish(context.Background(), e); err == nil {
			t.Fatal("expected write error")
		}
	}
	if sink.State() != gobreaker.StateOpen {
		t.Fatalf("State = %v, want open", sink.State())
	}

	err := sink.Publish(context.Background(), e)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want ErrOpenState", err)
	}
	if w.calls != 2 {
		t.Errorf("writer calls = %d, want 2 (open breaker skips the write)", w.calls)
	}
	if !strings.Contains(err.Error(), "amr.audit") {
		t.Errorf("error should name the topic: %v", err)
	}
}
