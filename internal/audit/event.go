// Package audit records pipeline events and fans them out to configured
// sinks: the structured log, the runs database and a Kafka topic.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names what happened.
type EventType string

const (
	EventRunStarted    EventType = "pipeline.started"
	EventDeduplicated  EventType = "pipeline.deduplicated"
	EventInterpreted   EventType = "pipeline.interpreted"
	EventExported      EventType = "pipeline.exported"
	EventValidated     EventType = "pipeline.validated"
	EventRunCompleted  EventType = "pipeline.completed"
	EventRunFailed     EventType = "pipeline.failed"
	EventJobEnqueued   EventType = "job.enqueued"
	EventJobFinished   EventType = "job.finished"
	EventJobFailed     EventType = "job.failed"
	EventRunsPurged    EventType = "retention.purged"
	EventTablesLoaded  EventType = "tables.loaded"
)

// Severity ranks events for alerting.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// severityOf returns the severity for an event type.
func severityOf(t EventType) Severity {
	switch t {
	case EventRunFailed, EventJobFailed, EventRunsPurged:
		return SeverityHigh
	case EventRunCompleted, EventValidated, EventTablesLoaded:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Event is one audit entry.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	RunID     string         `json:"runId,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewEvent builds an event stamped with a fresh ID, the current time and
// the client address and user agent carried in ctx.
func NewEvent(ctx context.Context, t EventType, runID string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  severityOf(t),
		RunID:     runID,
		IPAddress: IPAddressFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

type contextKey string

const (
	ctxKeyIPAddress contextKey = "audit_ip"
	ctxKeyUserAgent contextKey = "audit_ua"
)

// ContextWithIPAddress adds the client IP to ctx for audit entries.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithUserAgent adds the client User-Agent to ctx for audit entries.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// IPAddressFromContext extracts the client IP from ctx.
func IPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// UserAgentFromContext extracts the client User-Agent from ctx.
func UserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
