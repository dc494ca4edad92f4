package core

import (
	"context"
	"time"
)

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// Telemetry interface - optional telemetry support
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a telemetry span
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// ResourceStore is the external source of truth for resource registrations
// and live agent records.
type ResourceStore interface {
	ListResources(ctx context.Context) ([]*Resource, error)
	ListAgentRecords(ctx context.Context) ([]*AgentRecord, error)
	UpsertResource(ctx context.Context, resource *Resource) error
}

// Freshness carries the fields a metadata refresh is allowed to update.
type Freshness struct {
	LastSeenAt time.Time
	Status     ResourceStatus
}

// FreshnessSource is implemented by stores that can answer lightweight
// freshness lookups without a full listing.
type FreshnessSource interface {
	FetchFreshness(ctx context.Context, ids []string) (map[string]Freshness, error)
}

// CleanupMarker is implemented by stores that want to be told about
// resources marked for cleanup.
type CleanupMarker interface {
	MarkForCleanup(ctx context.Context, id string) error
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpTelemetry provides a no-op telemetry implementation
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan provides a no-op span implementation
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}
