package domain

import "time"

// EventType is the tag of the Event tagged union (§3).
type EventType string

const (
	EventRiskStateChanged  EventType = "RiskStateChanged"
	EventAllocationChanged EventType = "AllocationChanged"
	EventTaskScheduled     EventType = "TaskScheduled"
	EventTaskStarted       EventType = "TaskStarted"
	EventTaskSucceeded     EventType = "TaskSucceeded"
	EventTaskFailed        EventType = "TaskFailed"
	EventTaskRetrying      EventType = "TaskRetrying"
	EventCircuitTripped    EventType = "CircuitTripped"
	EventMetricSampled     EventType = "MetricSampled"
	// EventReservationExpired and EventAllocationFallback are additions
	// beyond the base tagged union, covering the behavior this project
	// decided on for the open questions in §9 (reservation TTL,
	// non-convergent projection fallback).
	EventReservationExpired EventType = "ReservationExpired"
	EventAllocationFallback EventType = "AllocationFallback"
)

// Severity classifies an Event for routing to alerting/log sinks.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// EventData is implemented by every typed event payload; EventType()
// ties the payload back to the tag it belongs under.
type EventData interface {
	EventType() EventType
}

// Event is the append-only, totally-ordered (within a process) envelope
// carried on the Event Bus. Seq is assigned by the bus, monotonically
// increasing per Type.
type Event struct {
	Seq           uint64
	Timestamp     time.Time
	Type          EventType
	Severity      Severity
	CorrelationID string
	Data          EventData
}
