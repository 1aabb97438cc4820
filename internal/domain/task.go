package domain

import "time"

// TriggerKind is one of the three trigger shapes a TaskDefinition may
// carry — a single TaskDefinition has exactly one.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerOneShot  TriggerKind = "one_shot"
)

// Trigger describes when a TaskDefinition becomes due. Exactly one of
// CronExpr, Interval, or At is meaningful, selected by Kind.
type Trigger struct {
	Kind     TriggerKind
	CronExpr string        // TriggerCron: timezone-aware cron expression
	Timezone string        // TriggerCron: IANA timezone name, default UTC
	Interval time.Duration // TriggerInterval: fixed period
	Jitter   time.Duration // TriggerInterval: optional +/- jitter
	At       time.Time     // TriggerOneShot: fire exactly once at this time
}

// Priority orders TaskInstance selection when workers are saturated.
// Higher values run first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TaskDefinition is immutable once registered for a given id+version:
// stable id, action kind, protocol id, trigger, priority, retry/timeout
// budget, dependency set, and a parameter template. Soft-deleted
// (disabled) rather than mutated in place.
type TaskDefinition struct {
	ID         string
	Version    int
	ActionKind ActionKind
	ProtocolID string
	Trigger    Trigger
	Priority   Priority
	MaxRetries int
	Timeout    time.Duration
	DependsOn  []string
	Params     map[string]any
	Disabled   bool
}

// Validate checks the structural invariants a TaskDefinition must satisfy
// at registration time, independent of the rest of the registry (the
// dependency graph's acyclicity is checked by the registry, which has
// visibility into all definitions).
func (t TaskDefinition) Validate() error {
	if t.ID == "" {
		return errInvalidConfig("task definition id must not be empty")
	}
	if t.MaxRetries < 0 {
		return errInvalidConfig("task %s: max_retries must be >= 0", t.ID)
	}
	if t.Timeout <= 0 {
		return errInvalidConfig("task %s: timeout must be > 0", t.ID)
	}
	switch t.Trigger.Kind {
	case TriggerCron:
		if t.Trigger.CronExpr == "" {
			return errInvalidConfig("task %s: cron trigger requires cron_expr", t.ID)
		}
	case TriggerInterval:
		if t.Trigger.Interval <= 0 {
			return errInvalidConfig("task %s: interval trigger requires interval > 0", t.ID)
		}
	case TriggerOneShot:
		if t.Trigger.At.IsZero() {
			return errInvalidConfig("task %s: one_shot trigger requires at", t.ID)
		}
	default:
		return errInvalidConfig("task %s: unknown trigger kind %q", t.ID, t.Trigger.Kind)
	}
	return nil
}

// TaskState is a node in the TaskInstance state machine (§4.6).
type TaskState string

const (
	TaskPending          TaskState = "PENDING"
	TaskRunning          TaskState = "RUNNING"
	TaskSucceeded        TaskState = "SUCCEEDED"
	TaskFailedTransient  TaskState = "FAILED_TRANSIENT"
	TaskFailedPermanent  TaskState = "FAILED_PERMANENT"
	TaskTimedOut         TaskState = "TIMED_OUT"
	TaskCancelled        TaskState = "CANCELLED"
)

// IsTerminal reports whether state is one the state machine never leaves.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailedPermanent, TaskCancelled:
		return true
	default:
		return false
	}
}

// TaskInstance is one scheduled firing of a TaskDefinition.
type TaskInstance struct {
	ID              string
	DefinitionID    string
	CorrelationID   string
	ScheduledFor    time.Time
	Attempt         int
	State           TaskState
	LastError       string
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanTransition reports whether the state machine permits moving from the
// instance's current state to next, per the diagram in §4.6.
func (t TaskInstance) CanTransition(next TaskState) bool {
	switch t.State {
	case TaskPending:
		return next == TaskRunning || next == TaskCancelled
	case TaskRunning:
		switch next {
		case TaskSucceeded, TaskFailedTransient, TaskFailedPermanent, TaskTimedOut, TaskCancelled:
			return true
		}
		return false
	case TaskFailedTransient:
		return next == TaskPending || next == TaskFailedPermanent
	case TaskTimedOut:
		return next == TaskFailedTransient || next == TaskFailedPermanent
	default:
		return false // terminal states never transition
	}
}
