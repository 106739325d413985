package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskKind distinguishes one-shot tasks from cron-driven recurring ones.
type TaskKind string

const (
	KindOneTime   TaskKind = "one_time"
	KindRecurring TaskKind = "recurring"
)

// ParseKind normalizes the kind strings seen on the wire ("one-time",
// "One-Time", "recurring", ...) into a TaskKind.
func ParseKind(s string) (TaskKind, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case string(KindOneTime):
		return KindOneTime, nil
	case string(KindRecurring):
		return KindRecurring, nil
	default:
		return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("must be %q or %q", KindOneTime, KindRecurring)}
	}
}

// Task is a unit of schedulable work. ScheduledTime is the absolute run time
// for one-time tasks and the next due time for recurring ones; it is advanced
// after every execution. A recurring task whose cron expression stops parsing
// is disabled rather than left permanently due.
type Task struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Kind           TaskKind  `json:"kind"`
	CronExpression string    `json:"cron_expression,omitempty"`
	ScheduledTime  time.Time `json:"scheduled_time"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExecutionLogEntry records a single execution. Entries are immutable and
// carry denormalized task fields so they survive deletion of the task.
type ExecutionLogEntry struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	TaskName       string    `json:"task_name"`
	Kind           TaskKind  `json:"kind"`
	CronExpression string    `json:"cron_expression,omitempty"`
	ExecutedAt     time.Time `json:"executed_at"`
}
