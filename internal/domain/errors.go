package domain

import "fmt"

// ValidationError is returned when a task definition is rejected before
// anything is stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s %s", e.Field, e.Reason)
}

// NotFoundError is returned when a task or log entry ID does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.ID)
}

// InvalidExpressionError is returned when a cron expression cannot be parsed.
type InvalidExpressionError struct {
	Expression string
	Err        error
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expression, e.Err)
}

func (e *InvalidExpressionError) Unwrap() error { return e.Err }
