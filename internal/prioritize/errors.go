package prioritize

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTasks means the run was started with an empty candidate set; a
	// candidate must include at least one task, so the run cannot proceed.
	ErrNoTasks = errors.New("prioritization requires at least one active task")

	// ErrNoOutcome means the user has no active outcome to prioritize against.
	ErrNoOutcome = errors.New("no active outcome")

	// ErrRunActive means the user already has a running prioritization job.
	ErrRunActive = errors.New("prioritization already running for user")
)

// SchemaError marks reasoning output that failed validation at the boundary.
// It is recoverable once (the stage retries with adjusted parameters); a
// second consecutive occurrence is fatal for the run.
type SchemaError struct {
	Stage  string // "generator" or "evaluator"
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s output failed validation: %s", e.Stage, e.Reason)
}

// IntegrityError marks a partition violation detected after the loop
// otherwise succeeded. It indicates corrupted inter-stage state, not bad
// reasoning output, and is never retried.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("assembly integrity violation: %s", e.Reason)
}
