package engine

import (
	"errors"
	"fmt"

	"github.com/platformbuilds/shiftgate/internal/models"
)

var (
	// ErrRolledBack marks a run terminated by an automated trigger rollback.
	ErrRolledBack = errors.New("migration rolled back")
	// ErrOperatorAbort marks a run terminated by an explicit operator abort.
	ErrOperatorAbort = errors.New("migration aborted by operator")
	// ErrInfrastructure marks a run terminated because a collaborator
	// (route store, metric source) stayed unreachable past the retry bound.
	ErrInfrastructure = errors.New("infrastructure failure")
	// ErrInvalidPlan rejects a migration plan at orchestrator construction.
	ErrInvalidPlan = errors.New("invalid migration plan")
	// ErrUnknownService is returned when a named service is not configured.
	ErrUnknownService = errors.New("unknown service")
	// ErrNoActiveRun is returned when an abort targets a service with no
	// in-flight run.
	ErrNoActiveRun = errors.New("no active migration run")
)

// RollbackError is the cancellation cause recorded when a trigger fires. It
// carries the trigger and observed value into the terminal run record.
type RollbackError struct {
	Trigger models.Trigger
	Value   float64
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("trigger %s fired: observed %g against threshold %g (%s)",
		e.Trigger.Signal, e.Value, e.Trigger.Threshold, e.Trigger.Comparison)
}

func (e *RollbackError) Unwrap() error {
	return ErrRolledBack
}
