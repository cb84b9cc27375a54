package booking

import (
	"errors"
	"fmt"

	"github.com/slok/slotrunner/internal/model"
)

// ErrNoSlots is the business failure of a search without available slots.
var ErrNoSlots = errors.New("no slots available")

// StepError is an unrecoverable error of a flow step.
type StepError struct {
	Kind model.ErrorKind
	// State is the state the task was working on.
	State model.TaskState
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s error on %s: %v", e.Kind, e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(kind model.ErrorKind, state model.TaskState, err error) error {
	return &StepError{Kind: kind, State: state, Err: err}
}

func stepErrf(kind model.ErrorKind, state model.TaskState, format string, args ...any) error {
	return stepErr(kind, state, fmt.Errorf(format, args...))
}
