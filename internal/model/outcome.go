package model

import (
	"fmt"
	"time"
)

// TaskState is a state of the booking task state machine.
type TaskState string

const (
	TaskStateInit                   TaskState = "init"
	TaskStateBrowserReady           TaskState = "browser_ready"
	TaskStateAuthenticating         TaskState = "authenticating"
	TaskStateCaptchaChallenge       TaskState = "captcha_challenge"
	TaskStateQuestionnaireSubmitted TaskState = "questionnaire_submitted"
	TaskStateMainFormSubmitted      TaskState = "main_form_submitted"
	TaskStateSlotsSearched          TaskState = "slots_searched"
	TaskStateSlotBooked             TaskState = "slot_booked"
	TaskStateNoSlotsFound           TaskState = "no_slots_found"
	TaskStateErrored                TaskState = "errored"
)

// IsTerminal returns true if no transition can happen after the state.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSlotBooked || s == TaskStateNoSlotsFound || s == TaskStateErrored
}

// Transition is a state machine transition record.
type Transition struct {
	State TaskState
	At    time.Time
}

// OutcomeKind is the shape of a task outcome.
type OutcomeKind string

const (
	// OutcomeKindSuccess means the task booked a slot.
	OutcomeKindSuccess OutcomeKind = "success"
	// OutcomeKindFailed is a terminal business outcome (e.g no slots available), not an error.
	OutcomeKindFailed OutcomeKind = "failed"
	// OutcomeKindErrored means something broke.
	OutcomeKindErrored OutcomeKind = "errored"
)

// ErrorKind classifies an errored outcome.
type ErrorKind string

const (
	ErrorKindNavigation        ErrorKind = "navigation"
	ErrorKindChallenge         ErrorKind = "challenge"
	ErrorKindAuthRejected      ErrorKind = "auth_rejected"
	ErrorKindAuthSecurityBlock ErrorKind = "auth_security_block"
	ErrorKindAuthRateLimited   ErrorKind = "auth_rate_limited"
	ErrorKindForm              ErrorKind = "form"
	ErrorKindBooking           ErrorKind = "booking"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindUnknown           ErrorKind = "unknown"
)

// Booking is the successful booking data.
type Booking struct {
	Confirmation string
	Date         string
	Time         string
	ProxyRegion  string
}

// TaskError is the error information of an errored outcome.
type TaskError struct {
	Kind ErrorKind
	// State is where the error originated, empty when unknown (e.g timeouts).
	State   TaskState
	Message string
}

func (e TaskError) String() string {
	if e.State == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.State, e.Message)
}

// Outcome is the immutable result of a task. Only one of Booking, Reason or Error
// is set depending on the Kind.
type Outcome struct {
	TaskID      string
	Username    string
	Attempt     int
	Kind        OutcomeKind
	Booking     *Booking
	Reason      string
	Error       *TaskError
	FinalState  TaskState
	Duration    time.Duration
	Transitions []Transition
}

// OutcomeMeta is the common data of all the outcome shapes.
type OutcomeMeta struct {
	TaskID      string
	Username    string
	Attempt     int
	Duration    time.Duration
	Transitions []Transition
}

func (m OutcomeMeta) outcome(kind OutcomeKind, state TaskState) Outcome {
	return Outcome{
		TaskID:      m.TaskID,
		Username:    m.Username,
		Attempt:     m.Attempt,
		Kind:        kind,
		FinalState:  state,
		Duration:    m.Duration,
		Transitions: m.Transitions,
	}
}

// NewSuccessOutcome returns a success outcome.
func NewSuccessOutcome(meta OutcomeMeta, b Booking) Outcome {
	o := meta.outcome(OutcomeKindSuccess, TaskStateSlotBooked)
	o.Booking = &b
	return o
}

// NewFailedOutcome returns a business failure outcome.
func NewFailedOutcome(meta OutcomeMeta, reason string) Outcome {
	o := meta.outcome(OutcomeKindFailed, TaskStateNoSlotsFound)
	o.Reason = reason
	return o
}

// NewErroredOutcome returns an errored outcome, state is the state where the error originated.
func NewErroredOutcome(meta OutcomeMeta, kind ErrorKind, state TaskState, msg string) Outcome {
	o := meta.outcome(OutcomeKindErrored, TaskStateErrored)
	o.Error = &TaskError{Kind: kind, State: state, Message: msg}
	return o
}

// OutcomeFromTask returns the outcome metadata for a task.
func OutcomeFromTask(t Task) OutcomeMeta {
	return OutcomeMeta{
		TaskID:   t.ID,
		Username: t.Account.Username,
		Attempt:  t.Attempt,
	}
}

// IsSuccess returns true if the outcome is a success.
func (o Outcome) IsSuccess() bool { return o.Kind == OutcomeKindSuccess }

// IsFailed returns true if the outcome is a business failure.
func (o Outcome) IsFailed() bool { return o.Kind == OutcomeKindFailed }

// IsErrored returns true if the outcome is an error (timeouts included).
func (o Outcome) IsErrored() bool { return o.Kind == OutcomeKindErrored }

// ErrorKind returns the error kind of errored outcomes, empty otherwise.
func (o Outcome) ErrorKind() ErrorKind {
	if o.Error == nil {
		return ""
	}
	return o.Error.Kind
}

// Summary returns a human readable one line summary of the outcome.
func (o Outcome) Summary() string {
	switch o.Kind {
	case OutcomeKindSuccess:
		return fmt.Sprintf("booked %s %s (confirmation %s)", o.Booking.Date, o.Booking.Time, o.Booking.Confirmation)
	case OutcomeKindFailed:
		return o.Reason
	case OutcomeKindErrored:
		return o.Error.String()
	default:
		return string(o.Kind)
	}
}
