package models

import "fmt"

// ValidationError reports malformed or out-of-range input (e.g. a scheduled
// time in the past). Surfaced to the caller, never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PermissionError reports a non-host attempting a host-only action. The
// connection stays up.
type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }

// InvalidStateError reports an action illegal for the session's current
// lifecycle status. Status is included so the client can resync.
type InvalidStateError struct {
	Status SessionStatus
	Msg    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s (current status: %s)", e.Msg, e.Status)
}

// CapacityError reports a full room. Immediate rejection, no queueing.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("session is at capacity (%d participants)", e.Limit)
}

// NotFoundError reports an unknown session or participant.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }
