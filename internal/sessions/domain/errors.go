package domain

import (
	"fmt"
	"time"
)

// SessionNotFoundError indicates no session exists for a key.
type SessionNotFoundError struct {
	Key string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found for key %q", e.Key)
}

// NoOpenSessionError indicates no session is currently open.
type NoOpenSessionError struct{}

func (e *NoOpenSessionError) Error() string {
	return "no open session"
}

// EventNotFoundError indicates no event of the requested type exists for a
// session, e.g. when undoing.
type EventNotFoundError struct {
	Key  string
	Type EventType
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("no %s event recorded for session %q", e.Type, e.Key)
}

// ImplausibleDose2Error indicates a dose-2 timestamp chronologically
// implausible relative to dose 1 (preceding it, or more than the plausibility
// horizon after it). Returned at write time only under strict validation;
// the default policy is a lossy read-time correction.
type ImplausibleDose2Error struct {
	Dose1 time.Time
	Dose2 time.Time
}

func (e *ImplausibleDose2Error) Error() string {
	return fmt.Sprintf("dose2 at %s is implausible relative to dose1 at %s",
		e.Dose2.Format(time.RFC3339), e.Dose1.Format(time.RFC3339))
}

// InvalidEventTypeError indicates a caller supplied an unrecognized event
// type.
type InvalidEventTypeError struct {
	Type EventType
}

func (e *InvalidEventTypeError) Error() string {
	return fmt.Sprintf("invalid event type %q", string(e.Type))
}
