package testutil

import "github.com/google/uuid"

// sessionData holds all columns for a session row to be inserted.
type sessionData struct {
	guid             string
	key              string
	startedAt        int64
	endedAt          any
	dose1At          any
	dose2At          any
	snoozeCount      int
	dose2Skipped     bool
	wakeFinalAt      any
	checkInCompleted bool
	dose1TZOffset    any
	terminalState    any
}

func defaultSession(key string) sessionData {
	return sessionData{
		guid: uuid.NewString(),
		key:  key,
	}
}

// SessionOption configures a session row during builder setup.
type SessionOption func(*sessionData)

// SessionStartedAt sets the session start (unix seconds).
func SessionStartedAt(unix int64) SessionOption {
	return func(s *sessionData) { s.startedAt = unix }
}

// SessionDose1 sets the dose-1 summary columns.
func SessionDose1(unix int64, tzOffsetMinutes int) SessionOption {
	return func(s *sessionData) {
		s.dose1At = unix
		s.dose1TZOffset = tzOffsetMinutes
		if s.startedAt == 0 {
			s.startedAt = unix
		}
	}
}

// SessionDose2 sets the dose-2 summary column. Pass an implausible value on
// purpose when exercising the corruption-clearing read path.
func SessionDose2(unix int64) SessionOption {
	return func(s *sessionData) { s.dose2At = unix }
}

// SessionClosed marks the session closed with the given terminal state.
func SessionClosed(state string, endUnix int64) SessionOption {
	return func(s *sessionData) {
		s.endedAt = endUnix
		s.terminalState = state
	}
}

// eventData holds all columns for a dose-event row to be inserted.
type eventData struct {
	guid            string
	eventType       string
	occurredAt      int64
	sessionKey      string
	linkSessionKey  string
	tzOffsetMinutes int
	metadata        any
}

func defaultEvent(eventType string, occurredAt int64) eventData {
	return eventData{
		guid:       uuid.NewString(),
		eventType:  eventType,
		occurredAt: occurredAt,
	}
}

// checkInData holds all columns for a check-in row to be inserted.
type checkInData struct {
	sessionKey string
	kind       string
	recordedAt int64
}

// EventOption configures an event row during builder setup.
type EventOption func(*eventData)

// EventSession sets the event's session key and links it to that session's
// row id.
func EventSession(key string) EventOption {
	return func(e *eventData) {
		e.sessionKey = key
		e.linkSessionKey = key
	}
}

// EventKeyOnly sets the session key without a session row link, as written
// by versions that predate the sessions table.
func EventKeyOnly(key string) EventOption {
	return func(e *eventData) { e.sessionKey = key }
}

// EventTZOffset sets the captured timezone offset in minutes.
func EventTZOffset(minutes int) EventOption {
	return func(e *eventData) { e.tzOffsetMinutes = minutes }
}

// EventMetadata sets the metadata column to a raw JSON string.
func EventMetadata(raw string) EventOption {
	return func(e *eventData) { e.metadata = raw }
}
