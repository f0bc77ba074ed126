// Package domain provides the pure domain layer for dosing sessions with no
// infrastructure dependencies.
//
// This package contains only standard-library code:
//   - The Session entity with encapsulated state and behavior
//   - The DoseEvent append-only log record and ordinal classification
//   - The session-key and dose-window calculators (pure functions)
//   - The EventLog interface for persistence abstraction
//   - Domain-specific error types
//
// The domain layer has no knowledge of infrastructure concerns (databases,
// timers, reminder delivery).
package domain

import "time"

// TerminalState records how a session ended. It is set exactly when the
// session's end timestamp is set, and never before.
type TerminalState string

const (
	// TerminalCompleted indicates the user finalized wake and check-in.
	TerminalCompleted TerminalState = "completed"

	// TerminalSkipped indicates dose 2 was explicitly skipped and the
	// session then closed.
	TerminalSkipped TerminalState = "skipped"

	// TerminalExpiredSleptThrough indicates sleep-through auto-expiry.
	TerminalExpiredSleptThrough TerminalState = "expired_slept_through"

	// TerminalIncompleteMissedCheckIn indicates the missed check-in
	// cutoff passed with the session still open.
	TerminalIncompleteMissedCheckIn TerminalState = "incomplete_missed_checkin"

	// TerminalIncompletePrepRollover indicates the prep-time soft boundary
	// rolled the session over.
	TerminalIncompletePrepRollover TerminalState = "incomplete_prep_rollover"
)

// String returns the string representation of the terminal state.
func (t TerminalState) String() string {
	return string(t)
}

// IsValid returns true for a recognized terminal state.
func (t TerminalState) IsValid() bool {
	switch t {
	case TerminalCompleted, TerminalSkipped, TerminalExpiredSleptThrough,
		TerminalIncompleteMissedCheckIn, TerminalIncompletePrepRollover:
		return true
	default:
		return false
	}
}

// Session is the mutable aggregate for one logical night. All fields are
// unexported to enforce encapsulation; use the constructor and getter
// methods to access data.
//
// Invariants: at most one open session exists at a time (end == nil);
// dose2Time implies dose1Time is set and chronologically earlier;
// terminalState is set iff end is set.
type Session struct {
	id   int64
	guid string
	key  string

	start time.Time
	end   *time.Time

	dose1Time    *time.Time
	dose2Time    *time.Time
	snoozeCount  int
	dose2Skipped bool

	wakeFinalTime    *time.Time
	checkInCompleted bool

	// Captured once at dose 1; reference point for timezone-drift
	// detection for the life of the session.
	dose1TZOffsetMinutes *int

	terminalState TerminalState
}

// NewSession creates an open session for the given key starting at start.
// The ID is left as zero; it is assigned by the persistence layer.
func NewSession(guid, key string, start time.Time) *Session {
	return &Session{
		guid:  guid,
		key:   key,
		start: start,
	}
}

// ReconstituteSession rebuilds a Session from persisted data.
func ReconstituteSession(
	id int64,
	guid, key string,
	start time.Time,
	end *time.Time,
	dose1Time, dose2Time *time.Time,
	snoozeCount int,
	dose2Skipped bool,
	wakeFinalTime *time.Time,
	checkInCompleted bool,
	dose1TZOffsetMinutes *int,
	terminalState TerminalState,
) *Session {
	return &Session{
		id:                   id,
		guid:                 guid,
		key:                  key,
		start:                start,
		end:                  end,
		dose1Time:            dose1Time,
		dose2Time:            dose2Time,
		snoozeCount:          snoozeCount,
		dose2Skipped:         dose2Skipped,
		wakeFinalTime:        wakeFinalTime,
		checkInCompleted:     checkInCompleted,
		dose1TZOffsetMinutes: dose1TZOffsetMinutes,
		terminalState:        terminalState,
	}
}

// ID returns the database identifier, 0 before persistence.
func (s *Session) ID() int64 { return s.id }

// GUID returns the globally unique identifier for this session.
func (s *Session) GUID() string { return s.guid }

// Key returns the session key (the night's calendar-day string).
func (s *Session) Key() string { return s.key }

// Start returns when the session was created.
func (s *Session) Start() time.Time { return s.start }

// End returns when the session closed, or nil while open.
func (s *Session) End() *time.Time { return s.end }

// IsOpen reports whether the session has not yet closed.
func (s *Session) IsOpen() bool { return s.end == nil }

// Dose1Time returns the first dose timestamp, or nil.
func (s *Session) Dose1Time() *time.Time { return s.dose1Time }

// Dose2Time returns the second dose timestamp, or nil.
func (s *Session) Dose2Time() *time.Time { return s.dose2Time }

// SnoozeCount returns the number of recorded snoozes.
func (s *Session) SnoozeCount() int { return s.snoozeCount }

// Dose2Skipped reports whether dose 2 was skipped.
func (s *Session) Dose2Skipped() bool { return s.dose2Skipped }

// WakeFinalTime returns the finalized wake timestamp, or nil.
func (s *Session) WakeFinalTime() *time.Time { return s.wakeFinalTime }

// CheckInCompleted reports whether the morning check-in was completed.
func (s *Session) CheckInCompleted() bool { return s.checkInCompleted }

// Dose1TZOffsetMinutes returns the UTC offset captured at dose 1, or nil if
// no dose 1 was recorded.
func (s *Session) Dose1TZOffsetMinutes() *int { return s.dose1TZOffsetMinutes }

// TerminalState returns how the session ended, "" while open.
func (s *Session) TerminalState() TerminalState { return s.terminalState }

// SetID assigns the row id after insert. Called by the persistence layer.
func (s *Session) SetID(id int64) { s.id = id }

// RecordDose1 sets the first dose time and captures the timezone offset.
// The offset is captured exactly once and never overwritten for the life of
// the session, even if dose 1 is re-recorded after an undo.
func (s *Session) RecordDose1(t time.Time, tzOffsetMinutes int) {
	s.dose1Time = &t
	if s.dose1TZOffsetMinutes == nil {
		offset := tzOffsetMinutes
		s.dose1TZOffsetMinutes = &offset
	}
}

// RecordDose2 sets the second dose time.
func (s *Session) RecordDose2(t time.Time) {
	s.dose2Time = &t
}

// MarkDose2Skipped flags dose 2 as skipped.
func (s *Session) MarkDose2Skipped() {
	s.dose2Skipped = true
}

// IncrementSnooze adds one snooze to the counter.
func (s *Session) IncrementSnooze() {
	s.snoozeCount++
}

// RecordWakeFinal sets the finalized wake time.
func (s *Session) RecordWakeFinal(t time.Time) {
	s.wakeFinalTime = &t
}

// MarkCheckInCompleted flags the morning check-in as done.
func (s *Session) MarkCheckInCompleted() {
	s.checkInCompleted = true
}

// Close ends the session with the given terminal state at the given instant.
// Closing an already-closed session is a no-op so that independent close
// triggers cannot overwrite each other's terminal state.
func (s *Session) Close(state TerminalState, at time.Time) {
	if s.end != nil {
		return
	}
	s.end = &at
	s.terminalState = state
}

// ApplyDerived replaces the dose summary fields with state rebuilt from the
// event log. Used by undo and by the reload path when summary fields are
// implausible.
func (s *Session) ApplyDerived(d DerivedSummary) {
	s.dose1Time = d.Dose1Time
	s.dose2Time = d.Dose2Time
	s.dose2Skipped = d.Dose2Skipped
	s.snoozeCount = d.SnoozeCount
}

// ClearDose2 removes the second dose timestamp. Used by the reload path when
// the recorded value is chronologically implausible.
func (s *Session) ClearDose2() {
	s.dose2Time = nil
}

// WindowInput projects the session fields the phase calculator reads.
func (s *Session) WindowInput() WindowInput {
	return WindowInput{
		Dose1Time:    s.dose1Time,
		Dose2Time:    s.dose2Time,
		Dose2Skipped: s.dose2Skipped,
		SnoozeCount:  s.snoozeCount,
		SleptThrough: s.terminalState == TerminalExpiredSleptThrough,
	}
}
