package domain

import "time"

// CheckIn is a simple structured record attached to a session: a pre-sleep
// log or a morning check-in form. Check-ins carry no state-machine behavior;
// they exist so the night's record is complete and so session deletion has
// dependent rows to clean up atomically.
type CheckIn struct {
	ID         int64
	SessionKey string
	Kind       CheckInKind
	RecordedAt time.Time
	Fields     map[string]string
}

// CheckInKind distinguishes the two check-in forms.
type CheckInKind string

const (
	CheckInPreSleep CheckInKind = "pre_sleep"
	CheckInMorning  CheckInKind = "morning"
)

// IsValid returns true for a recognized check-in kind.
func (k CheckInKind) IsValid() bool {
	return k == CheckInPreSleep || k == CheckInMorning
}

// EventLog defines the persistence interface for sessions and their
// append-only dose events. Implementations must guarantee that every
// multi-row mutation executes inside one transaction with rollback on any
// step's failure. Only the engine may call mutating methods; there is no
// second write path by construction.
type EventLog interface {
	// RecordEvent appends an event and persists the session summary in the
	// same atomic unit of work. For new sessions (ID == 0) the session row
	// is inserted and its ID assigned; the event is linked to it.
	RecordEvent(event *DoseEvent, session *Session) error

	// SaveSession persists session summary fields alone (close paths,
	// check-in completion).
	SaveSession(session *Session) error

	// FindSessionByKey retrieves a session by its key.
	// Returns SessionNotFoundError if none exists.
	FindSessionByKey(key string) (*Session, error)

	// OpenSession retrieves the single open session (end IS NULL).
	// Returns NoOpenSessionError if every session is closed.
	OpenSession() (*Session, error)

	// Sessions lists sessions ordered by key descending (newest night
	// first). A limit of 0 applies no limit.
	Sessions(limit int) ([]*Session, error)

	// EventsForSession returns the session's events ordered by timestamp
	// ascending, insertion order for ties.
	EventsForSession(key string) ([]*DoseEvent, error)

	// CountEventsForSession returns the event row count for a key. Used
	// for invariant and regression checks.
	CountEventsForSession(key string) (int, error)

	// DeleteSession removes the session row and all dependent rows
	// (events, check-ins) in one transaction, all-or-nothing.
	// Returns SessionNotFoundError if no session exists for the key.
	DeleteSession(key string) error

	// DeleteLatestEvent removes the most recent event of the given type
	// for a session and returns it. This is the only sanctioned event
	// deletion. Returns EventNotFoundError when no such event exists.
	DeleteLatestEvent(key string, eventType EventType) (*DoseEvent, error)

	// SaveCheckIn persists a check-in record.
	SaveCheckIn(checkIn *CheckIn) error

	// CheckInsForSession returns a session's check-ins ordered by
	// recorded_at ascending.
	CheckInsForSession(key string) ([]*CheckIn, error)

	// BackfillSessionKeys recomputes the session key of legacy event rows
	// with a missing key or session link, from each row's timestamp and
	// the timezone offset captured at write time. Idempotent; returns the
	// number of rows updated.
	BackfillSessionKeys(rolloverHour int) (int, error)

	// SchemaVersion returns the current migration version.
	SchemaVersion() (uint, error)

	// Close releases any resources held by the log.
	Close() error
}
