package domain

import (
	"sort"
	"time"
)

// EventType identifies a dose event in the append-only log.
type EventType string

const (
	// EventDose1 is the first dose of a session.
	EventDose1 EventType = "dose1"

	// EventDose2 is the second dose of a session.
	EventDose2 EventType = "dose2"

	// EventExtraDose is any dose-type event beyond the first two,
	// regardless of caller intent.
	EventExtraDose EventType = "extra_dose"

	// EventDose2Skipped records an explicit or automatic skip of dose 2.
	EventDose2Skipped EventType = "dose2_skipped"

	// EventSnooze records a reminder snooze.
	EventSnooze EventType = "snooze"
)

// Metadata keys with defined meaning. Callers may attach arbitrary extra
// keys; these are the ones the engine reads back.
const (
	MetaIsEarly     = "is_early"
	MetaIsExtraDose = "is_extra_dose"
	MetaReason      = "reason"

	// ReasonSleptThrough marks an auto-recorded skip from sleep-through
	// detection.
	ReasonSleptThrough = "slept_through"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid returns true for a recognized event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventDose1, EventDose2, EventExtraDose, EventDose2Skipped, EventSnooze:
		return true
	default:
		return false
	}
}

// IsDose reports whether the event counts toward the dose ordinal.
func (t EventType) IsDose() bool {
	return t == EventDose1 || t == EventDose2 || t == EventExtraDose
}

// DoseEvent is an immutable, append-only log record. Events are never
// mutated after creation except by the persistence layer assigning the row
// ID, and never deleted except through the undo operation.
type DoseEvent struct {
	id              int64
	guid            string
	eventType       EventType
	timestamp       time.Time
	sessionKey      string
	sessionID       *int64 // nullable for legacy rows; never nil on new writes
	tzOffsetMinutes int    // UTC offset at write time, reference for backfill
	metadata        map[string]string
}

// NewDoseEvent creates an event for a new write. sessionID must be the
// owning session's row ID; tzOffsetMinutes is the writer's UTC offset at
// the event timestamp.
func NewDoseEvent(guid string, eventType EventType, timestamp time.Time, sessionKey string, sessionID int64, tzOffsetMinutes int, metadata map[string]string) *DoseEvent {
	return &DoseEvent{
		guid:            guid,
		eventType:       eventType,
		timestamp:       timestamp,
		sessionKey:      sessionKey,
		sessionID:       &sessionID,
		tzOffsetMinutes: tzOffsetMinutes,
		metadata:        metadata,
	}
}

// ReconstituteDoseEvent rebuilds an event from persisted data. sessionID may
// be nil for rows written before session linkage existed.
func ReconstituteDoseEvent(id int64, guid string, eventType EventType, timestamp time.Time, sessionKey string, sessionID *int64, tzOffsetMinutes int, metadata map[string]string) *DoseEvent {
	return &DoseEvent{
		id:              id,
		guid:            guid,
		eventType:       eventType,
		timestamp:       timestamp,
		sessionKey:      sessionKey,
		sessionID:       sessionID,
		tzOffsetMinutes: tzOffsetMinutes,
		metadata:        metadata,
	}
}

// ID returns the database identifier, 0 before persistence.
func (e *DoseEvent) ID() int64 { return e.id }

// GUID returns the globally unique identifier for this event.
func (e *DoseEvent) GUID() string { return e.guid }

// Type returns the event type.
func (e *DoseEvent) Type() EventType { return e.eventType }

// Timestamp returns the instant the event occurred (caller-supplied, which
// may be backdated).
func (e *DoseEvent) Timestamp() time.Time { return e.timestamp }

// SessionKey returns the session key the event is filed under.
func (e *DoseEvent) SessionKey() string { return e.sessionKey }

// SessionID returns the owning session row ID, or nil for legacy rows.
func (e *DoseEvent) SessionID() *int64 { return e.sessionID }

// TZOffsetMinutes returns the UTC offset captured at write time.
func (e *DoseEvent) TZOffsetMinutes() int { return e.tzOffsetMinutes }

// Metadata returns the opaque key/value metadata, possibly nil.
func (e *DoseEvent) Metadata() map[string]string { return e.metadata }

// Meta returns a single metadata value, "" when absent.
func (e *DoseEvent) Meta(key string) string {
	if e.metadata == nil {
		return ""
	}
	return e.metadata[key]
}

// SetID assigns the row id after insert. Called by the persistence layer.
func (e *DoseEvent) SetID(id int64) { e.id = id }

// ClassifyDose determines the authoritative type of a dose taken at
// timestamp at, given the session's existing events. The ordinal is computed
// by counting prior dose-type events ordered by timestamp, not by insertion
// order or wall-clock assumption: a backdated write can retroactively make a
// later event the extra dose.
func ClassifyDose(existing []*DoseEvent, at time.Time) EventType {
	ordinal := 0
	for _, e := range existing {
		if !e.Type().IsDose() {
			continue
		}
		// Ties sort the existing event first.
		if !e.Timestamp().After(at) {
			ordinal++
		}
	}
	switch ordinal {
	case 0:
		return EventDose1
	case 1:
		return EventDose2
	default:
		return EventExtraDose
	}
}

// SortByTimestamp orders events by timestamp ascending, insertion order for
// ties, without mutating the input.
func SortByTimestamp(events []*DoseEvent) []*DoseEvent {
	sorted := make([]*DoseEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp().Before(sorted[j].Timestamp())
	})
	return sorted
}

// DerivedSummary is session dose state rebuilt purely from the event log.
// It is the authority the engine falls back to when summary fields are
// missing or implausible.
type DerivedSummary struct {
	Dose1Time    *time.Time
	Dose2Time    *time.Time
	Dose2Skipped bool
	SleptThrough bool
	SnoozeCount  int
}

// DeriveSummary rebuilds dose state from events. Dose ordinals follow
// timestamp order; the recorded event types are ignored in favor of the
// computed ordinals so that undo and backdating stay consistent.
func DeriveSummary(events []*DoseEvent) DerivedSummary {
	var out DerivedSummary
	ordinal := 0
	for _, e := range SortByTimestamp(events) {
		switch {
		case e.Type().IsDose():
			ts := e.Timestamp()
			switch ordinal {
			case 0:
				out.Dose1Time = &ts
			case 1:
				out.Dose2Time = &ts
			}
			ordinal++
		case e.Type() == EventDose2Skipped:
			out.Dose2Skipped = true
			if e.Meta(MetaReason) == ReasonSleptThrough {
				out.SleptThrough = true
			}
		case e.Type() == EventSnooze:
			out.SnoozeCount++
		}
	}
	return out
}
