package sqlite

import (
	"encoding/json"
	"time"

	"github.com/dosetap/dosetap/internal/sessions/domain"
)

// SessionModel represents the database row for the sessions table.
// Fields map directly to SQL columns with Unix timestamps for time values.
type SessionModel struct {
	ID         int64
	GUID       string
	SessionKey string

	StartedAt int64  // Unix timestamp
	EndedAt   *int64 // Unix timestamp, nullable

	Dose1At      *int64 // Unix timestamp, nullable
	Dose2At      *int64 // Unix timestamp, nullable
	SnoozeCount  int
	Dose2Skipped bool

	WakeFinalAt      *int64 // Unix timestamp, nullable
	CheckInCompleted bool

	Dose1TZOffsetMinutes *int64 // nullable until dose 1 is recorded

	TerminalState *string // nullable while open
}

// toSessionModel converts a domain Session entity to a database SessionModel.
func toSessionModel(s *domain.Session) *SessionModel {
	m := &SessionModel{
		ID:               s.ID(),
		GUID:             s.GUID(),
		SessionKey:       s.Key(),
		StartedAt:        s.Start().Unix(),
		SnoozeCount:      s.SnoozeCount(),
		Dose2Skipped:     s.Dose2Skipped(),
		CheckInCompleted: s.CheckInCompleted(),
	}
	if s.End() != nil {
		endedAt := s.End().Unix()
		m.EndedAt = &endedAt
	}
	if s.Dose1Time() != nil {
		dose1At := s.Dose1Time().Unix()
		m.Dose1At = &dose1At
	}
	if s.Dose2Time() != nil {
		dose2At := s.Dose2Time().Unix()
		m.Dose2At = &dose2At
	}
	if s.WakeFinalTime() != nil {
		wakeFinalAt := s.WakeFinalTime().Unix()
		m.WakeFinalAt = &wakeFinalAt
	}
	if s.Dose1TZOffsetMinutes() != nil {
		offset := int64(*s.Dose1TZOffsetMinutes())
		m.Dose1TZOffsetMinutes = &offset
	}
	if s.TerminalState() != "" {
		state := string(s.TerminalState())
		m.TerminalState = &state
	}
	return m
}

// toDomain converts a database SessionModel to a domain Session entity.
func (m *SessionModel) toDomain() *domain.Session {
	var end, dose1Time, dose2Time, wakeFinalTime *time.Time
	if m.EndedAt != nil {
		t := time.Unix(*m.EndedAt, 0)
		end = &t
	}
	if m.Dose1At != nil {
		t := time.Unix(*m.Dose1At, 0)
		dose1Time = &t
	}
	if m.Dose2At != nil {
		t := time.Unix(*m.Dose2At, 0)
		dose2Time = &t
	}
	if m.WakeFinalAt != nil {
		t := time.Unix(*m.WakeFinalAt, 0)
		wakeFinalTime = &t
	}
	var dose1TZOffsetMinutes *int
	if m.Dose1TZOffsetMinutes != nil {
		offset := int(*m.Dose1TZOffsetMinutes)
		dose1TZOffsetMinutes = &offset
	}
	var terminalState domain.TerminalState
	if m.TerminalState != nil {
		terminalState = domain.TerminalState(*m.TerminalState)
	}
	return domain.ReconstituteSession(
		m.ID,
		m.GUID,
		m.SessionKey,
		time.Unix(m.StartedAt, 0),
		end,
		dose1Time,
		dose2Time,
		m.SnoozeCount,
		m.Dose2Skipped,
		wakeFinalTime,
		m.CheckInCompleted,
		dose1TZOffsetMinutes,
		terminalState,
	)
}

// DoseEventModel represents the database row for the dose_events table.
type DoseEventModel struct {
	ID              int64
	GUID            string
	EventType       string
	OccurredAt      int64   // Unix timestamp
	SessionKey      string  // '' for legacy rows awaiting backfill
	SessionID       *int64  // nullable for legacy rows
	TZOffsetMinutes int64
	Metadata        *string // nullable, JSON encoded
}

// toDoseEventModel converts a domain DoseEvent to a database DoseEventModel.
func toDoseEventModel(e *domain.DoseEvent) *DoseEventModel {
	m := &DoseEventModel{
		ID:              e.ID(),
		GUID:            e.GUID(),
		EventType:       string(e.Type()),
		OccurredAt:      e.Timestamp().Unix(),
		SessionKey:      e.SessionKey(),
		SessionID:       e.SessionID(),
		TZOffsetMinutes: int64(e.TZOffsetMinutes()),
	}
	if len(e.Metadata()) > 0 {
		metadataJSON, err := json.Marshal(e.Metadata())
		if err == nil {
			metadata := string(metadataJSON)
			m.Metadata = &metadata
		}
	}
	return m
}

// toDomain converts a database DoseEventModel to a domain DoseEvent.
func (m *DoseEventModel) toDomain() *domain.DoseEvent {
	var metadata map[string]string
	if m.Metadata != nil {
		_ = json.Unmarshal([]byte(*m.Metadata), &metadata)
	}
	return domain.ReconstituteDoseEvent(
		m.ID,
		m.GUID,
		domain.EventType(m.EventType),
		time.Unix(m.OccurredAt, 0),
		m.SessionKey,
		m.SessionID,
		int(m.TZOffsetMinutes),
		metadata,
	)
}

// CheckInModel represents the database row for the check_ins table.
type CheckInModel struct {
	ID         int64
	SessionKey string
	Kind       string
	RecordedAt int64   // Unix timestamp
	Fields     *string // nullable, JSON encoded
}

// toCheckInModel converts a domain CheckIn to a database CheckInModel.
func toCheckInModel(c *domain.CheckIn) *CheckInModel {
	m := &CheckInModel{
		ID:         c.ID,
		SessionKey: c.SessionKey,
		Kind:       string(c.Kind),
		RecordedAt: c.RecordedAt.Unix(),
	}
	if len(c.Fields) > 0 {
		fieldsJSON, err := json.Marshal(c.Fields)
		if err == nil {
			fields := string(fieldsJSON)
			m.Fields = &fields
		}
	}
	return m
}

// toDomain converts a database CheckInModel to a domain CheckIn.
func (m *CheckInModel) toDomain() *domain.CheckIn {
	var fields map[string]string
	if m.Fields != nil {
		_ = json.Unmarshal([]byte(*m.Fields), &fields)
	}
	return &domain.CheckIn{
		ID:         m.ID,
		SessionKey: m.SessionKey,
		Kind:       domain.CheckInKind(m.Kind),
		RecordedAt: time.Unix(m.RecordedAt, 0),
		Fields:     fields,
	}
}
