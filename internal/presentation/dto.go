package presentation

import (
	"time"

	"github.com/dosetap/dosetap/internal/engine"
	"github.com/dosetap/dosetap/internal/sessions/domain"
)

// SessionDTO represents one night's session for presentation
type SessionDTO struct {
	Key                  string          `json:"key"`
	Open                 bool            `json:"open"`
	Start                time.Time       `json:"start"`
	End                  *time.Time      `json:"end,omitempty"`
	Dose1At              *time.Time      `json:"dose1_at,omitempty"`
	Dose2At              *time.Time      `json:"dose2_at,omitempty"`
	Dose2Skipped         bool            `json:"dose2_skipped"`
	SnoozeCount          int             `json:"snooze_count"`
	WakeFinalAt          *time.Time      `json:"wake_final_at,omitempty"`
	CheckInCompleted     bool            `json:"checkin_completed"`
	Dose1TZOffsetMinutes *int            `json:"dose1_tz_offset_minutes,omitempty"`
	TerminalState        string          `json:"terminal_state,omitempty"`
	Events               []DoseEventDTO  `json:"events,omitempty"`
	CheckIns             []CheckInDTO    `json:"check_ins,omitempty"`
}

// WindowDTO represents the computed dose-window projection
type WindowDTO struct {
	Phase            string `json:"phase"`
	ElapsedMinutes   int    `json:"elapsed_minutes"`
	RemainingMinutes int    `json:"remaining_minutes"`
	SnoozeCount      int    `json:"snooze_count"`
}

// DriftDTO represents a timezone drift advisory
type DriftDTO struct {
	DeltaMinutes    int  `json:"delta_minutes"`
	SourcesDisagree bool `json:"sources_disagree"`
}

// StatusDTO is the full status projection: session summary plus window plus
// any drift advisory
type StatusDTO struct {
	Session SessionDTO `json:"session"`
	Window  WindowDTO  `json:"window"`
	Drift   *DriftDTO  `json:"drift,omitempty"`
}

// DoseEventDTO represents one append-only dose event
type DoseEventDTO struct {
	GUID            string            `json:"guid"`
	Type            string            `json:"type"`
	Timestamp       time.Time         `json:"timestamp"`
	SessionKey      string            `json:"session_key"`
	TZOffsetMinutes int               `json:"tz_offset_minutes"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// CheckInDTO represents one check-in record
type CheckInDTO struct {
	Kind       string            `json:"kind"`
	RecordedAt time.Time         `json:"recorded_at"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// FromDomainSession converts a domain session to a DTO.
func FromDomainSession(session *domain.Session) SessionDTO {
	return SessionDTO{
		Key:                  session.Key(),
		Open:                 session.IsOpen(),
		Start:                session.Start(),
		End:                  session.End(),
		Dose1At:              session.Dose1Time(),
		Dose2At:              session.Dose2Time(),
		Dose2Skipped:         session.Dose2Skipped(),
		SnoozeCount:          session.SnoozeCount(),
		WakeFinalAt:          session.WakeFinalTime(),
		CheckInCompleted:     session.CheckInCompleted(),
		Dose1TZOffsetMinutes: session.Dose1TZOffsetMinutes(),
		TerminalState:        string(session.TerminalState()),
	}
}

// FromDomainSessions converts a slice of domain sessions to DTOs
func FromDomainSessions(sessions []*domain.Session) []SessionDTO {
	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = FromDomainSession(s)
	}
	return dtos
}

// FromDomainEvent converts a domain dose event to a DTO
func FromDomainEvent(event *domain.DoseEvent) DoseEventDTO {
	return DoseEventDTO{
		GUID:            event.GUID(),
		Type:            string(event.Type()),
		Timestamp:       event.Timestamp(),
		SessionKey:      event.SessionKey(),
		TZOffsetMinutes: event.TZOffsetMinutes(),
		Metadata:        event.Metadata(),
	}
}

// FromDomainEvents converts a slice of domain events to DTOs
func FromDomainEvents(events []*domain.DoseEvent) []DoseEventDTO {
	dtos := make([]DoseEventDTO, len(events))
	for i, e := range events {
		dtos[i] = FromDomainEvent(e)
	}
	return dtos
}

// FromDomainCheckIn converts a domain check-in to a DTO
func FromDomainCheckIn(c *domain.CheckIn) CheckInDTO {
	return CheckInDTO{
		Kind:       string(c.Kind),
		RecordedAt: c.RecordedAt,
		Fields:     c.Fields,
	}
}

// FromDomainCheckIns converts a slice of domain check-ins to DTOs
func FromDomainCheckIns(checkIns []*domain.CheckIn) []CheckInDTO {
	dtos := make([]CheckInDTO, len(checkIns))
	for i, c := range checkIns {
		dtos[i] = FromDomainCheckIn(c)
	}
	return dtos
}

// FromSnapshot converts an engine snapshot to the status DTO.
func FromSnapshot(snap *engine.Snapshot) StatusDTO {
	dto := StatusDTO{
		Session: FromDomainSession(snap.Session),
		Window: WindowDTO{
			Phase:            string(snap.Window.Phase),
			ElapsedMinutes:   snap.Window.ElapsedMinutes,
			RemainingMinutes: snap.Window.RemainingMinutes,
			SnoozeCount:      snap.Window.SnoozeCount,
		},
	}
	if snap.Drift != nil {
		dto.Drift = &DriftDTO{
			DeltaMinutes:    snap.Drift.DeltaMinutes,
			SourcesDisagree: snap.Drift.SourcesDisagree,
		}
	}
	return dto
}
