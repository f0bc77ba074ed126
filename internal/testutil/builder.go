// Package testutil seeds dosing fixture rows directly over SQL, bypassing
// the repository layer, for tests that need legacy or malformed data the
// repository would never write itself.
package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// Builder accumulates fixture rows and inserts them in dependency order:
// sessions first, then events, then check-ins.
type Builder struct {
	t        *testing.T
	db       *sql.DB
	sessions []sessionData
	events   []eventData
	checkIns []checkInData
}

// NewBuilder creates a builder for the given test database connection.
func NewBuilder(t *testing.T, db *sql.DB) *Builder {
	t.Helper()
	return &Builder{t: t, db: db}
}

// WithSession adds a session row with optional configuration.
func (b *Builder) WithSession(key string, opts ...SessionOption) *Builder {
	session := defaultSession(key)
	for _, opt := range opts {
		opt(&session)
	}
	b.sessions = append(b.sessions, session)
	return b
}

// WithEvent adds a dose-event row with optional configuration.
func (b *Builder) WithEvent(eventType string, occurredAt int64, opts ...EventOption) *Builder {
	event := defaultEvent(eventType, occurredAt)
	for _, opt := range opts {
		opt(&event)
	}
	b.events = append(b.events, event)
	return b
}

// WithCheckIn adds a check-in row.
func (b *Builder) WithCheckIn(sessionKey, kind string, recordedAt int64) *Builder {
	b.checkIns = append(b.checkIns, checkInData{
		sessionKey: sessionKey,
		kind:       kind,
		recordedAt: recordedAt,
	})
	return b
}

// Build inserts all accumulated rows and fails the test on any error.
func (b *Builder) Build() {
	b.t.Helper()

	for _, s := range b.sessions {
		_, err := b.db.Exec(
			`INSERT INTO sessions (guid, session_key, started_at, ended_at, dose1_at, dose2_at,
				snooze_count, dose2_skipped, wake_final_at, checkin_completed,
				dose1_tz_offset_minutes, terminal_state, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.guid, s.key, s.startedAt, s.endedAt, s.dose1At, s.dose2At,
			s.snoozeCount, s.dose2Skipped, s.wakeFinalAt, s.checkInCompleted,
			s.dose1TZOffset, s.terminalState, s.startedAt, s.startedAt,
		)
		require.NoError(b.t, err, "inserting session %s", s.key)
	}

	for _, e := range b.events {
		var sessionID any
		if e.linkSessionKey != "" {
			require.NoError(b.t, b.db.QueryRow(
				`SELECT id FROM sessions WHERE session_key = ?`, e.linkSessionKey,
			).Scan(&sessionID), "resolving session link %s", e.linkSessionKey)
		}
		_, err := b.db.Exec(
			`INSERT INTO dose_events (guid, event_type, occurred_at, session_key, session_id,
				tz_offset_minutes, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.guid, e.eventType, e.occurredAt, e.sessionKey, sessionID,
			e.tzOffsetMinutes, e.metadata, e.occurredAt,
		)
		require.NoError(b.t, err, "inserting event %s", e.guid)
	}

	for _, c := range b.checkIns {
		_, err := b.db.Exec(
			`INSERT INTO check_ins (session_key, kind, recorded_at, fields, created_at)
			 VALUES (?, ?, ?, NULL, ?)`,
			c.sessionKey, c.kind, c.recordedAt, c.recordedAt,
		)
		require.NoError(b.t, err, "inserting check-in for %s", c.sessionKey)
	}
}
