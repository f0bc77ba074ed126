package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dosetap/dosetap/internal/log"
	"github.com/dosetap/dosetap/internal/sessions/domain"
)

// sessionColumns is the list of columns to select for session queries.
const sessionColumns = `id, guid, session_key, started_at, ended_at, dose1_at, dose2_at,
	snooze_count, dose2_skipped, wake_final_at, checkin_completed, dose1_tz_offset_minutes, terminal_state`

// eventColumns is the list of columns to select for dose event queries.
const eventColumns = `id, guid, event_type, occurred_at, session_key, session_id, tz_offset_minutes, metadata`

// eventLog implements domain.EventLog using SQLite. Every multi-row mutation
// runs in a single transaction; connections open with _txlock=immediate so
// write transactions take the write lock up front.
type eventLog struct {
	db *sql.DB
}

// newEventLog creates a new eventLog instance.
func newEventLog(db *sql.DB) *eventLog {
	return &eventLog{db: db}
}

// Ensure eventLog implements domain.EventLog.
var _ domain.EventLog = (*eventLog)(nil)

// scanSession scans a row into a SessionModel.
func scanSession(scanner interface{ Scan(...any) error }) (*SessionModel, error) {
	var model SessionModel
	err := scanner.Scan(
		&model.ID, &model.GUID, &model.SessionKey,
		&model.StartedAt, &model.EndedAt,
		&model.Dose1At, &model.Dose2At,
		&model.SnoozeCount, &model.Dose2Skipped,
		&model.WakeFinalAt, &model.CheckInCompleted,
		&model.Dose1TZOffsetMinutes, &model.TerminalState,
	)
	return &model, err
}

// scanEvent scans a row into a DoseEventModel.
func scanEvent(scanner interface{ Scan(...any) error }) (*DoseEventModel, error) {
	var model DoseEventModel
	err := scanner.Scan(
		&model.ID, &model.GUID, &model.EventType, &model.OccurredAt,
		&model.SessionKey, &model.SessionID, &model.TZOffsetMinutes, &model.Metadata,
	)
	return &model, err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// saveSession inserts or updates the session row within the given execer.
// For new sessions (ID == 0), inserts a new row and sets the session ID.
func saveSession(e execer, session *domain.Session) error {
	model := toSessionModel(session)
	now := time.Now().Unix()

	if session.ID() == 0 {
		result, err := e.Exec(
			`INSERT INTO sessions (
				guid, session_key, started_at, ended_at, dose1_at, dose2_at,
				snooze_count, dose2_skipped, wake_final_at, checkin_completed,
				dose1_tz_offset_minutes, terminal_state, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			model.GUID, model.SessionKey, model.StartedAt, model.EndedAt,
			model.Dose1At, model.Dose2At,
			model.SnoozeCount, model.Dose2Skipped,
			model.WakeFinalAt, model.CheckInCompleted,
			model.Dose1TZOffsetMinutes, model.TerminalState,
			now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		session.SetID(id)
		return nil
	}

	_, err := e.Exec(
		`UPDATE sessions SET
			ended_at = ?, dose1_at = ?, dose2_at = ?,
			snooze_count = ?, dose2_skipped = ?, wake_final_at = ?, checkin_completed = ?,
			dose1_tz_offset_minutes = ?, terminal_state = ?, updated_at = ?
		WHERE id = ?`,
		model.EndedAt, model.Dose1At, model.Dose2At,
		model.SnoozeCount, model.Dose2Skipped,
		model.WakeFinalAt, model.CheckInCompleted,
		model.Dose1TZOffsetMinutes, model.TerminalState, now,
		model.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// RecordEvent appends an event and persists the session summary in one
// transaction. The event row is linked to the session via session_id;
// for new sessions the session row is inserted first so the ID exists.
func (l *eventLog) RecordEvent(event *domain.DoseEvent, session *domain.Session) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveSession(tx, session); err != nil {
		return err
	}

	model := toDoseEventModel(event)
	result, err := tx.Exec(
		`INSERT INTO dose_events (
			guid, event_type, occurred_at, session_key, session_id, tz_offset_minutes, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		model.GUID, model.EventType, model.OccurredAt, model.SessionKey,
		session.ID(), model.TZOffsetMinutes, model.Metadata, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	event.SetID(id)

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	return nil
}

// SaveSession persists session summary fields alone.
func (l *eventLog) SaveSession(session *domain.Session) error {
	return saveSession(l.db, session)
}

// FindSessionByKey retrieves a session by its key.
// Returns SessionNotFoundError if no matching session exists.
func (l *eventLog) FindSessionByKey(key string) (*domain.Session, error) {
	row := l.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE session_key = ?`,
		key,
	)
	model, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.SessionNotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by key: %w", err)
	}
	return model.toDomain(), nil
}

// OpenSession retrieves the single open session.
// Returns NoOpenSessionError if every session is closed.
func (l *eventLog) OpenSession() (*domain.Session, error) {
	row := l.db.QueryRow(
		`SELECT ` + sessionColumns + ` FROM sessions WHERE ended_at IS NULL ORDER BY session_key DESC LIMIT 1`,
	)
	model, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NoOpenSessionError{}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open session: %w", err)
	}
	return model.toDomain(), nil
}

// Sessions lists sessions ordered by key descending (newest night first).
// A limit of 0 applies no limit.
func (l *eventLog) Sessions(limit int) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY session_key DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*domain.Session
	for rows.Next() {
		model, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// EventsForSession returns the session's events ordered by timestamp
// ascending, insertion order for ties.
func (l *eventLog) EventsForSession(key string) ([]*domain.DoseEvent, error) {
	rows, err := l.db.Query(
		`SELECT `+eventColumns+` FROM dose_events WHERE session_key = ? ORDER BY occurred_at ASC, id ASC`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*domain.DoseEvent
	for rows.Next() {
		model, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// CountEventsForSession returns the event row count for a key.
func (l *eventLog) CountEventsForSession(key string) (int, error) {
	var count int
	err := l.db.QueryRow(
		`SELECT COUNT(*) FROM dose_events WHERE session_key = ?`,
		key,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// DeleteSession removes the session row and all dependent rows (events,
// check-ins) in one transaction, all-or-nothing.
// Returns SessionNotFoundError if no session exists for the key.
func (l *eventLog) DeleteSession(key string) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sessionID int64
	err = tx.QueryRow(`SELECT id FROM sessions WHERE session_key = ?`, key).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SessionNotFoundError{Key: key}
	}
	if err != nil {
		return fmt.Errorf("failed to find session for delete: %w", err)
	}

	// Legacy rows may carry the key without the session link, or vice versa.
	if _, err := tx.Exec(
		`DELETE FROM dose_events WHERE session_key = ? OR session_id = ?`,
		key, sessionID,
	); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM check_ins WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete check-ins: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	log.Debug(log.CatDB, "Session deleted", "key", key)
	return nil
}

// DeleteLatestEvent removes the most recent event of the given type for a
// session and returns it. Returns EventNotFoundError when no such event
// exists.
func (l *eventLog) DeleteLatestEvent(key string, eventType domain.EventType) (*domain.DoseEvent, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRow(
		`SELECT `+eventColumns+` FROM dose_events
		 WHERE session_key = ? AND event_type = ?
		 ORDER BY occurred_at DESC, id DESC LIMIT 1`,
		key, string(eventType),
	)
	model, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.EventNotFoundError{Key: key, Type: eventType}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest event: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM dose_events WHERE id = ?`, model.ID); err != nil {
		return nil, fmt.Errorf("failed to delete event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event delete: %w", err)
	}
	return model.toDomain(), nil
}

// SaveCheckIn persists a check-in record and assigns its ID.
func (l *eventLog) SaveCheckIn(checkIn *domain.CheckIn) error {
	model := toCheckInModel(checkIn)
	result, err := l.db.Exec(
		`INSERT INTO check_ins (session_key, kind, recorded_at, fields, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		model.SessionKey, model.Kind, model.RecordedAt, model.Fields, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert check-in: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	checkIn.ID = id
	return nil
}

// CheckInsForSession returns a session's check-ins ordered by recorded_at
// ascending.
func (l *eventLog) CheckInsForSession(key string) ([]*domain.CheckIn, error) {
	rows, err := l.db.Query(
		`SELECT id, session_key, kind, recorded_at, fields FROM check_ins
		 WHERE session_key = ? ORDER BY recorded_at ASC, id ASC`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var checkIns []*domain.CheckIn
	for rows.Next() {
		var model CheckInModel
		if err := rows.Scan(&model.ID, &model.SessionKey, &model.Kind, &model.RecordedAt, &model.Fields); err != nil {
			return nil, fmt.Errorf("failed to scan check-in row: %w", err)
		}
		checkIns = append(checkIns, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating check-in rows: %w", err)
	}
	return checkIns, nil
}

// BackfillSessionKeys recomputes the session key of legacy event rows with a
// missing key or session link, from each row's timestamp and the timezone
// offset captured at write time. Idempotent; returns the number of rows
// changed.
func (l *eventLog) BackfillSessionKeys(rolloverHour int) (int, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(
		`SELECT id, occurred_at, tz_offset_minutes, session_key, session_id
		 FROM dose_events WHERE session_key = '' OR session_id IS NULL`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list legacy events: %w", err)
	}

	type legacyRow struct {
		id         int64
		occurredAt int64
		tzOffset   int64
		sessionKey string
		sessionID  *int64
	}
	var legacy []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.occurredAt, &r.tzOffset, &r.sessionKey, &r.sessionID); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan legacy event: %w", err)
		}
		legacy = append(legacy, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("error iterating legacy events: %w", err)
	}
	_ = rows.Close()

	updated := 0
	for _, r := range legacy {
		// The offset captured at write time reconstructs the writer's
		// local clock; the ambient zone at backfill time is irrelevant.
		loc := time.FixedZone("", int(r.tzOffset)*60)
		key := domain.SessionKey(time.Unix(r.occurredAt, 0), loc, rolloverHour)

		var sessionID *int64
		var id int64
		err := tx.QueryRow(`SELECT id FROM sessions WHERE session_key = ?`, key).Scan(&id)
		if err == nil {
			sessionID = &id
		} else if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("failed to look up session for backfill: %w", err)
		}

		sameKey := r.sessionKey == key
		sameID := (r.sessionID == nil && sessionID == nil) ||
			(r.sessionID != nil && sessionID != nil && *r.sessionID == *sessionID)
		if sameKey && sameID {
			continue
		}

		if _, err := tx.Exec(
			`UPDATE dose_events SET session_key = ?, session_id = ? WHERE id = ?`,
			key, sessionID, r.id,
		); err != nil {
			return 0, fmt.Errorf("failed to backfill event %d: %w", r.id, err)
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit backfill: %w", err)
	}

	if updated > 0 {
		log.Info(log.CatDB, "Backfilled legacy event rows", "updated", updated)
	}
	return updated, nil
}

// SchemaVersion returns the current migration version.
func (l *eventLog) SchemaVersion() (uint, error) {
	var version uint
	err := l.db.QueryRow(`SELECT version FROM schema_migrations LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Close releases any resources held by the log.
// This is a no-op because the connection is owned by the DB struct.
func (l *eventLog) Close() error {
	return nil
}
