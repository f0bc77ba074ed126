package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dosetap/dosetap/internal/sessions/domain"
	"github.com/dosetap/dosetap/internal/testutil"
)

// newTestDB creates a migrated database in a temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// recordDose1 creates a session with one dose1 event and returns both.
func recordDose1(t *testing.T, eventLog domain.EventLog, key string, at time.Time) (*domain.Session, *domain.DoseEvent) {
	t.Helper()
	session := domain.NewSession(uuid.NewString(), key, at)
	session.RecordDose1(at, -300)
	event := domain.NewDoseEvent(uuid.NewString(), domain.EventDose1, at, key, 0, -300, nil)
	require.NoError(t, eventLog.RecordEvent(event, session))
	return session, event
}

func TestEventLog_RecordEvent_NewSession(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	at := time.Date(2025, 3, 8, 22, 0, 0, 0, time.UTC)
	session, event := recordDose1(t, eventLog, "2025-03-08", at)

	require.NotZero(t, session.ID(), "session ID should be assigned on insert")
	require.NotZero(t, event.ID(), "event ID should be assigned on insert")

	// The event row must be linked to the session.
	events, err := eventLog.EventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].SessionID())
	require.Equal(t, session.ID(), *events[0].SessionID())
	require.Equal(t, -300, events[0].TZOffsetMinutes())
}

func TestEventLog_RecordEvent_ExistingSessionUpdatesSummary(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	dose1At := time.Date(2025, 3, 8, 22, 0, 0, 0, time.UTC)
	session, _ := recordDose1(t, eventLog, "2025-03-08", dose1At)

	dose2At := dose1At.Add(3 * time.Hour)
	session.RecordDose2(dose2At)
	event := domain.NewDoseEvent(uuid.NewString(), domain.EventDose2, dose2At, "2025-03-08", session.ID(), -300, nil)
	require.NoError(t, eventLog.RecordEvent(event, session))

	loaded, err := eventLog.FindSessionByKey("2025-03-08")
	require.NoError(t, err)
	require.NotNil(t, loaded.Dose2Time())
	require.Equal(t, dose2At.Unix(), loaded.Dose2Time().Unix())

	count, err := eventLog.CountEventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestEventLog_RecordEvent_MetadataRoundTrip(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	at := time.Date(2025, 3, 8, 22, 0, 0, 0, time.UTC)
	session, _ := recordDose1(t, eventLog, "2025-03-08", at)

	session.MarkDose2Skipped()
	event := domain.NewDoseEvent(
		uuid.NewString(), domain.EventDose2Skipped, at.Add(5*time.Hour), "2025-03-08",
		session.ID(), -300,
		map[string]string{domain.MetaReason: domain.ReasonSleptThrough},
	)
	require.NoError(t, eventLog.RecordEvent(event, session))

	events, err := eventLog.EventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.ReasonSleptThrough, events[1].Meta(domain.MetaReason))
	require.Empty(t, events[0].Meta(domain.MetaReason), "dose1 event has no metadata")
}

func TestEventLog_SaveSession_InsertAndUpdate(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	start := time.Date(2025, 3, 8, 22, 0, 0, 0, time.UTC)
	session := domain.NewSession(uuid.NewString(), "2025-03-08", start)
	require.NoError(t, eventLog.SaveSession(session))
	require.NotZero(t, session.ID())

	closedAt := start.Add(9 * time.Hour)
	session.Close(domain.TerminalCompleted, closedAt)
	require.NoError(t, eventLog.SaveSession(session))

	loaded, err := eventLog.FindSessionByKey("2025-03-08")
	require.NoError(t, err)
	require.False(t, loaded.IsOpen())
	require.Equal(t, domain.TerminalCompleted, loaded.TerminalState())
	require.Equal(t, closedAt.Unix(), loaded.End().Unix())
}

func TestEventLog_FindSessionByKey_NotFound(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	_, err := eventLog.FindSessionByKey("2025-03-08")
	var notFound *domain.SessionNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "2025-03-08", notFound.Key)
}

func TestEventLog_OpenSession(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	// No sessions at all.
	_, err := eventLog.OpenSession()
	var noOpen *domain.NoOpenSessionError
	require.ErrorAs(t, err, &noOpen)

	// One closed, one open.
	start := time.Date(2025, 3, 7, 22, 0, 0, 0, time.UTC)
	closed := domain.NewSession(uuid.NewString(), "2025-03-07", start)
	closed.Close(domain.TerminalCompleted, start.Add(9*time.Hour))
	require.NoError(t, eventLog.SaveSession(closed))

	open := domain.NewSession(uuid.NewString(), "2025-03-08", start.AddDate(0, 0, 1))
	require.NoError(t, eventLog.SaveSession(open))

	found, err := eventLog.OpenSession()
	require.NoError(t, err)
	require.Equal(t, "2025-03-08", found.Key())
	require.True(t, found.IsOpen())
}

func TestEventLog_Sessions_OrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	for _, key := range []string{"2025-03-07", "2025-03-09", "2025-03-08"} {
		start, err := domain.ParseSessionKey(key, time.UTC)
		require.NoError(t, err)
		s := domain.NewSession(uuid.NewString(), key, start)
		require.NoError(t, eventLog.SaveSession(s))
	}

	sessions, err := eventLog.Sessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, "2025-03-09", sessions[0].Key(), "newest night first")
	require.Equal(t, "2025-03-08", sessions[1].Key())
	require.Equal(t, "2025-03-07", sessions[2].Key())

	limited, err := eventLog.Sessions(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "2025-03-09", limited[0].Key())
}

func TestEventLog_EventsForSession_OrderedByTimestamp(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	dose1At := time.Date(2025, 3, 8, 22, 0, 0, 0, time.UTC)
	session, _ := recordDose1(t, eventLog, "2025-03-08", dose1At)

	// Insert out of chronological order: the backdated snooze precedes dose1.
	snoozeAt := dose1At.Add(-30 * time.Minute)
	snooze := domain.NewDoseEvent(uuid.NewString(), domain.EventSnooze, snoozeAt, "2025-03-08", session.ID(), -300, nil)
	require.NoError(t, eventLog.RecordEvent(snooze, session))

	events, err := eventLog.EventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventSnooze, events[0].Type(), "timestamp order, not insertion order")
	require.Equal(t, domain.EventDose1, events[1].Type())
}

func TestEventLog_DeleteSession_RemovesAllDependentRows(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	dose1At := time.Date(2025, 3, 8, 22, 0, 0, 0, time.UTC)
	recordDose1(t, eventLog, "2025-03-08", dose1At)
	recordCheckIn(t, eventLog, "2025-03-08", dose1At.Add(8*time.Hour))

	// A second night that must survive the delete.
	otherAt := dose1At.AddDate(0, 0, 1)
	recordDose1(t, eventLog, "2025-03-09", otherAt)

	require.NoError(t, eventLog.DeleteSession("2025-03-08"))

	_, err := eventLog.FindSessionByKey("2025-03-08")
	var notFound *domain.SessionNotFoundError
	require.ErrorAs(t, err, &notFound)

	count, err := eventLog.CountEventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Zero(t, count, "events should be deleted with the session")

	checkIns, err := eventLog.CheckInsForSession("2025-03-08")
	require.NoError(t, err)
	require.Empty(t, checkIns, "check-ins should be deleted with the session")

	// The other night is untouched.
	count, err = eventLog.CountEventsForSession("2025-03-09")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestEventLog_DeleteSession_NotFound(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	err := eventLog.DeleteSession("2025-03-08")
	var notFound *domain.SessionNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestEventLog_DeleteLatestEvent(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	dose1At := time.Date(2025, 3, 8, 22, 0, 0, 0, time.UTC)
	session, _ := recordDose1(t, eventLog, "2025-03-08", dose1At)

	for i := 1; i <= 2; i++ {
		snooze := domain.NewDoseEvent(
			uuid.NewString(), domain.EventSnooze, dose1At.Add(time.Duration(i)*10*time.Minute),
			"2025-03-08", session.ID(), -300, nil,
		)
		session.IncrementSnooze()
		require.NoError(t, eventLog.RecordEvent(snooze, session))
	}

	deleted, err := eventLog.DeleteLatestEvent("2025-03-08", domain.EventSnooze)
	require.NoError(t, err)
	require.Equal(t, domain.EventSnooze, deleted.Type())
	require.Equal(t, dose1At.Add(20*time.Minute).Unix(), deleted.Timestamp().Unix(), "latest snooze goes first")

	count, err := eventLog.CountEventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Other event types are untouched.
	events, err := eventLog.EventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Equal(t, domain.EventDose1, events[0].Type())
}

func TestEventLog_DeleteLatestEvent_NotFound(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	dose1At := time.Date(2025, 3, 8, 22, 0, 0, 0, time.UTC)
	recordDose1(t, eventLog, "2025-03-08", dose1At)

	_, err := eventLog.DeleteLatestEvent("2025-03-08", domain.EventSnooze)
	var notFound *domain.EventNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, domain.EventSnooze, notFound.Type)
}

// recordCheckIn saves a morning check-in for key and returns it.
func recordCheckIn(t *testing.T, eventLog domain.EventLog, key string, at time.Time) *domain.CheckIn {
	t.Helper()
	checkIn := &domain.CheckIn{
		SessionKey: key,
		Kind:       domain.CheckInMorning,
		RecordedAt: at,
		Fields:     map[string]string{"rested": "yes"},
	}
	require.NoError(t, eventLog.SaveCheckIn(checkIn))
	return checkIn
}

func TestEventLog_CheckIns(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	base := time.Date(2025, 3, 9, 6, 0, 0, 0, time.UTC)
	morning := recordCheckIn(t, eventLog, "2025-03-08", base)
	require.NotZero(t, morning.ID)

	preSleep := &domain.CheckIn{
		SessionKey: "2025-03-08",
		Kind:       domain.CheckInPreSleep,
		RecordedAt: base.Add(-8 * time.Hour),
	}
	require.NoError(t, eventLog.SaveCheckIn(preSleep))

	checkIns, err := eventLog.CheckInsForSession("2025-03-08")
	require.NoError(t, err)
	require.Len(t, checkIns, 2)
	require.Equal(t, domain.CheckInPreSleep, checkIns[0].Kind, "ordered by recorded_at")
	require.Equal(t, domain.CheckInMorning, checkIns[1].Kind)
	require.Equal(t, "yes", checkIns[1].Fields["rested"])
	require.Nil(t, checkIns[0].Fields)
}

func TestEventLog_BackfillSessionKeys(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	// A session the legacy event should link to. 22:00 local at UTC-5 on
	// March 8 maps to key 2025-03-08 under the default rollover.
	at := time.Date(2025, 3, 9, 3, 0, 0, 0, time.UTC) // 22:00 at UTC-5
	session, _ := recordDose1(t, eventLog, "2025-03-08", at)

	// A legacy row: no session key, no session link.
	testutil.NewBuilder(t, db.Connection()).
		LegacyEvent(string(domain.EventSnooze), at.Add(20*time.Minute).Unix(), -300).
		Build()

	updated, err := eventLog.BackfillSessionKeys(domain.DefaultRolloverHour)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	events, err := eventLog.EventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventSnooze, events[1].Type())
	require.NotNil(t, events[1].SessionID())
	require.Equal(t, session.ID(), *events[1].SessionID())

	// Idempotent: a second run changes nothing.
	updated, err = eventLog.BackfillSessionKeys(domain.DefaultRolloverHour)
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestEventLog_BackfillSessionKeys_NoMatchingSession(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	// Legacy row for a night with no session row: the key is restored, the
	// link stays NULL.
	at := time.Date(2025, 3, 9, 3, 0, 0, 0, time.UTC)
	testutil.NewBuilder(t, db.Connection()).
		LegacyEvent(string(domain.EventDose1), at.Unix(), -300).
		Build()

	updated, err := eventLog.BackfillSessionKeys(domain.DefaultRolloverHour)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	events, err := eventLog.EventsForSession("2025-03-08")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, events[0].SessionID())

	updated, err = eventLog.BackfillSessionKeys(domain.DefaultRolloverHour)
	require.NoError(t, err)
	require.Zero(t, updated)
}

// TestEventLog_EventsSortedProperty verifies that EventsForSession returns
// timestamp-ascending order for arbitrary insertion orders.
func TestEventLog_EventsSortedProperty(t *testing.T) {
	db := newTestDB(t)
	eventLog := db.EventLog()

	base := time.Date(2025, 3, 8, 18, 0, 0, 0, time.UTC)
	counter := 0

	rapid.Check(t, func(t *rapid.T) {
		counter++
		key := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, counter).Format("2006-01-02")
		session := domain.NewSession(uuid.NewString(), key, base)

		offsets := rapid.SliceOfN(rapid.IntRange(0, 600), 1, 8).Draw(t, "offsets")
		for _, offset := range offsets {
			event := domain.NewDoseEvent(
				uuid.NewString(), domain.EventSnooze, base.Add(time.Duration(offset)*time.Minute),
				key, session.ID(), 0, nil,
			)
			require.NoError(t, eventLog.RecordEvent(event, session))
		}

		events, err := eventLog.EventsForSession(key)
		require.NoError(t, err)
		require.Len(t, events, len(offsets))
		for i := 1; i < len(events); i++ {
			require.False(t, events[i].Timestamp().Before(events[i-1].Timestamp()),
				"events must be ordered by timestamp")
		}
	})
}
