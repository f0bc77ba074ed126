// Package engine is the single-writer orchestrator for dosing sessions.
// Every mutation of session state flows through one Engine guarded by one
// mutex; there is no second write path by construction. Reads are computed
// projections and never persisted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dosetap/dosetap/internal/cachemanager"
	"github.com/dosetap/dosetap/internal/clock"
	"github.com/dosetap/dosetap/internal/config"
	"github.com/dosetap/dosetap/internal/flags"
	"github.com/dosetap/dosetap/internal/log"
	"github.com/dosetap/dosetap/internal/notify"
	"github.com/dosetap/dosetap/internal/pubsub"
	"github.com/dosetap/dosetap/internal/sessions/domain"
	"github.com/dosetap/dosetap/internal/tracing"
)

// plausibleDose2Window is the maximum believable gap between dose 1 and
// dose 2. Summary rows outside it are treated as corrupt and corrected from
// the event log on read; under strict validation the write is rejected.
const plausibleDose2Window = 12 * time.Hour

// eventsCacheTTL bounds staleness of the per-session events cache. Every
// mutation invalidates the touched key, so the TTL only covers external
// writers (a companion process appending to the same database).
const eventsCacheTTL = 5 * time.Minute

// SessionChange is the broker payload published after every successful
// mutation.
type SessionChange struct {
	Key   string
	Phase domain.Phase
}

// SnoozeNotAllowedError indicates a snooze was refused: outside the active
// phase or past the snooze cap.
type SnoozeNotAllowedError struct {
	Phase       domain.Phase
	SnoozeCount int
}

func (e *SnoozeNotAllowedError) Error() string {
	return fmt.Sprintf("snooze not allowed in phase %s (count %d)", e.Phase, e.SnoozeCount)
}

// Snapshot is a read-only projection of one session at an instant.
type Snapshot struct {
	Session *domain.Session
	Window  domain.WindowContext
	Drift   *domain.TimezoneDrift
}

// Options configures an Engine. EventLog is required; everything else has a
// working default.
type Options struct {
	EventLog  domain.EventLog
	Clock     clock.Clock
	Scheduler notify.Scheduler
	Broker    *pubsub.Broker[SessionChange]
	Rules     domain.WindowRules
	Schedule  config.ScheduleConfig
	Flags     *flags.Registry
	Tracer    trace.Tracer

	// SecondaryLocation is an optional independent timezone source
	// cross-checked during drift detection. Nil disables the cross-check.
	SecondaryLocation *time.Location
}

// Engine orchestrates all session mutations. Safe for concurrent use; the
// mutex serializes writers.
type Engine struct {
	mu sync.Mutex

	eventLog  domain.EventLog
	clk       clock.Clock
	scheduler notify.Scheduler
	broker    *pubsub.Broker[SessionChange]
	rules     domain.WindowRules
	schedule  config.ScheduleConfig
	flags     *flags.Registry
	tracer    trace.Tracer
	secondary *time.Location

	events *cachemanager.ReadThroughCache[string, []*domain.DoseEvent, string]
}

// New creates an Engine from options, filling in defaults.
func New(opts Options) *Engine {
	if opts.EventLog == nil {
		panic("engine: EventLog is required")
	}
	e := &Engine{
		eventLog:  opts.EventLog,
		clk:       opts.Clock,
		scheduler: opts.Scheduler,
		broker:    opts.Broker,
		rules:     opts.Rules,
		schedule:  opts.Schedule,
		flags:     opts.Flags,
		tracer:    opts.Tracer,
		secondary: opts.SecondaryLocation,
	}
	if e.clk == nil {
		e.clk = clock.NewSystem()
	}
	if e.scheduler == nil {
		e.scheduler = notify.NewLogScheduler()
	}
	if e.rules == (domain.WindowRules{}) {
		e.rules = domain.DefaultWindowRules()
	}
	if e.schedule.WakeTime == "" {
		e.schedule = config.Defaults().Schedule
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("noop")
	}

	cache := cachemanager.NewInMemoryCacheManager[string, []*domain.DoseEvent](
		"session-events", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval,
	)
	e.events = cachemanager.NewReadThroughCache[string, []*domain.DoseEvent, string](
		cache,
		func(_ context.Context, key string) ([]*domain.DoseEvent, error) {
			return e.eventLog.EventsForSession(key)
		},
		!e.flags.Enabled(flags.FlagEventCache),
	)
	return e
}

// TakeDose records a dose at the given instant. The authoritative event type
// is the timestamp ordinal among the session's existing dose events; the
// caller's is_extra_dose metadata is treated as a hint and the computed
// classification wins on contradiction.
func (e *Engine) TakeDose(ctx context.Context, at time.Time, metadata map[string]string) (*domain.DoseEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"take_dose", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	session, err := e.ensureSession(ctx, at)
	if err != nil {
		return nil, e.spanError(span, err)
	}

	events, err := e.eventLog.EventsForSession(session.Key())
	if err != nil {
		return nil, e.spanError(span, err)
	}

	eventType := domain.ClassifyDose(events, at)
	span.SetAttributes(
		attribute.String(tracing.AttrSessionKey, session.Key()),
		attribute.String(tracing.AttrEventType, string(eventType)),
	)

	hint := metadata[domain.MetaIsExtraDose] == "true"
	if hint != (eventType == domain.EventExtraDose) {
		log.Warn(log.CatInvariant, "Dose classification hint contradicts ordinal",
			"key", session.Key(), "hint_extra", hint, "computed", eventType)
	}

	offset := clock.OffsetMinutes(at, e.clk.Location())
	switch eventType {
	case domain.EventDose1:
		session.RecordDose1(at, offset)
	case domain.EventDose2:
		if e.flags.Enabled(flags.FlagStrictDose2Validation) {
			if err := validateDose2(session.Dose1Time(), at); err != nil {
				return nil, e.spanError(span, err)
			}
		}
		session.RecordDose2(at)
	case domain.EventExtraDose:
		// Extra doses never touch the summary; they exist only in the log.
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata[domain.MetaIsExtraDose] = "true"
	}

	event := domain.NewDoseEvent(uuid.NewString(), eventType, at, session.Key(), session.ID(), offset, metadata)
	if err := e.eventLog.RecordEvent(event, session); err != nil {
		return nil, e.spanError(span, err)
	}

	e.afterMutation(ctx, session, pubsub.UpdatedEvent)

	if eventType == domain.EventDose1 {
		e.scheduleDoseReminders(session)
	}
	if eventType == domain.EventDose2 {
		// The window is complete; pending dose-2 reminders are stale.
		e.cancelReminders(session.Key(), "dose2 recorded")
	}

	log.Info(log.CatEngine, "Dose recorded", "key", session.Key(), "type", eventType, "at", at.Format(time.RFC3339))
	return event, nil
}

// SkipDose2 records an explicit skip. Reminders are cancelled immediately:
// the skip is a user promise that no dose 2 is coming tonight.
func (e *Engine) SkipDose2(ctx context.Context, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"skip_dose2", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	session, err := e.ensureSession(ctx, at)
	if err != nil {
		return e.spanError(span, err)
	}
	span.SetAttributes(attribute.String(tracing.AttrSessionKey, session.Key()))

	session.MarkDose2Skipped()
	offset := clock.OffsetMinutes(at, e.clk.Location())
	event := domain.NewDoseEvent(uuid.NewString(), domain.EventDose2Skipped, at, session.Key(), session.ID(), offset, nil)
	if err := e.eventLog.RecordEvent(event, session); err != nil {
		return e.spanError(span, err)
	}

	e.cancelReminders(session.Key(), "dose2 skipped")
	e.afterMutation(ctx, session, pubsub.UpdatedEvent)

	log.Info(log.CatEngine, "Dose 2 skipped", "key", session.Key())
	return nil
}

// Snooze extends the dose window by one snooze step. Refused outside the
// active phase and past the cap.
func (e *Engine) Snooze(ctx context.Context, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"snooze", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	session, err := e.openSession()
	if err != nil {
		return e.spanError(span, err)
	}
	span.SetAttributes(attribute.String(tracing.AttrSessionKey, session.Key()))

	input := session.WindowInput()
	if !domain.CanSnooze(input, e.rules, at) {
		window := domain.ComputeWindow(input, e.rules, at)
		return e.spanError(span, &SnoozeNotAllowedError{Phase: window.Phase, SnoozeCount: input.SnoozeCount})
	}

	session.IncrementSnooze()
	offset := clock.OffsetMinutes(at, e.clk.Location())
	event := domain.NewDoseEvent(uuid.NewString(), domain.EventSnooze, at, session.Key(), session.ID(), offset, nil)
	if err := e.eventLog.RecordEvent(event, session); err != nil {
		return e.spanError(span, err)
	}

	e.afterMutation(ctx, session, pubsub.UpdatedEvent)
	e.scheduleDoseReminders(session)

	log.Info(log.CatEngine, "Window snoozed", "key", session.Key(), "count", session.SnoozeCount())
	return nil
}

// Undo removes the most recent event of the given type for key and rebuilds
// the session summary from the remaining events. The event log, not the
// summary row, is the authority after an undo.
func (e *Engine) Undo(ctx context.Context, key string, eventType domain.EventType) (*domain.DoseEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"undo", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrSessionKey, key),
		attribute.String(tracing.AttrEventType, string(eventType)),
	)

	if !eventType.IsValid() {
		return nil, e.spanError(span, &domain.InvalidEventTypeError{Type: eventType})
	}

	session, err := e.eventLog.FindSessionByKey(key)
	if err != nil {
		return nil, e.spanError(span, err)
	}

	removed, err := e.eventLog.DeleteLatestEvent(key, eventType)
	if err != nil {
		return nil, e.spanError(span, err)
	}

	remaining, err := e.eventLog.EventsForSession(key)
	if err != nil {
		return nil, e.spanError(span, err)
	}
	session.ApplyDerived(domain.DeriveSummary(remaining))
	if err := e.eventLog.SaveSession(session); err != nil {
		return nil, e.spanError(span, err)
	}

	e.afterMutation(ctx, session, pubsub.UpdatedEvent)
	e.scheduleDoseReminders(session)

	log.Info(log.CatEngine, "Event undone", "key", key, "type", eventType)
	return removed, nil
}

// FinalizeWake records the final wake time. If the morning check-in is
// already complete, the session closes as completed.
func (e *Engine) FinalizeWake(ctx context.Context, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"finalize_wake", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	session, err := e.openSession()
	if err != nil {
		return e.spanError(span, err)
	}
	span.SetAttributes(attribute.String(tracing.AttrSessionKey, session.Key()))

	session.RecordWakeFinal(at)
	e.closeIfComplete(session, at)
	if err := e.eventLog.SaveSession(session); err != nil {
		return e.spanError(span, err)
	}

	e.afterMutation(ctx, session, eventTypeFor(session))
	log.Info(log.CatEngine, "Wake finalized", "key", session.Key(), "closed", !session.IsOpen())
	return nil
}

// CompleteCheckIn saves a check-in record. A morning check-in marks the
// session's check-in complete; if wake is already finalized, the session
// closes as completed.
func (e *Engine) CompleteCheckIn(ctx context.Context, at time.Time, kind domain.CheckInKind, fields map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"complete_checkin", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	session, err := e.openSession()
	if err != nil {
		return e.spanError(span, err)
	}
	span.SetAttributes(attribute.String(tracing.AttrSessionKey, session.Key()))

	if !kind.IsValid() {
		return e.spanError(span, fmt.Errorf("invalid check-in kind %q", kind))
	}

	checkIn := &domain.CheckIn{
		SessionKey: session.Key(),
		Kind:       kind,
		RecordedAt: at,
		Fields:     fields,
	}
	if err := e.eventLog.SaveCheckIn(checkIn); err != nil {
		return e.spanError(span, err)
	}

	if kind == domain.CheckInMorning {
		session.MarkCheckInCompleted()
		e.closeIfComplete(session, at)
		if err := e.eventLog.SaveSession(session); err != nil {
			return e.spanError(span, err)
		}
	}

	e.afterMutation(ctx, session, eventTypeFor(session))
	log.Info(log.CatEngine, "Check-in recorded", "key", session.Key(), "kind", kind, "closed", !session.IsOpen())
	return nil
}

// EvaluateBoundaries applies the time-boundary close triggers to the open
// session: the missed check-in cutoff (wake time plus grace) takes
// precedence over the evening prep rollover. No open session is a no-op.
func (e *Engine) EvaluateBoundaries(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluateBoundariesLocked(ctx, now)
}

func (e *Engine) evaluateBoundariesLocked(ctx context.Context, now time.Time) error {
	session, err := e.openSessionQuiet()
	if err != nil || session == nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"evaluate_boundaries", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrSessionKey, session.Key()))

	cutoff := e.nextOccurrence(session.Start(), e.schedule.WakeTime).
		Add(time.Duration(e.schedule.CheckInGraceHours) * time.Hour)
	prep := e.nextOccurrence(session.Start(), e.schedule.PrepTime)

	var state domain.TerminalState
	switch {
	case !now.Before(cutoff):
		state = domain.TerminalIncompleteMissedCheckIn
	case !now.Before(prep):
		state = domain.TerminalIncompletePrepRollover
	default:
		return nil
	}

	session.Close(state, now)
	if err := e.eventLog.SaveSession(session); err != nil {
		return e.spanError(span, err)
	}
	span.SetAttributes(attribute.String(tracing.AttrTerminalState, string(state)))

	// Close always cancels, whatever the trigger.
	e.cancelReminders(session.Key(), string(state))
	e.afterMutation(ctx, session, pubsub.ClosedEvent)

	log.Info(log.CatEngine, "Session closed at boundary", "key", session.Key(), "state", state)
	return nil
}

// Poll is the periodic evaluation: sleep-through auto-expiry, boundary
// close triggers, and timezone-drift detection. It returns the detected
// drift, nil when the clock agrees with the dose-1 offset.
func (e *Engine) Poll(ctx context.Context, now time.Time) (*domain.TimezoneDrift, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"poll", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := e.sleepThroughCheck(ctx, now); err != nil {
		return nil, e.spanError(span, err)
	}
	if err := e.evaluateBoundariesLocked(ctx, now); err != nil {
		return nil, e.spanError(span, err)
	}

	drift, err := e.detectDrift(now)
	if err != nil {
		return nil, e.spanError(span, err)
	}
	if drift != nil {
		span.SetAttributes(attribute.Int(tracing.AttrTZDriftMinutes, drift.DeltaMinutes))
		log.Warn(log.CatWindow, "Timezone drift detected",
			"delta_minutes", drift.DeltaMinutes, "sources_disagree", drift.SourcesDisagree)
	}
	return drift, nil
}

// sleepThroughCheck auto-expires an open session whose dose window closed
// with no dose 2 and no skip. A closed phase already implies dose 1 was
// taken and the window plus snooze grace is exhausted; expiry fires on the
// first poll after that, not at the morning wake boundary. The detection
// itself records the skip so the event log explains the closure.
func (e *Engine) sleepThroughCheck(ctx context.Context, now time.Time) error {
	session, err := e.openSessionQuiet()
	if err != nil || session == nil {
		return err
	}

	window := domain.ComputeWindow(session.WindowInput(), e.rules, now)
	if window.Phase != domain.PhaseClosed {
		return nil
	}

	offset := clock.OffsetMinutes(now, e.clk.Location())
	event := domain.NewDoseEvent(
		uuid.NewString(), domain.EventDose2Skipped, now, session.Key(), session.ID(), offset,
		map[string]string{domain.MetaReason: domain.ReasonSleptThrough},
	)
	session.MarkDose2Skipped()
	session.Close(domain.TerminalExpiredSleptThrough, now)
	if err := e.eventLog.RecordEvent(event, session); err != nil {
		return err
	}

	e.cancelReminders(session.Key(), "slept through")
	e.afterMutation(ctx, session, pubsub.ClosedEvent)

	log.Info(log.CatEngine, "Session auto-expired after sleep-through", "key", session.Key())
	return nil
}

// DeleteSession removes a session and its dependent rows atomically and
// cancels reminders unconditionally: whether or not the deleted session was
// the open one, no signal may survive its subject.
func (e *Engine) DeleteSession(ctx context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"delete_session", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrSessionKey, key))

	if err := e.eventLog.DeleteSession(key); err != nil {
		// The cancel still happens: a stale reminder for a half-deleted
		// night is worse than a redundant cancel.
		e.cancelReminders(key, "session delete")
		return e.spanError(span, err)
	}

	e.cancelReminders(key, "session delete")
	_ = e.events.Invalidate(ctx, key)
	if e.broker != nil {
		e.broker.Publish(pubsub.DeletedEvent, SessionChange{Key: key})
	}

	log.Info(log.CatEngine, "Session deleted", "key", key)
	return nil
}

// Backfill restores session keys and session links on legacy event rows.
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"backfill", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	updated, err := e.eventLog.BackfillSessionKeys(e.schedule.RolloverHour)
	if err != nil {
		return 0, e.spanError(span, err)
	}
	if updated > 0 {
		// Any cached event list may now be stale.
		_ = e.events.Flush(ctx)
	}
	return updated, nil
}

// Context returns the projection of the current night: the open session if
// one exists, otherwise the most recent session. Never mutates state.
func (e *Engine) Context(ctx context.Context, now time.Time) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := e.openSessionQuiet()
	if err != nil {
		return nil, err
	}
	if session == nil {
		recent, err := e.eventLog.Sessions(1)
		if err != nil {
			return nil, err
		}
		if len(recent) == 0 {
			return nil, &domain.NoOpenSessionError{}
		}
		session = e.reconcile(recent[0])
	}

	return e.snapshot(session, now)
}

// SessionSnapshot returns the projection of one specific night.
func (e *Engine) SessionSnapshot(ctx context.Context, key string, now time.Time) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, err := e.eventLog.FindSessionByKey(key)
	if err != nil {
		return nil, err
	}
	return e.snapshot(e.reconcile(session), now)
}

// History lists sessions, newest night first. A limit of 0 lists all.
func (e *Engine) History(ctx context.Context, limit int) ([]*domain.Session, error) {
	return e.eventLog.Sessions(limit)
}

// Events returns the session's events, via the read-through cache when the
// event-cache flag is on.
func (e *Engine) Events(ctx context.Context, key string) ([]*domain.DoseEvent, error) {
	return e.events.Get(ctx, key, key, eventsCacheTTL)
}

// CheckIns returns a session's check-in records.
func (e *Engine) CheckIns(ctx context.Context, key string) ([]*domain.CheckIn, error) {
	return e.eventLog.CheckInsForSession(key)
}

// NextWake returns the next instant the scheduler should fire: the earliest
// of the next session-key rollover, the next prep boundary, and the open
// session's missed check-in cutoff. The second return names the boundary.
func (e *Engine) NextWake(now time.Time) (time.Time, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	loc := e.clk.Location()
	next := time.Date(now.In(loc).Year(), now.In(loc).Month(), now.In(loc).Day(),
		e.schedule.RolloverHour, 0, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	reason := "rollover"

	if prep := e.nextOccurrence(now, e.schedule.PrepTime); prep.Before(next) {
		next, reason = prep, "prep"
	}

	if session, err := e.openSessionQuiet(); err == nil && session != nil {
		cutoff := e.nextOccurrence(session.Start(), e.schedule.WakeTime).
			Add(time.Duration(e.schedule.CheckInGraceHours) * time.Hour)
		if cutoff.After(now) && cutoff.Before(next) {
			next, reason = cutoff, "checkin-cutoff"
		}
	}
	return next, reason
}

// ensureSession returns the session owning the instant at, creating it when
// the night has no session yet. Stale open sessions are closed first; one
// that survives the boundary pass still owns the instant, whatever key the
// timestamp resolves to. At most one session is ever open.
func (e *Engine) ensureSession(ctx context.Context, at time.Time) (*domain.Session, error) {
	if err := e.evaluateBoundariesLocked(ctx, at); err != nil {
		return nil, err
	}

	open, err := e.openSessionQuiet()
	if err != nil {
		return nil, err
	}
	if open != nil {
		return open, nil
	}

	key := domain.SessionKey(at, e.clk.Location(), e.schedule.RolloverHour)
	session, err := e.eventLog.FindSessionByKey(key)
	var notFound *domain.SessionNotFoundError
	if errors.As(err, &notFound) {
		return domain.NewSession(uuid.NewString(), key, at), nil
	}
	if err != nil {
		return nil, err
	}
	return e.reconcile(session), nil
}

// openSession returns the open session or NoOpenSessionError.
func (e *Engine) openSession() (*domain.Session, error) {
	session, err := e.eventLog.OpenSession()
	if err != nil {
		return nil, err
	}
	return e.reconcile(session), nil
}

// openSessionQuiet is openSession with NoOpenSessionError mapped to nil.
func (e *Engine) openSessionQuiet() (*domain.Session, error) {
	session, err := e.openSession()
	var noOpen *domain.NoOpenSessionError
	if errors.As(err, &noOpen) {
		return nil, nil
	}
	return session, err
}

// reconcile applies the read-time corruption policy: a dose-2 summary value
// chronologically implausible relative to dose 1 is cleared and the
// correction persisted. The event log keeps the full record either way.
func (e *Engine) reconcile(session *domain.Session) *domain.Session {
	if validateDose2(session.Dose1Time(), deref(session.Dose2Time())) == nil {
		return session
	}

	log.Warn(log.CatInvariant, "Implausible dose2 summary cleared",
		"key", session.Key())
	session.ClearDose2()
	if err := e.eventLog.SaveSession(session); err != nil {
		log.ErrorErr(log.CatDB, "Failed to persist dose2 correction", err, "key", session.Key())
	}
	return session
}

// validateDose2 checks dose-2 plausibility against dose 1. A zero dose2
// (absent) is always valid.
func validateDose2(dose1 *time.Time, dose2 time.Time) error {
	if dose1 == nil || dose2.IsZero() {
		return nil
	}
	delta := dose2.Sub(*dose1)
	if delta < 0 || delta > plausibleDose2Window {
		return &domain.ImplausibleDose2Error{Dose1: *dose1, Dose2: dose2}
	}
	return nil
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// snapshot builds the read projection for one session.
func (e *Engine) snapshot(session *domain.Session, now time.Time) (*Snapshot, error) {
	window := domain.ComputeWindow(session.WindowInput(), e.rules, now)
	drift, err := e.driftFor(session, now)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Session: session, Window: window, Drift: drift}, nil
}

// detectDrift checks the open session for timezone drift.
func (e *Engine) detectDrift(now time.Time) (*domain.TimezoneDrift, error) {
	session, err := e.openSessionQuiet()
	if err != nil || session == nil {
		return nil, err
	}
	return e.driftFor(session, now)
}

func (e *Engine) driftFor(session *domain.Session, now time.Time) (*domain.TimezoneDrift, error) {
	offset := session.Dose1TZOffsetMinutes()
	if offset == nil {
		return nil, nil
	}
	return domain.DetectTimezoneDrift(now, e.clk.Location(), e.secondary, *offset), nil
}

// closeIfComplete closes the session as completed once both wake finalize
// and the morning check-in are done. A night whose dose 2 was skipped closes
// as skipped instead.
func (e *Engine) closeIfComplete(session *domain.Session, at time.Time) {
	if session.WakeFinalTime() == nil || !session.CheckInCompleted() {
		return
	}
	state := domain.TerminalCompleted
	if session.Dose2Skipped() && session.Dose2Time() == nil {
		state = domain.TerminalSkipped
	}
	session.Close(state, at)
	e.cancelReminders(session.Key(), string(state))
}

// afterMutation invalidates the events cache for the touched key and
// publishes the change.
func (e *Engine) afterMutation(ctx context.Context, session *domain.Session, eventType pubsub.EventType) {
	_ = e.events.Invalidate(ctx, session.Key())
	if e.broker == nil {
		return
	}
	window := domain.ComputeWindow(session.WindowInput(), e.rules, e.clk.Now())
	e.broker.Publish(eventType, SessionChange{Key: session.Key(), Phase: window.Phase})
}

// eventTypeFor maps session open state to the published event type.
func eventTypeFor(session *domain.Session) pubsub.EventType {
	if session.IsOpen() {
		return pubsub.UpdatedEvent
	}
	return pubsub.ClosedEvent
}

// cancelReminders cancels the complete versioned identifier list. Callers
// never pick a subset; stale identifiers from older versions are included.
func (e *Engine) cancelReminders(key, reason string) {
	if err := e.scheduler.Cancel(notify.ReminderIdentifiers()); err != nil {
		log.ErrorErr(log.CatNotify, "Failed to cancel reminders", err, "key", key, "reason", reason)
	}
}

// scheduleDoseReminders schedules the dose-2 reminders for the session's
// current window. Existing reminders with the same identifiers are replaced.
func (e *Engine) scheduleDoseReminders(session *domain.Session) {
	dose1 := session.Dose1Time()
	if dose1 == nil || session.Dose2Time() != nil || session.Dose2Skipped() {
		return
	}

	windowOpen := dose1.Add(time.Duration(e.rules.MinIntervalMinutes) * time.Minute)
	nearClose := dose1.Add(time.Duration(
		e.rules.EffectiveMaxMinutes(session.SnoozeCount())-e.rules.NearCloseThresholdMinutes) * time.Minute)
	wake := e.nextOccurrence(session.Start(), e.schedule.WakeTime)

	reminders := []notify.Reminder{
		{ID: notify.IDDose2Window, At: windowOpen, Message: "Dose window open"},
		{ID: notify.IDDose2NearClose, At: nearClose, Message: "Dose window closing soon"},
		{ID: notify.IDWakeAlarm, At: wake, Message: "Final wake"},
		{ID: notify.IDCheckInPrompt, At: wake.Add(30 * time.Minute), Message: "Morning check-in"},
	}
	if err := e.scheduler.Schedule(reminders); err != nil {
		log.ErrorErr(log.CatNotify, "Failed to schedule reminders", err, "key", session.Key())
	}
}

// nextOccurrence returns the first instant strictly after `after` whose
// local wall time equals the HH:MM schedule entry.
func (e *Engine) nextOccurrence(after time.Time, clockTime string) time.Time {
	hour, minute, err := config.ParseClockTime(clockTime)
	if err != nil {
		// Validated at startup; fall back to midnight rather than panic.
		log.Error(log.CatConfig, "Invalid schedule time", "value", clockTime)
		hour, minute = 0, 0
	}
	loc := e.clk.Location()
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// spanError records err on the span and returns it unchanged.
func (e *Engine) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
